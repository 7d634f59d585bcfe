package engine

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
)

// group is a thin wrapper around errgroup.Group so plan.go doesn't need
// to import errgroup directly in every node file; it exists purely to
// keep the exec(ctx, g) signature short.
type group struct {
	eg *errgroup.Group
}

func (g *group) Go(fn func() error) { g.eg.Go(fn) }

func stableSort(rows []Row, less func(i, j int) bool) {
	sort.SliceStable(rows, less)
}

// Run executes a plan rooted at root to completion and returns the
// final batch it produced. It is the synchronous entry point the
// combiner uses: build a plan, call Run, inspect the result (and any
// ParquetWrite.Result fields wired into the plan).
func Run(ctx context.Context, root Node) (*Batch, error) {
	eg, ctx := errgroup.WithContext(ctx)
	g := &group{eg: eg}

	out, err := root.exec(ctx, g)
	if err != nil {
		return nil, err
	}

	var result *Batch
	eg.Go(func() error {
		select {
		case b, ok := <-out:
			if ok {
				result = b
			}
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if result == nil {
		result = &Batch{}
	}
	return result, nil
}
