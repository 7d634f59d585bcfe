package engine

import (
	"context"
)

// Node is one stage of an execution plan. exec wires the node into the
// running pipeline: it starts whatever goroutines it needs (via g, so
// their errors are collected together) and returns the channel its
// output flows on. The channel is closed when the node is done, whether
// normally or due to ctx cancellation.
type Node interface {
	exec(ctx context.Context, g *group) (<-chan *Batch, error)
}

// ParquetScan reads one object-store object and decodes it into a
// single batch. It is the leaf of every plan the combiner builds.
type ParquetScan struct {
	Path  string
	Fetch func(ctx context.Context, path string) ([]byte, error)
	// SourceSeq is stamped onto every row decoded from this file so
	// Deduplicate can resolve winners by source file sequence number.
	SourceSeq int64
}

func (n ParquetScan) exec(ctx context.Context, g *group) (<-chan *Batch, error) {
	out := make(chan *Batch, 1)
	g.Go(func() error {
		defer close(out)
		data, err := n.Fetch(ctx, n.Path)
		if err != nil {
			return err
		}
		b, err := DecodeBatch(data)
		if err != nil {
			return err
		}
		for i := range b.Rows {
			b.Rows[i].SourceSeq = n.SourceSeq
		}
		select {
		case out <- b:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	return out, nil
}

// Literal injects an already-built batch into a plan. The combiner uses
// it to feed a post-split batch into ParquetWrite without re-running
// the upstream merge/dedup for each output half.
type Literal struct {
	Batch *Batch
}

func (n Literal) exec(ctx context.Context, g *group) (<-chan *Batch, error) {
	out := make(chan *Batch, 1)
	g.Go(func() error {
		defer close(out)
		select {
		case out <- n.Batch:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	return out, nil
}

// UnionInputs fans multiple upstream nodes into one channel. Every
// input's goroutine is started immediately (so file fetches happen
// concurrently), but batches are forwarded downstream in Inputs order,
// not arrival order: the combiner relies on that ordering to implement
// "higher sequence number wins" purely through SortPreservingMerge's
// stable sort (spec §4.5 stage 2), so union must not reshuffle rows
// across files.
type UnionInputs struct {
	Inputs []Node
}

func (n UnionInputs) exec(ctx context.Context, g *group) (<-chan *Batch, error) {
	out := make(chan *Batch, len(n.Inputs))
	chans := make([]<-chan *Batch, len(n.Inputs))
	for i, in := range n.Inputs {
		ch, err := in.exec(ctx, g)
		if err != nil {
			return nil, err
		}
		chans[i] = ch
	}

	g.Go(func() error {
		defer close(out)
		for _, ch := range chans {
		drain:
			for {
				select {
				case b, ok := <-ch:
					if !ok {
						break drain
					}
					select {
					case out <- b:
					case <-ctx.Done():
						return ctx.Err()
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		return nil
	})
	return out, nil
}

// SortPreservingMerge gathers every upstream batch, flattens their rows
// and emits one batch sorted by sortKey. It assumes upstream inputs are
// already individually sorted in source order; the merge here is by
// value, not by a k-way streaming merge, since a combiner's whole input
// set for one partition is bounded by the memory budget that admitted
// it in the first place (spec §4.1/§4.7).
type SortPreservingMerge struct {
	Input   Node
	SortKey []string
}

func (n SortPreservingMerge) exec(ctx context.Context, g *group) (<-chan *Batch, error) {
	in, err := n.Input.exec(ctx, g)
	if err != nil {
		return nil, err
	}
	out := make(chan *Batch, 1)
	g.Go(func() error {
		defer close(out)
		var rows []Row
		for {
			select {
			case b, ok := <-in:
				if !ok {
					goto merged
				}
				rows = append(rows, b.Rows...)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	merged:
		stableSortBySortKey(rows, n.SortKey)
		select {
		case out <- &Batch{Rows: rows}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	return out, nil
}

// Deduplicate resolves row identity collisions per spec §3 invariant 2:
// the row from the highest SourceSeq wins; within the same source file,
// the later row in sort-key order wins. It relies on its input already
// being ordered by ascending SourceSeq-then-sort-key (the order
// SortPreservingMerge's caller is responsible for establishing — see
// the combiner's combineGroup) and keeps the LAST row seen per identity key.
type Deduplicate struct {
	Input Node
}

func (n Deduplicate) exec(ctx context.Context, g *group) (<-chan *Batch, error) {
	in, err := n.Input.exec(ctx, g)
	if err != nil {
		return nil, err
	}
	out := make(chan *Batch, 1)
	g.Go(func() error {
		defer close(out)
		var b *Batch
		select {
		case v, ok := <-in:
			if !ok {
				return nil
			}
			b = v
		case <-ctx.Done():
			return ctx.Err()
		}

		winners := make(map[string]Row, len(b.Rows))
		order := make([]string, 0, len(b.Rows))
		for _, r := range b.Rows {
			key := r.IdentityKey()
			if _, ok := winners[key]; !ok {
				order = append(order, key)
			}
			winners[key] = r // last write per key wins
		}
		deduped := make([]Row, 0, len(order))
		for _, key := range order {
			deduped = append(deduped, winners[key])
		}
		select {
		case out <- &Batch{Rows: deduped}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	return out, nil
}

// Filter drops rows that do not satisfy Keep, used to implement
// OptionalSplit's two halves.
type Filter struct {
	Input Node
	Keep  func(Row) bool
}

func (n Filter) exec(ctx context.Context, g *group) (<-chan *Batch, error) {
	in, err := n.Input.exec(ctx, g)
	if err != nil {
		return nil, err
	}
	out := make(chan *Batch, 1)
	g.Go(func() error {
		defer close(out)
		select {
		case b, ok := <-in:
			if !ok {
				return nil
			}
			var kept []Row
			for _, r := range b.Rows {
				if n.Keep(r) {
					kept = append(kept, r)
				}
			}
			select {
			case out <- &Batch{Rows: kept}:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	return out, nil
}

// Project keeps only the named tag/field columns, used when a combine
// output should not carry columns nothing downstream reads. Unused by
// the combiner today but kept as a first-class node since spec §6.3
// names it explicitly.
type Project struct {
	Input   Node
	Columns []string
}

func (n Project) exec(ctx context.Context, g *group) (<-chan *Batch, error) {
	in, err := n.Input.exec(ctx, g)
	if err != nil {
		return nil, err
	}
	keep := make(map[string]bool, len(n.Columns))
	for _, c := range n.Columns {
		keep[c] = true
	}
	out := make(chan *Batch, 1)
	g.Go(func() error {
		defer close(out)
		select {
		case b, ok := <-in:
			if !ok {
				return nil
			}
			projected := make([]Row, len(b.Rows))
			for i, r := range b.Rows {
				pr := Row{Tags: map[string]string{}, Fields: map[string]interface{}{}, Time: r.Time, SourceSeq: r.SourceSeq}
				for k, v := range r.Tags {
					if keep[k] {
						pr.Tags[k] = v
					}
				}
				for k, v := range r.Fields {
					if keep[k] {
						pr.Fields[k] = v
					}
				}
				projected[i] = pr
			}
			select {
			case out <- &Batch{Rows: projected}:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	return out, nil
}

func stableSortBySortKey(rows []Row, sortKey []string) {
	stableSort(rows, func(i, j int) bool {
		return rows[i].SortKeyValue(sortKey) < rows[j].SortKeyValue(sortKey)
	})
}

// OptionalSplit divides its input into two batches by time threshold
// splitAt: rows with Time < splitAt go to the first output, the rest to
// the second (spec §4.5 step 3). The combiner does not use this node; it
// splits hot outputs itself (see internal/combiner/split.go).
type OptionalSplit struct {
	Input   Node
	SplitAt int64
}

// Exec1 and Exec2 return the plan nodes for the two halves. Each is an
// independent Filter over Input, so each can be run on its own; running
// both executes Input once per half.
func (n OptionalSplit) Exec1() Node { return Filter{Input: n.Input, Keep: func(r Row) bool { return r.Time < n.SplitAt }} }
func (n OptionalSplit) Exec2() Node {
	return Filter{Input: n.Input, Keep: func(r Row) bool { return r.Time >= n.SplitAt }}
}

// ParquetWrite drains its input, encodes the resulting batch, and
// writes it to the object store at Path via Put. The written batch is
// also forwarded downstream so the caller can derive catalog metadata
// (min/max time, row count) from the same values that were written,
// and Result is populated with the size Put reported.
type ParquetWrite struct {
	Input  Node
	Path   string
	Put    func(ctx context.Context, path string, data []byte) (sizeBytes int64, err error)
	Result *WriteResult
}

// WriteResult is the outcome of running a ParquetWrite node to
// completion.
type WriteResult struct {
	Path      string
	SizeBytes int64
}

func (n ParquetWrite) exec(ctx context.Context, g *group) (<-chan *Batch, error) {
	in, err := n.Input.exec(ctx, g)
	if err != nil {
		return nil, err
	}
	out := make(chan *Batch, 1)
	g.Go(func() error {
		defer close(out)
		var b *Batch
		select {
		case v, ok := <-in:
			if !ok {
				b = &Batch{}
			} else {
				b = v
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		data, err := EncodeBatch(b)
		if err != nil {
			return err
		}
		size, err := n.Put(ctx, n.Path, data)
		if err != nil {
			return err
		}
		if n.Result != nil {
			n.Result.Path = n.Path
			n.Result.SizeBytes = size
		}

		select {
		case out <- b:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	return out, nil
}
