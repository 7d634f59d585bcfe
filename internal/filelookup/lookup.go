// Package filelookup implements spec §4.2: given a partition id, fetch
// its live files grouped by compaction level in deterministic order.
package filelookup

import (
	"context"
	"fmt"

	"github.com/aalhour/tsdbcompactor/internal/catalog"
)

// Error wraps a catalog failure encountered during lookup (spec §4.2:
// "fails with LookupError on catalog unavailability").
type Error struct {
	Partition catalog.PartitionID
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("filelookup: partition %d: %v", e.Partition, e.Err)
}
func (e *Error) Unwrap() error { return e.Err }

// Result is the live files for one partition, grouped by level. Within
// each level, files are ordered (max_sequence_number ASC, min_time ASC)
// — catalog.ParquetFileRepo already returns them in that order, so
// Result simply reflects it.
type Result struct {
	Partition *catalog.Partition
	Level0    []*catalog.File
	Level1    []*catalog.File
	Level2    []*catalog.File
}

// Lookup fetches a partition's metadata and its live (not-to-delete)
// files grouped by level.
func Lookup(ctx context.Context, partitions catalog.PartitionRepo, files catalog.ParquetFileRepo, id catalog.PartitionID) (*Result, error) {
	p, err := partitions.GetByID(ctx, id)
	if err != nil {
		return nil, &Error{Partition: id, Err: err}
	}

	all, err := files.ListByPartitionNotToDelete(ctx, id)
	if err != nil {
		return nil, &Error{Partition: id, Err: err}
	}

	res := &Result{Partition: p}
	for _, f := range all {
		switch f.CompactionLevel {
		case catalog.LevelInitial:
			res.Level0 = append(res.Level0, f)
		case catalog.LevelFileNonOverlapped:
			res.Level1 = append(res.Level1, f)
		case catalog.LevelFinal:
			res.Level2 = append(res.Level2, f)
		}
	}
	return res, nil
}
