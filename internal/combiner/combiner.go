// Package combiner implements spec §4.5: the merge/dedup/split pipeline
// that turns a filefilter.Filtered selection into one or more output
// files at the target level, and the promotion shortcut of spec §4.4.
package combiner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aalhour/tsdbcompactor/internal/catalog"
	"github.com/aalhour/tsdbcompactor/internal/engine"
	"github.com/aalhour/tsdbcompactor/internal/filefilter"
	"github.com/aalhour/tsdbcompactor/internal/logging"
	"github.com/aalhour/tsdbcompactor/internal/metrics"
	"github.com/aalhour/tsdbcompactor/internal/objectstore"
)

// Config is the subset of spec §6.4's options the combiner consults.
type Config struct {
	MaxDesiredFileSizeBytes    int64
	PercentageMaxFileSize      int64 // 0-100
	SplitPercentage            int64 // 0-100
	ColdMaxDesiredFileSizeBytes int64
}

// Deps are the combiner's external collaborators.
type Deps struct {
	Catalog catalog.Repository
	Objects objectstore.Store
	Config  Config
	Metrics *metrics.Metrics
	Log     logging.Logger

	// NewObjectID is overridable in tests; defaults to uuid.New.
	NewObjectID func() uuid.UUID
	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

func (d *Deps) newObjectID() uuid.UUID {
	if d.NewObjectID != nil {
		return d.NewObjectID()
	}
	return uuid.New()
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) logger() logging.Logger {
	if d.Log == nil {
		return logging.Discard
	}
	return d.Log
}

// Result summarizes one Combine call for the caller's logging/metrics.
type Result struct {
	OutputFiles []*catalog.File
	InputFiles  []catalog.FileID
	Promoted    bool
}

func path(namespace catalog.NamespaceID, table catalog.TableID, shard catalog.ShardID, partition catalog.PartitionID, id uuid.UUID) objectstore.Path {
	return objectstore.Path(fmt.Sprintf("%d/%d/%d/%d/%s.parquet", namespace, table, shard, partition, id))
}

// Promote implements spec §4.4: a singleton selection already below the
// target level is upgraded in the catalog with no data rewrite.
func Promote(ctx context.Context, files catalog.ParquetFileRepo, id catalog.FileID, target catalog.CompactionLevel) error {
	return files.UpdateCompactionLevel(ctx, []catalog.FileID{id}, target)
}

// Combine runs the full merge/dedup/split pipeline for one filtered
// selection and atomically swaps the results into the catalog.
func Combine(ctx context.Context, d Deps, table *catalog.Table, filtered filefilter.Filtered) (Result, error) {
	if len(filtered.Files) == 0 {
		return Result{}, nil
	}
	if len(filtered.Files) == 1 && filtered.Files[0].CompactionLevel < filtered.TargetLevel {
		// Single input already isolated: promotion path, no rewrite
		// (spec §4.4).
		f := filtered.Files[0]
		if err := Promote(ctx, d.Catalog.ParquetFiles(), f.ID, filtered.TargetLevel); err != nil {
			return Result{}, fmt.Errorf("combiner: promote: %w", err)
		}
		return Result{InputFiles: []catalog.FileID{f.ID}, Promoted: true}, nil
	}

	sortKey, err := resolveSortKey(ctx, d.Catalog, filtered.Partition, filtered.Files, table)
	if err != nil {
		return Result{}, fmt.Errorf("combiner: resolve sort key: %w", err)
	}

	var groups [][]*catalog.File
	switch filtered.TargetLevel {
	case catalog.LevelFileNonOverlapped:
		groups = [][]*catalog.File{filtered.Files}
	case catalog.LevelFinal:
		groups = coldBinPack(filtered.Files, d.Config.ColdMaxDesiredFileSizeBytes)
	default:
		groups = [][]*catalog.File{filtered.Files}
	}

	var outputs []*catalog.File
	var promotedIDs []catalog.FileID
	for _, group := range groups {
		if len(group) == 1 {
			// A bin-packed singleton group takes the promotion path
			// too (spec §4.5 stage 3's cold bin-packing note).
			f := group[0]
			if f.CompactionLevel < filtered.TargetLevel {
				if err := Promote(ctx, d.Catalog.ParquetFiles(), f.ID, filtered.TargetLevel); err != nil {
					return Result{}, fmt.Errorf("combiner: promote group: %w", err)
				}
				promotedIDs = append(promotedIDs, f.ID)
				continue
			}
		}

		groupOutputs, err := combineGroup(ctx, d, table, filtered.Partition, group, sortKey, filtered.TargetLevel)
		if err != nil {
			return Result{}, err
		}
		outputs = append(outputs, groupOutputs...)
	}

	nonPromoted := make([]*catalog.File, 0, len(filtered.Files))
	promotedSet := map[catalog.FileID]bool{}
	for _, id := range promotedIDs {
		promotedSet[id] = true
	}
	for _, f := range filtered.Files {
		if !promotedSet[f.ID] {
			nonPromoted = append(nonPromoted, f)
		}
	}

	if len(outputs) == 0 && len(nonPromoted) == 0 {
		return Result{InputFiles: promotedIDs, Promoted: len(outputs) == 0}, nil
	}

	if err := swapCatalog(ctx, d.Catalog, nonPromoted, outputs); err != nil {
		return Result{}, fmt.Errorf("combiner: catalog swap: %w", err)
	}

	inputIDs := make([]catalog.FileID, 0, len(filtered.Files))
	for _, f := range filtered.Files {
		inputIDs = append(inputIDs, f.ID)
	}
	return Result{OutputFiles: outputs, InputFiles: inputIDs}, nil
}

// combineGroup runs UnionInputs -> SortPreservingMerge -> Deduplicate
// over one group of input files, decides whether to split the result,
// and writes the resulting output file(s). It does not touch the
// catalog; Combine does that once for every group in a single
// transaction (spec §4.5 step 5).
func combineGroup(ctx context.Context, d Deps, table *catalog.Table, partition *catalog.Partition, group []*catalog.File, sortKey []string, targetLevel catalog.CompactionLevel) ([]*catalog.File, error) {
	ordered := append([]*catalog.File(nil), group...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].MaxSequenceNumber < ordered[j].MaxSequenceNumber })

	scans := make([]engine.Node, len(ordered))
	for i, f := range ordered {
		f := f
		scans[i] = engine.ParquetScan{
			Path:      string(path(table.NamespaceID, table.ID, partition.ShardID, partition.ID, f.ObjectStoreID)),
			SourceSeq: f.MaxSequenceNumber,
			Fetch: func(ctx context.Context, p string) ([]byte, error) {
				return d.Objects.Get(ctx, objectstore.Path(p))
			},
		}
	}

	merged := engine.Deduplicate{Input: engine.SortPreservingMerge{
		Input:   engine.UnionInputs{Inputs: scans},
		SortKey: sortKey,
	}}

	dedupBatch, err := engine.Run(ctx, merged)
	if err != nil {
		return nil, fmt.Errorf("combiner: merge/dedup: %w", err)
	}
	if len(dedupBatch.Rows) == 0 {
		// All rows deduplicated away: still nothing to write, inputs
		// are flagged to-delete by the caller (spec §4.5 edge case).
		return nil, nil
	}

	maxSeq := dedupBatch.MaxSourceSeq()
	columnSet := columnTypesFor(dedupBatch, table)

	var splits [][]engine.Row
	if targetLevel == catalog.LevelFileNonOverlapped && !fitsSingleOutput(ordered, d.Config) {
		minT, maxT, _ := dedupBatch.TimeRange()
		tSplit := timeSplitPoint(minT, maxT, d.Config.SplitPercentage)
		var first, second []engine.Row
		for _, r := range dedupBatch.Rows {
			if r.Time < tSplit {
				first = append(first, r)
			} else {
				second = append(second, r)
			}
		}
		splits = [][]engine.Row{first, second}
	} else {
		splits = [][]engine.Row{dedupBatch.Rows}
	}

	var outputs []*catalog.File
	for _, rows := range splits {
		if len(rows) == 0 {
			continue
		}
		batch := &engine.Batch{Rows: rows}
		minT, maxT, _ := batch.TimeRange()
		objID := d.newObjectID()
		p := path(table.NamespaceID, table.ID, partition.ShardID, partition.ID, objID)

		var written engine.WriteResult
		writePlan := engine.ParquetWrite{
			Input: engine.Literal{Batch: batch},
			Path:  string(p),
			Put: func(ctx context.Context, path string, data []byte) (int64, error) {
				if err := d.Objects.Put(ctx, objectstore.Path(path), data); err != nil {
					return 0, err
				}
				return int64(len(data)), nil
			},
			Result: &written,
		}
		if _, err := engine.Run(ctx, writePlan); err != nil {
			return nil, fmt.Errorf("combiner: write output: %w", err)
		}

		outputs = append(outputs, &catalog.File{
			PartitionID:       partition.ID,
			ObjectStoreID:     objID,
			MinTime:           time.Unix(0, minT),
			MaxTime:           time.Unix(0, maxT),
			MaxSequenceNumber: maxSeq,
			RowCount:          int64(len(rows)),
			SizeBytes:         written.SizeBytes,
			ColumnSet:         columnSet,
			CompactionLevel:   targetLevel,
			CreatedAt:         d.now(),
		})
	}
	return outputs, nil
}

func columnTypesFor(b *engine.Batch, table *catalog.Table) map[string]catalog.ColumnType {
	out := make(map[string]catalog.ColumnType)
	for _, col := range b.ColumnSet() {
		if t, ok := table.Columns[col]; ok {
			out[col] = t
		}
	}
	return out
}

func swapCatalog(ctx context.Context, repo catalog.Repository, inputs []*catalog.File, outputs []*catalog.File) error {
	txn, err := repo.BeginTxn(ctx)
	if err != nil {
		return err
	}

	for _, out := range outputs {
		if _, err := txn.ParquetFiles().Create(ctx, out); err != nil {
			_ = txn.Rollback()
			return err
		}
	}

	if len(inputs) > 0 {
		ids := make([]catalog.FileID, len(inputs))
		for i, f := range inputs {
			ids[i] = f.ID
		}
		if err := txn.ParquetFiles().FlagForDelete(ctx, ids); err != nil {
			_ = txn.Rollback()
			return err
		}
	}

	return txn.Commit()
}

// resolveSortKey extends the partition's sort key with any tag columns
// present in the input files but absent from it, appended in stable
// alphabetical order, and persists the result (spec §4.5 stage 1).
func resolveSortKey(ctx context.Context, repo catalog.Repository, partition *catalog.Partition, files []*catalog.File, table *catalog.Table) ([]string, error) {
	have := map[string]bool{}
	for _, c := range partition.SortKey {
		have[c] = true
	}

	var extra []string
	seen := map[string]bool{}
	for _, f := range files {
		for col, typ := range f.ColumnSet {
			if typ != catalog.ColumnTypeTag || have[col] || seen[col] {
				continue
			}
			seen[col] = true
			extra = append(extra, col)
		}
	}
	sort.Strings(extra)

	newKey := append(append([]string(nil), partition.SortKey...), extra...)
	if len(extra) > 0 {
		if err := repo.Partitions().UpdateSortKey(ctx, partition.ID, newKey); err != nil {
			return nil, err
		}
	}
	return newKey, nil
}
