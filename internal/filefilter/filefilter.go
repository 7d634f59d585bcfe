// Package filefilter implements spec §4.3's two filter variants: a hot
// filter that fits files within a memory budget, and a cold filter that
// groups files by a size/count threshold ahead of a full rewrite.
package filefilter

import (
	"context"

	"github.com/aalhour/tsdbcompactor/internal/catalog"
	"github.com/aalhour/tsdbcompactor/internal/filelookup"
	"github.com/aalhour/tsdbcompactor/internal/metrics"
)

// Filtered is the outcome of either filter: the files selected for one
// combine operation and the level they should end up at.
type Filtered struct {
	Partition   *catalog.Partition
	Files       []*catalog.File
	TargetLevel catalog.CompactionLevel
}

// EstimateRowBytes returns the decompressed in-memory footprint of one
// row given a table's column types, using the mean-width heuristic
// (spec §4.3).
func EstimateRowBytes(columns map[string]catalog.ColumnType) uint64 {
	var total uint64
	for _, t := range columns {
		total += t.MeanWidthBytes()
	}
	return total
}

// EstimateFileBytes is row-count * per-row footprint, the hot filter's
// admission unit.
func EstimateFileBytes(f *catalog.File, rowBytes uint64) uint64 {
	if f.RowCount <= 0 {
		return uint64(f.SizeBytes)
	}
	return uint64(f.RowCount) * rowBytes
}

// Hot selects L0 files (in ascending max_sequence_number order) plus
// any overlapping L1 files, stopping before the running estimate would
// exceed budget. Returns ok=false if zero files fit, in which case the
// caller should skip the partition (spec §4.3: "emit a warning metric;
// skip partition").
func Hot(ctx context.Context, lookup *filelookup.Result, columns map[string]catalog.ColumnType, budgetBytes uint64, m *metrics.Metrics) (Filtered, bool) {
	rowBytes := EstimateRowBytes(columns)
	if rowBytes == 0 {
		rowBytes = 1
	}

	var selected []*catalog.File
	var used uint64

	// lookup.Level0 is already ordered by max_sequence_number ASC
	// (spec §4.2), so a simple greedy walk satisfies the spec order.
	for _, f := range lookup.Level0 {
		size := EstimateFileBytes(f, rowBytes)
		if used+size > budgetBytes {
			break
		}
		selected = append(selected, f)
		used += size
	}

	if len(selected) == 0 {
		if m != nil {
			m.FilterZeroFilesFit.WithLabelValues("hot").Inc()
		}
		return Filtered{}, false
	}

	for _, l1 := range lookup.Level1 {
		overlaps := false
		for _, f := range selected {
			if f.Overlaps(l1) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			continue
		}
		size := EstimateFileBytes(l1, rowBytes)
		if used+size > budgetBytes {
			continue
		}
		selected = append(selected, l1)
		used += size
	}

	if m != nil {
		m.FilterFilesSelected.WithLabelValues("hot").Add(float64(len(selected)))
		m.FilterBytesSelected.WithLabelValues("hot").Add(float64(used))
	}

	return Filtered{
		Partition:   lookup.Partition,
		Files:       selected,
		TargetLevel: catalog.LevelFileNonOverlapped,
	}, true
}

// Cold selects all L0 files plus any overlapping L1 files, until
// cumulative size reaches sizeThreshold or the count reaches
// countThreshold (spec §4.3). Promote reports whether the result is the
// singleton-no-overlap case that should take the promotion path
// (§4.4) instead of a rewrite.
func Cold(lookup *filelookup.Result, sizeThreshold int64, countThreshold int, m *metrics.Metrics) (filtered Filtered, promote bool, ok bool) {
	if len(lookup.Level0) == 0 {
		// Selector's cold pool also includes partitions with L1 files
		// but no L0 (spec §4.6); those still need a full cold
		// compaction into L2 once enough L1 data has accumulated.
		if len(lookup.Level1) == 0 {
			return Filtered{}, false, false
		}
		if m != nil {
			m.FilterFilesSelected.WithLabelValues("cold").Add(float64(len(lookup.Level1)))
		}
		return Filtered{
			Partition:   lookup.Partition,
			Files:       lookup.Level1,
			TargetLevel: catalog.LevelFinal,
		}, false, true
	}

	var selected []*catalog.File
	var size int64
	for _, f := range lookup.Level0 {
		selected = append(selected, f)
		size += f.SizeBytes
		if size >= sizeThreshold || len(selected) >= countThreshold {
			break
		}
	}

	var overlapping []*catalog.File
	for _, l1 := range lookup.Level1 {
		for _, f := range selected {
			if f.Overlaps(l1) {
				overlapping = append(overlapping, l1)
				break
			}
		}
	}

	if len(selected) == 1 && len(overlapping) == 0 {
		// Singleton L0, nothing overlapping: the promotion path (§4.4)
		// handles this without a rewrite.
		return Filtered{Partition: lookup.Partition, Files: selected, TargetLevel: catalog.LevelFileNonOverlapped}, true, true
	}

	selected = append(selected, overlapping...)
	if m != nil {
		m.FilterFilesSelected.WithLabelValues("cold").Add(float64(len(selected)))
		m.FilterBytesSelected.WithLabelValues("cold").Add(float64(size))
	}
	// A mixed L0+L1 selection undergoes a full cold compaction to L2
	// (spec §4.5 step 3's "cold full-compaction (target = L2)"); the
	// singleton-no-overlap case above is the only one that targets L1.
	return Filtered{
		Partition:   lookup.Partition,
		Files:       selected,
		TargetLevel: catalog.LevelFinal,
	}, false, true
}
