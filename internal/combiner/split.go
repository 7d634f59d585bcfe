package combiner

import (
	"sort"

	"github.com/aalhour/tsdbcompactor/internal/catalog"
)

// fitsSingleOutput reports whether a hot group's combined input size
// stays under the single-output threshold (max_desired_file_size_bytes
// * percentage_max_file_size / 100, spec §4.5 stage 3); if not, the
// combine splits its output in two by time.
func fitsSingleOutput(files []*catalog.File, cfg Config) bool {
	var total int64
	for _, f := range files {
		total += f.SizeBytes
	}
	threshold := cfg.MaxDesiredFileSizeBytes * cfg.PercentageMaxFileSize / 100
	return total <= threshold
}

// timeSplitPoint is t_min + (t_max - t_min) * split_percentage / 100,
// the hot split's time boundary (spec §4.5 stage 3).
func timeSplitPoint(minTime, maxTime int64, splitPercentage int64) int64 {
	return minTime + (maxTime-minTime)*splitPercentage/100
}

// coldBinPack groups files for a full cold compaction into batches no
// larger than maxGroupBytes, preserving the input's ascending
// max_sequence_number order within and across groups. It is a
// sequential greedy pack, not a size-balancing one: reordering by size
// would break the seq-then-sort-key order Deduplicate relies on to
// resolve "highest sequence number wins" within a single combine
// (spec §3 invariant 2), so each file only ever considers joining the
// group currently being filled.
func coldBinPack(files []*catalog.File, maxGroupBytes int64) [][]*catalog.File {
	if len(files) == 0 {
		return nil
	}
	ordered := append([]*catalog.File(nil), files...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].MaxSequenceNumber < ordered[j].MaxSequenceNumber })

	if maxGroupBytes <= 0 {
		return [][]*catalog.File{ordered}
	}

	var groups [][]*catalog.File
	var current []*catalog.File
	var size int64
	for _, f := range ordered {
		if len(current) > 0 && size+f.SizeBytes > maxGroupBytes {
			groups = append(groups, current)
			current = nil
			size = 0
		}
		current = append(current, f)
		size += f.SizeBytes
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}
