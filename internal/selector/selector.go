// Package selector implements spec §4.6: ranking a shard's partitions
// into hot and cold candidate queues, skipping whatever the in-flight
// set says is already being compacted.
package selector

import (
	"context"
	"sort"
	"time"

	"github.com/aalhour/tsdbcompactor/internal/catalog"
	"github.com/aalhour/tsdbcompactor/internal/metrics"
)

// Candidate is one partition the handler should consider compacting.
type Candidate struct {
	Partition     *catalog.Partition
	RecentL0Count int
	NewestCreated time.Time
}

// Hot ranks partitions with at least minRecentIngested recently-created
// L0 files, by recent L0 file count descending, tie-broken by
// max(created_at) descending, returning the top nPerShard.
func Hot(ctx context.Context, partitions catalog.PartitionRepo, files catalog.ParquetFileRepo, inflight *InFlight, shard catalog.ShardID, recentWindow time.Duration, minRecentIngested, nPerShard int, now time.Time, m *metrics.Metrics) ([]Candidate, error) {
	all, err := partitions.ListByShard(ctx, shard)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, p := range all {
		if inflight.Has(p.ID) {
			if m != nil {
				m.SelectorSkipped.WithLabelValues("hot").Inc()
			}
			continue
		}
		l0, err := files.Level0(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		recentCount := 0
		var newest time.Time
		cutoff := now.Add(-recentWindow)
		for _, f := range l0 {
			if f.CreatedAt.After(cutoff) {
				recentCount++
				if f.CreatedAt.After(newest) {
					newest = f.CreatedAt
				}
			}
		}
		if recentCount < minRecentIngested {
			continue
		}
		candidates = append(candidates, Candidate{Partition: p, RecentL0Count: recentCount, NewestCreated: newest})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].RecentL0Count != candidates[j].RecentL0Count {
			return candidates[i].RecentL0Count > candidates[j].RecentL0Count
		}
		return candidates[i].NewestCreated.After(candidates[j].NewestCreated)
	})

	if len(candidates) > nPerShard {
		candidates = candidates[:nPerShard]
	}
	if m != nil {
		m.SelectorCandidates.WithLabelValues("hot").Set(float64(len(candidates)))
	}
	return candidates, nil
}

// Cold ranks partitions whose newest L0 file is older than
// coldThreshold, or which have L1 files but no L0 at all, by age
// ascending (oldest first).
func Cold(ctx context.Context, partitions catalog.PartitionRepo, files catalog.ParquetFileRepo, inflight *InFlight, shard catalog.ShardID, coldThreshold time.Duration, now time.Time, m *metrics.Metrics) ([]Candidate, error) {
	all, err := partitions.ListByShard(ctx, shard)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	cutoff := now.Add(-coldThreshold)
	for _, p := range all {
		if inflight.Has(p.ID) {
			if m != nil {
				m.SelectorSkipped.WithLabelValues("cold").Inc()
			}
			continue
		}
		l0, err := files.Level0(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		var newestL0 time.Time
		for _, f := range l0 {
			if f.CreatedAt.After(newestL0) {
				newestL0 = f.CreatedAt
			}
		}

		isCold := false
		switch {
		case len(l0) == 0:
			l1, err := files.Level1(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			isCold = len(l1) > 0
		case newestL0.Before(cutoff):
			isCold = true
		}
		if !isCold {
			continue
		}
		candidates = append(candidates, Candidate{Partition: p, NewestCreated: newestL0})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NewestCreated.Before(candidates[j].NewestCreated)
	})
	if m != nil {
		m.SelectorCandidates.WithLabelValues("cold").Set(float64(len(candidates)))
	}
	return candidates, nil
}
