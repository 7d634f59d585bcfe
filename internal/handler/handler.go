// Package handler implements spec §4.7: the driver loop that ties the
// selector, file lookup, file filter and combiner together under a
// memory-budget admission control.
package handler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aalhour/tsdbcompactor/internal/cache"
	"github.com/aalhour/tsdbcompactor/internal/catalog"
	"github.com/aalhour/tsdbcompactor/internal/combiner"
	"github.com/aalhour/tsdbcompactor/internal/filefilter"
	"github.com/aalhour/tsdbcompactor/internal/filelookup"
	"github.com/aalhour/tsdbcompactor/internal/logging"
	"github.com/aalhour/tsdbcompactor/internal/metrics"
	"github.com/aalhour/tsdbcompactor/internal/selector"
)

// Config is the subset of spec §6.4's options the handler consults.
type Config struct {
	Shards []catalog.ShardID

	TickInterval time.Duration

	HotRecentWindow    time.Duration
	HotMinRecentFiles  int
	HotPartitionsPerShard int
	ColdThreshold      time.Duration
	// HotMultiple is the ratio of hot compactions run per cold one each
	// tick (spec §4.7 step 1).
	HotMultiple int

	MemoryBudgetBytes         int64
	ColdInputSizeThresholdBytes int64
	ColdInputFileCountThreshold int
}

// Handler owns one shard-set's compaction loop.
type Handler struct {
	Catalog  catalog.Repository
	Combiner combiner.Deps
	Config   Config
	InFlight *selector.InFlight
	Budget   *Budget
	Metrics  *metrics.Metrics
	Log      logging.Logger

	// Schema fronts Catalog.Columns().ListByTableID with a bounded cache
	// (spec §4.1). Nil falls back to the uncached catalog call, which
	// keeps zero-value Handlers (as built by older callers and tests)
	// working.
	Schema *cache.Cache[catalog.TableID, map[string]catalog.ColumnType]
}

func (h *Handler) logger() logging.Logger {
	if h.Log == nil {
		return logging.Discard
	}
	return h.Log
}

func (h *Handler) columnsFor(ctx context.Context, id catalog.TableID) (map[string]catalog.ColumnType, error) {
	if h.Schema != nil {
		return h.Schema.Get(ctx, id, nil)
	}
	return h.Catalog.Columns().ListByTableID(ctx, id)
}

// Run drives the loop until ctx is cancelled: tick, sleep, repeat.
func (h *Handler) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.Config.TickInterval)
	defer ticker.Stop()

	for {
		if err := h.Tick(ctx); err != nil && ctx.Err() == nil {
			h.logger().Errorf("handler: tick failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one pass over every assigned shard: hot candidates first,
// then cold candidates in the ratio HotMultiple:1 (spec §4.7 step 1).
func (h *Handler) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() {
		if h.Metrics != nil {
			h.Metrics.HandlerTickDuration.Observe(time.Since(start).Seconds())
		}
	}()

	eg, egCtx := errgroup.WithContext(ctx)
	for _, shard := range h.Config.Shards {
		shard := shard
		now := time.Now()

		hotCands, err := selector.Hot(egCtx, h.Catalog.Partitions(), h.Catalog.ParquetFiles(), h.InFlight, shard,
			h.Config.HotRecentWindow, h.Config.HotMinRecentFiles, h.Config.HotPartitionsPerShard, now, h.Metrics)
		if err != nil {
			return err
		}
		for _, c := range hotCands {
			c := c
			if !h.InFlight.TryAcquire(c.Partition.ID) {
				continue
			}
			eg.Go(func() error {
				defer h.InFlight.Release(c.Partition.ID)
				return h.isolate(egCtx, h.runHot(egCtx, c.Partition))
			})
		}

		coldBudget := len(hotCands) / max(h.Config.HotMultiple, 1)
		if coldBudget == 0 {
			coldBudget = 1
		}
		coldCands, err := selector.Cold(egCtx, h.Catalog.Partitions(), h.Catalog.ParquetFiles(), h.InFlight, shard,
			h.Config.ColdThreshold, now, h.Metrics)
		if err != nil {
			return err
		}
		if len(coldCands) > coldBudget {
			coldCands = coldCands[:coldBudget]
		}
		for _, c := range coldCands {
			c := c
			if !h.InFlight.TryAcquire(c.Partition.ID) {
				continue
			}
			eg.Go(func() error {
				defer h.InFlight.Release(c.Partition.ID)
				return h.isolate(egCtx, h.runCold(egCtx, c.Partition))
			})
		}
	}

	return eg.Wait()
}

// isolate converts an ordinary per-partition failure into a logged, non-
// propagating outcome. Compactions across partitions are independent
// (spec §5); returning err to the errgroup would cancel egCtx for every
// other still-running combine in this tick over one unrelated failure
// (spec §7: persistent errors are reported per-partition and the loop
// moves on). Only a failure that already reflects upstream cancellation
// is forwarded.
func (h *Handler) isolate(egCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if egCtx.Err() != nil {
		return err
	}
	h.logger().Errorf("handler: partition compaction failed: %v", err)
	if h.Metrics != nil {
		h.Metrics.CombineFailuresTotal.WithLabelValues("partition").Inc()
	}
	return nil
}

func (h *Handler) runHot(ctx context.Context, partition *catalog.Partition) error {
	lookup, err := filelookup.Lookup(ctx, h.Catalog.Partitions(), h.Catalog.ParquetFiles(), partition.ID)
	if err != nil {
		return err
	}
	table, err := h.Catalog.Tables().GetByID(ctx, partition.TableID)
	if err != nil {
		return err
	}
	columns, err := h.columnsFor(ctx, table.ID)
	if err != nil {
		return err
	}

	filtered, ok := filefilter.Hot(ctx, lookup, columns, uint64(h.Config.MemoryBudgetBytes), h.Metrics)
	if !ok {
		return nil
	}
	return h.admitAndCombine(ctx, table, filtered)
}

func (h *Handler) runCold(ctx context.Context, partition *catalog.Partition) error {
	lookup, err := filelookup.Lookup(ctx, h.Catalog.Partitions(), h.Catalog.ParquetFiles(), partition.ID)
	if err != nil {
		return err
	}
	table, err := h.Catalog.Tables().GetByID(ctx, partition.TableID)
	if err != nil {
		return err
	}

	filtered, _, ok := filefilter.Cold(lookup, h.Config.ColdInputSizeThresholdBytes, h.Config.ColdInputFileCountThreshold, h.Metrics)
	if !ok {
		return nil
	}
	return h.admitAndCombine(ctx, table, filtered)
}

func (h *Handler) admitAndCombine(ctx context.Context, table *catalog.Table, filtered filefilter.Filtered) error {
	var estimate int64
	for _, f := range filtered.Files {
		estimate += f.SizeBytes
	}
	if !h.Budget.TryAdmit(estimate) {
		if h.Metrics != nil {
			h.Metrics.HandlerBudgetExhausted.WithLabelValues("shard").Inc()
		}
		return nil
	}
	defer h.Budget.Release(estimate)

	if h.Metrics != nil {
		h.Metrics.CombineAttemptsTotal.WithLabelValues(filtered.TargetLevel.String()).Inc()
	}
	start := time.Now()
	result, err := combiner.Combine(ctx, h.Combiner, table, filtered)
	if h.Metrics != nil {
		h.Metrics.CombineDuration.WithLabelValues(filtered.TargetLevel.String()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.CombineFailuresTotal.WithLabelValues("combine").Inc()
		}
		return err
	}
	if h.Metrics != nil {
		h.Metrics.CombineOutputFiles.WithLabelValues(filtered.TargetLevel.String()).Observe(float64(len(result.OutputFiles)))
		for _, f := range result.OutputFiles {
			h.Metrics.CombineOutputBytes.WithLabelValues(filtered.TargetLevel.String()).Observe(float64(f.SizeBytes))
		}
	}
	return nil
}
