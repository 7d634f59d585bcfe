// Package metrics defines the Prometheus metrics emitted by the compaction
// core: cache load-duration histograms and hit/miss/eviction counters
// (spec §4.1), filter warning
// counters (§4.3), combiner retry/output counters (§4.5), and handler
// budget/worker gauges (§4.7).
//
// Reference: scttfrdmn/objectfs's internal/metrics package for the shape
// (an owned *prometheus.Registry behind a constructor, not promauto
// globals) — the compaction core is a library embedded by multiple
// binaries, so a package-level global registry would collide across
// instances in the same process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every metric the compaction core emits, grouped by the
// component that owns it.
type Metrics struct {
	registry *prometheus.Registry

	// Cache (spec §4.1)
	CacheLoadDuration *prometheus.HistogramVec
	CacheHits         *prometheus.CounterVec
	CacheMisses       *prometheus.CounterVec
	CacheEvictions    *prometheus.CounterVec
	CacheResidentSize *prometheus.GaugeVec

	// File filter (spec §4.3)
	FilterZeroFilesFit  *prometheus.CounterVec
	FilterFilesSelected *prometheus.HistogramVec
	FilterBytesSelected *prometheus.HistogramVec

	// Combiner (spec §4.5)
	CombineAttemptsTotal *prometheus.CounterVec
	CombineRetriesTotal  *prometheus.CounterVec
	CombineFailuresTotal *prometheus.CounterVec
	CombineOutputFiles   *prometheus.HistogramVec
	CombineOutputBytes   *prometheus.HistogramVec
	CombineDuration      *prometheus.HistogramVec

	// Selector (spec §4.6)
	SelectorCandidates *prometheus.GaugeVec
	SelectorSkipped    *prometheus.CounterVec

	// Handler (spec §4.7)
	HandlerBudgetExhausted *prometheus.CounterVec
	HandlerActiveWorkers   prometheus.Gauge
	HandlerTickDuration    prometheus.Histogram
}

// New creates a Metrics instance registered against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		CacheLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "compactor", Subsystem: "cache", Name: "load_duration_seconds",
			Help:    "Duration of cache loader invocations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"cache"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compactor", Subsystem: "cache", Name: "hits_total",
			Help: "Cache get() calls served from the resident set.",
		}, []string{"cache"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compactor", Subsystem: "cache", Name: "misses_total",
			Help: "Cache get() calls that triggered or joined a load.",
		}, []string{"cache"}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compactor", Subsystem: "cache", Name: "evictions_total",
			Help: "Entries evicted by the shared resource pool.",
		}, []string{"cache"}),
		CacheResidentSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "compactor", Subsystem: "cache", Name: "resident_bytes",
			Help: "Estimated resident bytes, per cache.",
		}, []string{"cache"}),
		FilterZeroFilesFit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compactor", Subsystem: "filter", Name: "zero_files_fit_total",
			Help: "Hot filter runs where no file fit the memory budget.",
		}, []string{"class"}),
		FilterFilesSelected: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "compactor", Subsystem: "filter", Name: "files_selected",
			Help:    "Number of files selected per filter invocation.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}, []string{"class"}),
		FilterBytesSelected: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "compactor", Subsystem: "filter", Name: "bytes_selected",
			Help:    "Estimated bytes selected per filter invocation.",
			Buckets: prometheus.ExponentialBuckets(1<<20, 2, 16),
		}, []string{"class"}),
		CombineAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compactor", Subsystem: "combiner", Name: "attempts_total",
			Help: "Combine operations started.",
		}, []string{"target_level"}),
		CombineRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compactor", Subsystem: "combiner", Name: "retries_total",
			Help: "Transient-failure retries during combine.",
		}, []string{"stage"}),
		CombineFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compactor", Subsystem: "combiner", Name: "failures_total",
			Help: "Combine operations that failed.",
		}, []string{"stage"}),
		CombineOutputFiles: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "compactor", Subsystem: "combiner", Name: "output_files",
			Help:    "Output files produced per combine.",
			Buckets: []float64{0, 1, 2, 3, 4, 8},
		}, []string{"target_level"}),
		CombineOutputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "compactor", Subsystem: "combiner", Name: "output_bytes",
			Help:    "Size of each output file produced.",
			Buckets: prometheus.ExponentialBuckets(1<<20, 2, 16),
		}, []string{"target_level"}),
		CombineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "compactor", Subsystem: "combiner", Name: "duration_seconds",
			Help:    "Wall time of a combine operation end to end.",
			Buckets: prometheus.DefBuckets,
		}, []string{"target_level"}),
		SelectorCandidates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "compactor", Subsystem: "selector", Name: "candidates",
			Help: "Candidates returned by the most recent selection pass.",
		}, []string{"class"}),
		SelectorSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compactor", Subsystem: "selector", Name: "skipped_total",
			Help: "Candidates skipped because they were already in flight.",
		}, []string{"class"}),
		HandlerBudgetExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compactor", Subsystem: "handler", Name: "budget_exhausted_total",
			Help: "Ticks where no further candidate fit the memory budget.",
		}, []string{"shard"}),
		HandlerActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "compactor", Subsystem: "handler", Name: "active_workers",
			Help: "Currently running compaction workers.",
		}),
		HandlerTickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "compactor", Subsystem: "handler", Name: "tick_duration_seconds",
			Help:    "Wall time of one handler tick across all shards.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.CacheLoadDuration, m.CacheHits, m.CacheMisses, m.CacheEvictions, m.CacheResidentSize,
		m.FilterZeroFilesFit, m.FilterFilesSelected, m.FilterBytesSelected,
		m.CombineAttemptsTotal, m.CombineRetriesTotal, m.CombineFailuresTotal,
		m.CombineOutputFiles, m.CombineOutputBytes, m.CombineDuration,
		m.SelectorCandidates, m.SelectorSkipped,
		m.HandlerBudgetExhausted, m.HandlerActiveWorkers, m.HandlerTickDuration,
	)
	return m
}

// Handler returns an http.Handler serving this instance's metrics in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, for tests that want to scrape
// specific samples directly.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
