package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/aalhour/tsdbcompactor/internal/logging"
	"github.com/aalhour/tsdbcompactor/internal/metrics"
)

// Loader produces the value for a key. extra carries any per-call context
// the loader needs beyond the key (e.g. a byte range for a blob read).
// Loaders are expected to retry transient errors internally; the cache
// treats whatever the loader returns as authoritative, including a
// successful "not found" result, which is then cached like any other
// value (spec §4.1's error handling rule).
type Loader[K comparable, V any] func(ctx context.Context, key K, extra any) (V, error)

// Estimator charges a (key, value) pair against the shared ResourcePool.
// An entry's charge is frozen at insertion time, per spec §4.1 invariant.
type Estimator[K comparable, V any] func(key K, value V) uint64

// Cache is an asynchronous K -> V store with loader coalescing and LRU
// eviction governed by a shared ResourcePool. At most one load is ever in
// flight per key across the whole process (spec §4.1, §5).
type Cache[K comparable, V any] struct {
	name      string
	pool      *ResourcePool
	load      Loader[K, V]
	estimate  Estimator[K, V]
	log       logging.Logger
	metrics   *metrics.Metrics
	group     singleflight.Group
	mu        sync.Mutex
	entries   map[K]*entry[V]
}

type entry[V any] struct {
	value V
	elem  *list.Element
}

// New creates a named cache backed by the given pool. name is used as the
// Prometheus label and log component for this instance.
func New[K comparable, V any](name string, pool *ResourcePool, load Loader[K, V], estimate Estimator[K, V], log logging.Logger, m *metrics.Metrics) *Cache[K, V] {
	if log == nil {
		log = logging.Discard
	}
	return &Cache[K, V]{
		name:     name,
		pool:     pool,
		load:     load,
		estimate: estimate,
		log:      log,
		metrics:  m,
		entries:  make(map[K]*entry[V]),
	}
}

// Get returns the value for key, blocking until a cached value is present
// or an in-flight (or newly started) load completes. If ctx is cancelled
// while a load is in flight, Get returns ctx.Err() without affecting other
// waiters or the shared loader, which keeps running to completion and
// populates the cache for them (spec §4.1, §5 cancellation semantics).
func (c *Cache[K, V]) Get(ctx context.Context, key K, extra any) (V, error) {
	if v, ok := c.Peek(key); ok {
		c.count(c.metrics.CacheHits)
		return v, nil
	}
	c.count(c.metrics.CacheMisses)

	sfKey := fmt.Sprintf("%v", key)
	resultCh := c.group.DoChan(sfKey, func() (any, error) {
		// Detached from any individual caller's context: cancelling one
		// Get must not cancel the shared load (spec §5).
		start := time.Now()
		v, err := c.load(context.Background(), key, extra)
		if c.metrics != nil {
			c.metrics.CacheLoadDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			return nil, err
		}
		c.insert(key, v)
		return v, nil
	})

	select {
	case res := <-resultCh:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Peek returns the cached value for key without starting a load.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		var zero V
		return zero, false
	}
	c.pool.touch(e.elem)
	return e.value, true
}

// Remove evicts key, e.g. when the caller has learned its cached value is
// stale (spec §4.1).
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	if ok {
		c.pool.remove(e.elem)
	}
}

func (c *Cache[K, V]) insert(key K, value V) {
	size := c.estimate(key, value)
	evict := func() {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		c.log.Debugf(logging.NSCache+"evicted %s key=%v", c.name, key)
		c.count(c.metrics.CacheEvictions)
	}
	elem := c.pool.insert(size, evict)

	c.mu.Lock()
	c.entries[key] = &entry[V]{value: value, elem: elem}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.CacheResidentSize.WithLabelValues(c.name).Set(float64(c.pool.Used()))
	}
}

func (c *Cache[K, V]) count(v *prometheus.CounterVec) {
	if c.metrics == nil || v == nil {
		return
	}
	v.WithLabelValues(c.name).Inc()
}
