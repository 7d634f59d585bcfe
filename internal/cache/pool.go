// Package cache implements the compaction core's keyed asynchronous value
// store: loader coalescing, a shared LRU byte budget, and pluggable
// per-cache size estimators (spec §4.1).
//
// Reference: the teacher's internal/cache/lru_cache.go (an
// intrusive container/list + map LRU guarded by a mutex) supplies the
// eviction bookkeeping shape; this package generalizes it from a
// single fixed-capacity block cache to N named caches sharing one
// process-wide byte ceiling, per spec §4.1's ResourcePool<RamSize>.
package cache

import (
	"container/list"
	"sync"
)

// poolItem is what the shared pool's LRU list stores. evict is a closure
// back into the owning Cache — the cache-agnostic way of doing what the
// teacher's Handle.refs/deleted bookkeeping did for a single cache (see
// spec §9's note on weak back-references between cache entries and
// backend policies: a closure is the idiomatic Go substitute for a weak
// pointer here).
type poolItem struct {
	size  uint64
	evict func()
}

// ResourcePool tracks total byte consumption across every Cache that
// shares it and evicts least-recently-used entries, across all
// participating caches, once consumption exceeds the ceiling.
type ResourcePool struct {
	mu      sync.Mutex
	ceiling uint64
	used    uint64
	lru     *list.List // list.Element.Value is *poolItem; front = most recent
}

// NewResourcePool creates a pool with the given byte ceiling. A ceiling of
// 0 means unlimited (no eviction is ever triggered).
func NewResourcePool(ceilingBytes uint64) *ResourcePool {
	return &ResourcePool{
		ceiling: ceilingBytes,
		lru:     list.New(),
	}
}

// SetCeiling adjusts the pool's byte ceiling, evicting immediately if the
// new ceiling is lower than current usage.
func (p *ResourcePool) SetCeiling(ceilingBytes uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ceiling = ceilingBytes
	p.evictLocked()
}

// Used returns current resident bytes across all caches sharing this pool.
func (p *ResourcePool) Used() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// insert registers a freshly loaded entry with the pool and returns the
// list element the owning cache must hold onto (for Touch/Remove). It may
// synchronously evict other entries, including ones from other caches, to
// make room — but never the entry being inserted.
func (p *ResourcePool) insert(size uint64, evict func()) *list.Element {
	p.mu.Lock()
	defer p.mu.Unlock()

	item := &poolItem{size: size, evict: evict}
	elem := p.lru.PushFront(item)
	p.used += size

	for p.ceiling != 0 && p.used > p.ceiling {
		back := p.lru.Back()
		if back == nil || back == elem {
			// Only the entry we just inserted is left: a single entry
			// larger than the ceiling is allowed to exceed it (spec §8
			// property 8: resident bytes never exceed the ceiling plus
			// the size of the largest single entry).
			break
		}
		p.evictElementLocked(back)
	}
	return elem
}

// touch moves elem to the front of the global LRU order.
func (p *ResourcePool) touch(elem *list.Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if elem.Value != nil {
		p.lru.MoveToFront(elem)
	}
}

// remove drops elem from the pool's accounting without invoking its evict
// callback (used when the owning cache itself removes the entry, e.g. via
// Cache.Remove, and must not re-enter its own locked map).
func (p *ResourcePool) remove(elem *list.Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if elem.Value == nil {
		return
	}
	item := elem.Value.(*poolItem)
	p.used -= item.size
	p.lru.Remove(elem)
	elem.Value = nil
}

func (p *ResourcePool) evictElementLocked(elem *list.Element) {
	item := elem.Value.(*poolItem)
	p.lru.Remove(elem)
	elem.Value = nil
	p.used -= item.size
	// Run the callback without holding p.mu: it reaches back into a
	// Cache's own mutex, and Cache never calls back into the pool while
	// holding that mutex, so this ordering cannot deadlock.
	p.mu.Unlock()
	item.evict()
	p.mu.Lock()
}

func (p *ResourcePool) evictLocked() {
	for p.ceiling != 0 && p.used > p.ceiling {
		back := p.lru.Back()
		if back == nil {
			break
		}
		p.evictElementLocked(back)
	}
}
