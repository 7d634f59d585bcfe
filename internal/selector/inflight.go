package selector

import (
	"sync"

	"github.com/aalhour/tsdbcompactor/internal/catalog"
)

// InFlight is the process-wide set of partitions currently being
// compacted by some worker (spec §4.6, §5: "de-duplicates partitions
// currently being compacted... held only for insert/remove"). It mirrors
// the teacher's mutex-guarded map style for point ownership, generalized
// from per-key locks to per-partition set membership.
type InFlight struct {
	mu  sync.Mutex
	set map[catalog.PartitionID]struct{}
}

// NewInFlight creates an empty in-flight set.
func NewInFlight() *InFlight {
	return &InFlight{set: make(map[catalog.PartitionID]struct{})}
}

// TryAcquire adds id to the set and reports whether it was newly added.
// A false result means some other worker already owns this partition.
func (f *InFlight) TryAcquire(id catalog.PartitionID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.set[id]; ok {
		return false
	}
	f.set[id] = struct{}{}
	return true
}

// Release removes id from the set, making the partition eligible for
// selection again.
func (f *InFlight) Release(id catalog.PartitionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.set, id)
}

// Has reports whether id is currently in flight.
func (f *InFlight) Has(id catalog.PartitionID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.set[id]
	return ok
}
