package handler

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Budget gates concurrent compaction work by estimated memory bytes
// rather than goroutine count, the pack's standard pairing for bounded
// concurrent work weighted by a resource cost (spec §4.7, §5).
type Budget struct {
	sem *semaphore.Weighted
	cap int64
}

// NewBudget creates a Budget admitting up to maxBytes of estimated
// memory across all concurrently running workers.
func NewBudget(maxBytes int64) *Budget {
	return &Budget{sem: semaphore.NewWeighted(maxBytes), cap: maxBytes}
}

// TryAdmit attempts to reserve weight bytes without blocking. A false
// result means the caller should skip this candidate for the current
// tick (spec §4.7 step 2: "admission requires estimated_memory(candidate)
// <= remaining_budget").
func (b *Budget) TryAdmit(weight int64) bool {
	if weight > b.cap {
		weight = b.cap
	}
	return b.sem.TryAcquire(weight)
}

// Release returns weight bytes to the budget after a worker completes.
func (b *Budget) Release(weight int64) {
	if weight > b.cap {
		weight = b.cap
	}
	b.sem.Release(weight)
}

// Acquire blocks until weight bytes are available or ctx is cancelled.
// The handler itself admits work only through the non-blocking TryAdmit.
func (b *Budget) Acquire(ctx context.Context, weight int64) error {
	return b.sem.Acquire(ctx, weight)
}
