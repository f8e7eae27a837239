// Package admission bounds the memory used by concurrent image processing.
//
// A MemoryBudget hands out reservations without queuing: when the requested amount does
// not fit, the caller gets ErrMemoryLimited immediately and is expected to retry later.
package admission

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrMemoryLimited is returned when a reservation does not fit in the budget.
var ErrMemoryLimited = errors.New("memory limit reached")

// MemoryBudget is a process-wide pool of bytes shared by reservers.
type MemoryBudget struct {
	sem      *semaphore.Weighted
	capacity int64
	inUse    atomic.Int64
	peak     atomic.Int64
	denied   atomic.Int64
}

// NewMemoryBudget creates a budget of capacity bytes.
func NewMemoryBudget(capacity int64) *MemoryBudget {
	if capacity <= 0 {
		panic(fmt.Sprintf("admission: invalid capacity %d", capacity))
	}
	return &MemoryBudget{
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
	}
}

// Reservation is a held share of a budget. Release is idempotent.
type Reservation struct {
	budget *MemoryBudget
	size   int64
	once   sync.Once
}

// TryReserve reserves size bytes or fails with ErrMemoryLimited without blocking.
func (b *MemoryBudget) TryReserve(size int64) (*Reservation, error) {
	if size <= 0 {
		size = 1
	}
	if size > b.capacity || !b.sem.TryAcquire(size) {
		b.denied.Add(1)
		return nil, fmt.Errorf("reserve %d of %d bytes: %w", size, b.capacity, ErrMemoryLimited)
	}
	used := b.inUse.Add(size)
	for {
		peak := b.peak.Load()
		if used <= peak || b.peak.CompareAndSwap(peak, used) {
			break
		}
	}
	return &Reservation{budget: b, size: size}, nil
}

// Size returns the reserved amount.
func (r *Reservation) Size() int64 {
	return r.size
}

// Release returns the reservation to the budget.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.budget.inUse.Add(-r.size)
		r.budget.sem.Release(r.size)
	})
}

// Capacity returns the configured ceiling.
func (b *MemoryBudget) Capacity() int64 {
	return b.capacity
}

// InUse returns the amount currently reserved.
func (b *MemoryBudget) InUse() int64 {
	return b.inUse.Load()
}

// Peak returns the highest amount ever reserved at once.
func (b *MemoryBudget) Peak() int64 {
	return b.peak.Load()
}

// Denied returns how many reservations were rejected.
func (b *MemoryBudget) Denied() int64 {
	return b.denied.Load()
}
