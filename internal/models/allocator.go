package models

import (
	"fmt"
	"sync"
)

// Allocator supplies the working and output buffers of a pipeline and is
// told when a buffer is no longer needed
type Allocator interface {
	// Allocate returns a zeroed buffer of n values
	Allocate(n int) ([]float64, error)

	// Release hands a buffer back once its consumer is finished with it
	Release(buf []float64)
}

// AllocationStats is a snapshot of a HeapAllocator's bookkeeping
type AllocationStats struct {
	// LiveBuffers is the number of buffers allocated and not yet released
	LiveBuffers int

	// LiveBytes is the size of the live buffers
	LiveBytes int64

	// PeakBuffers is the largest number of simultaneously live buffers
	PeakBuffers int

	// PeakBytes is the largest simultaneous size of live buffers
	PeakBytes int64

	// Allocations counts every successful Allocate call
	Allocations int
}

// HeapAllocator allocates buffers from the Go heap. A positive Limit caps
// the number of bytes that may be live at the same time.
type HeapAllocator struct {
	// Limit is the maximum number of live bytes, zero means unlimited
	Limit int64

	mu    sync.Mutex
	live  map[*float64]int64
	stats AllocationStats
}

// NewHeapAllocator creates an allocator with the given byte limit
func NewHeapAllocator(limit int64) *HeapAllocator {
	return &HeapAllocator{
		Limit: limit,
		live:  make(map[*float64]int64),
	}
}

// Allocate returns a zeroed buffer of n values
func (a *HeapAllocator) Allocate(n int) ([]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: cannot allocate %d values", ErrAllocation, n)
	}
	size := int64(n) * 8

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.live == nil {
		a.live = make(map[*float64]int64)
	}
	if a.Limit > 0 && a.stats.LiveBytes+size > a.Limit {
		return nil, fmt.Errorf("%w: %d bytes requested with %d of %d bytes in use",
			ErrAllocation, size, a.stats.LiveBytes, a.Limit)
	}

	buf := make([]float64, n)
	a.live[&buf[0]] = size
	a.stats.Allocations++
	a.stats.LiveBuffers++
	a.stats.LiveBytes += size
	a.stats.PeakBuffers = max(a.stats.PeakBuffers, a.stats.LiveBuffers)
	a.stats.PeakBytes = max(a.stats.PeakBytes, a.stats.LiveBytes)
	return buf, nil
}

// Release marks a buffer as free. Unknown or already released buffers are ignored.
func (a *HeapAllocator) Release(buf []float64) {
	if len(buf) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	key := &buf[0]
	size, ok := a.live[key]
	if !ok {
		return
	}
	delete(a.live, key)
	a.stats.LiveBuffers--
	a.stats.LiveBytes -= size
}

// Stats returns a snapshot of the allocator's bookkeeping
func (a *HeapAllocator) Stats() AllocationStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
