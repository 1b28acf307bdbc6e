package clock

import (
	"sync"
	"sync/atomic"
)

// Allocator hands out per-replica logical clocks.
//
// Each replica has its own monotonic counter. Reserve(replica, n) returns
// the first clock of a fresh, never-reused range of n clocks. Observe pushes
// a counter past clocks seen from elsewhere (e.g. a replica's own edits
// loaded back from a snapshot), so a reloaded replica never reissues them.
//
// Thread-safety: Allocator is safe for concurrent use. Each counter is
// atomic; the map of counters is guarded by a mutex.
type Allocator struct {
	mu       sync.Mutex
	counters map[string]*atomic.Uint64
}

// NewAllocator creates an allocator with no replicas.
func NewAllocator() *Allocator {
	return &Allocator{counters: make(map[string]*atomic.Uint64)}
}

func (a *Allocator) counter(replica string) *atomic.Uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.counters[replica]
	if !ok {
		c = &atomic.Uint64{}
		a.counters[replica] = c
	}
	return c
}

// Reserve allocates n consecutive clocks for replica and returns the first.
// The first clock ever returned for a replica is 1.
func (a *Allocator) Reserve(replica string, n uint64) uint64 {
	if n == 0 {
		n = 1
	}
	return a.counter(replica).Add(n) - n + 1
}

// Next allocates a single clock for replica.
func (a *Allocator) Next(replica string) uint64 {
	return a.Reserve(replica, 1)
}

// Observe records that clock has been used by replica. Later reservations
// start strictly after it.
func (a *Allocator) Observe(replica string, clock uint64) {
	c := a.counter(replica)
	for {
		cur := c.Load()
		if cur >= clock || c.CompareAndSwap(cur, clock) {
			return
		}
	}
}

// Current returns the last clock allocated or observed for replica.
func (a *Allocator) Current(replica string) uint64 {
	return a.counter(replica).Load()
}
