package compactor

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/weave/internal/merge"
)

// keyQueue is a thread-safe FIFO of document keys awaiting compaction.
//
// A key already queued is not queued again; its pending updates are
// picked up by the one compaction that runs.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type keyQueue struct {
	mu     sync.Mutex
	keys   []merge.Key
	queued mapset.Set[merge.Key]
	closed bool
	signal chan struct{} // buffered, size 1
}

func newKeyQueue() *keyQueue {
	return &keyQueue{
		keys:   make([]merge.Key, 0, 16),
		queued: mapset.NewThreadUnsafeSet[merge.Key](),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds key to the back of the queue.
// Returns false if the queue is closed.
func (q *keyQueue) Enqueue(key merge.Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if !q.queued.Add(key) {
		return true
	}
	q.keys = append(q.keys, key)

	// Buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front key without blocking.
func (q *keyQueue) TryDequeue() (merge.Key, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.keys) == 0 {
		return merge.Key{}, false
	}
	k := q.keys[0]
	if len(q.keys) == 1 {
		q.keys = q.keys[:0]
	} else {
		q.keys = q.keys[1:]
	}
	q.queued.Remove(k)
	return k, true
}

// Wait returns a channel that signals when keys may be available.
// The channel is closed once the queue is closed.
func (q *keyQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *keyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keys)
}

// Closed reports whether Close was called.
func (q *keyQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting keys and wakes any waiter.
func (q *keyQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
