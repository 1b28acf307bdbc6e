package merge

import (
	"context"
	"sync"
)

// KeyedMutex hands out one lock per Key. A lock lives only while some
// goroutine holds or waits for it.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[Key]*keyLock
}

// keyLock is a one-slot semaphore so waiting can observe a context.
type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[Key]*keyLock)}
}

// Lock blocks until the lock for key is held or ctx is done. On success
// the returned function releases the lock; it must be called exactly once.
func (k *KeyedMutex) Lock(ctx context.Context, key Key) (func(), error) {
	l := k.acquireRef(key)
	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			k.releaseRef(key, l)
		}, nil
	case <-ctx.Done():
		k.releaseRef(key, l)
		return nil, ctx.Err()
	}
}

func (k *KeyedMutex) acquireRef(key Key) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *KeyedMutex) releaseRef(key Key, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Len returns how many keys currently have a holder or waiter.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
