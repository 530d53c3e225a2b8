package utils

import (
	"context"
	"sync"
)

// KeyedQueue serializes work per key in arrival order. Work on different
// keys runs concurrently.
type KeyedQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{} // last waiter per key, protected by mu
}

// NewKeyedQueue creates an empty queue.
func NewKeyedQueue() *KeyedQueue {
	return &KeyedQueue{tails: make(map[string]chan struct{})}
}

// Acquire waits until every earlier holder of key has released. The
// caller must call release exactly once. If ctx ends first, the slot is
// handed on once the predecessor finishes and ctx's error is returned.
func (q *KeyedQueue) Acquire(ctx context.Context, key string) (release func(), err error) {
	q.mu.Lock()
	prev := q.tails[key]
	done := make(chan struct{})
	q.tails[key] = done
	q.mu.Unlock()

	var once sync.Once
	release = func() {
		once.Do(func() {
			q.mu.Lock()
			if q.tails[key] == done {
				delete(q.tails, key)
			}
			q.mu.Unlock()
			close(done)
		})
	}

	if prev == nil {
		return release, nil
	}

	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		go func() {
			<-prev
			release()
		}()
		return nil, ctx.Err()
	}
}

// Pending reports whether key has a holder or waiters.
func (q *KeyedQueue) Pending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.tails[key]
	return ok
}
