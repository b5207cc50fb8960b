// ABOUTME: Strict-FIFO asynchronous lock serializing directory mutations.
// ABOUTME: Waiters are granted ownership in arrival order, never by race.

package directory

import (
	"context"
	"sync"
)

// fifoLock is an exclusive lock whose waiters acquire in strict arrival
// order. The directory holds it across every read/mutate/write persistence
// cycle, so concurrent mutations serialize and none are lost.
type fifoLock struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

// Acquire blocks until the caller owns the lock or ctx is done. Ownership
// transfers to waiters in FIFO order.
func (l *fifoLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if !l.locked && len(l.waiters) == 0 {
		l.locked = true
		l.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ch {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// Ownership was already granted between Done and now; give it up
		// so the next waiter is not starved.
		l.Release()
		return ctx.Err()
	}
}

// Release passes ownership to the oldest waiter, or unlocks if none wait.
func (l *fifoLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.waiters) > 0 {
		ch := l.waiters[0]
		l.waiters = l.waiters[1:]
		close(ch) // lock stays held, ownership transfers
		return
	}
	l.locked = false
}
