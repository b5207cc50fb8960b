// ABOUTME: Tests for the strict-FIFO asynchronous lock.
// ABOUTME: Verifies exclusion, arrival-order grants, and cancellation.

package directory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOLockExclusion(t *testing.T) {
	var l fifoLock
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				require.NoError(t, l.Acquire(ctx))
				counter++
				l.Release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, counter)
}

func TestFIFOLockGrantsInArrivalOrder(t *testing.T) {
	var l fifoLock
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))

	const waiters = 5
	order := make(chan int, waiters)
	ready := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n == 0 {
				close(ready)
			} else {
				<-ready
				// Queue one waiter at a time so arrival order is deterministic
				time.Sleep(time.Duration(n) * 20 * time.Millisecond)
			}
			require.NoError(t, l.Acquire(ctx))
			order <- n
			l.Release()
		}(i)
	}

	// Let all waiters queue up behind the held lock
	time.Sleep(time.Duration(waiters) * 25 * time.Millisecond)
	l.Release()
	wg.Wait()
	close(order)

	var got []int
	for n := range order {
		got = append(got, n)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestFIFOLockCancelledWaiter(t *testing.T) {
	var l fifoLock

	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.Acquire(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	// The cancelled waiter must not absorb the lock
	l.Release()
	require.NoError(t, l.Acquire(context.Background()))
	l.Release()
}
