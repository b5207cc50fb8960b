// ABOUTME: Tests for the delivery marker cache.
// ABOUTME: Validates TTL expiration, size limits, eviction, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndMark_NewKey(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	// First sighting is not a duplicate, second is
	assert.False(t, cache.CheckAndMark("evt-1|agent-1"))
	assert.True(t, cache.CheckAndMark("evt-1|agent-1"))
}

func TestCheckAndMark_DistinctSubscribers(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	// Same event for different subscribers is not a duplicate
	assert.False(t, cache.CheckAndMark("evt-1|agent-1"))
	assert.False(t, cache.CheckAndMark("evt-1|agent-2"))
}

func TestCheckAndMark_Expired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("expiring"))

	time.Sleep(20 * time.Millisecond)

	// Marker expired, key is treated as new again
	assert.False(t, cache.CheckAndMark("expiring"))
}

func TestEvictionAtCapacity(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	for i := 0; i < 3; i++ {
		cache.CheckAndMark(fmt.Sprintf("key-%d", i))
	}
	assert.Equal(t, 3, cache.Len())

	// Adding a fourth evicts the oldest
	cache.CheckAndMark("key-3")
	assert.Equal(t, 3, cache.Len())
	assert.False(t, cache.CheckAndMark("key-0"))
}

func TestRunCleanupRemovesExpired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.CheckAndMark("a")
	cache.CheckAndMark("b")
	time.Sleep(20 * time.Millisecond)

	cache.runCleanup()
	assert.Equal(t, 0, cache.Len())
}

func TestCloseIsIdempotent(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	cache.Close()
}

func TestConcurrentCheckAndMark(t *testing.T) {
	cache := New(time.Minute, 1000)
	defer cache.Close()

	// Exactly one goroutine should win each key
	var wg sync.WaitGroup
	wins := make(chan string, 1000)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d", j)
				if !cache.CheckAndMark(key) {
					wins <- key
				}
			}
		}()
	}
	wg.Wait()
	close(wins)

	seen := map[string]int{}
	for key := range wins {
		seen[key]++
	}
	for key, count := range seen {
		assert.Equal(t, 1, count, "key %s marked new more than once", key)
	}
	assert.Len(t, seen, 100)
}
