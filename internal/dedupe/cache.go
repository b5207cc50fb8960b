// ABOUTME: Thread-safe TTL marker cache for at-least-once notification delivery.
// ABOUTME: Tracks which (event, subscriber) pairs were already stored or replayed.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// markerEntry stores the timestamp and list element for a cached key.
type markerEntry struct {
	timestamp time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited set of delivery markers.
// The notification bus uses it to avoid double-storing the same event in a
// subscriber's pending queue; the rpc layer uses it to drop replayed
// privileged injections. A doubly-linked list maintains insertion order
// for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*markerEntry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a marker cache with the given TTL and maximum size.
// A background goroutine periodically removes expired markers.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*markerEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// CheckAndMark atomically checks whether a key was already marked and marks
// it if not. Returns true if the key was already present (duplicate), false
// if it is new and now marked.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if ok && time.Since(entry.timestamp) < c.ttl {
		return true
	}

	c.markLocked(key)
	return false
}

// Len returns the number of markers currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// markLocked records a key. Must be called with mu held.
func (c *Cache) markLocked(key string) {
	now := time.Now()

	if entry, exists := c.seen[key]; exists {
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &markerEntry{
		timestamp: now,
		element:   elem,
	}
}

// evictOldest removes the oldest marker. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// cleanup runs in a background goroutine, periodically removing expired markers.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
