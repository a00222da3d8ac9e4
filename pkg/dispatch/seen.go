// ABOUTME: TTL-bounded cache of recently used idempotency keys.
// ABOUTME: Oldest keys evict first when the size cap is reached.

package dispatch

import (
	"container/list"
	"sync"
	"time"
)

// seenEntry tracks when a key was marked and its eviction-order element.
type seenEntry struct {
	markedAt time.Time
	element  *list.Element
}

// seenCache remembers idempotency keys for the dedupe window. It is sized
// and TTL-bounded; expired entries are reaped lazily on access, so no
// background goroutine is needed for the handful of keys a client produces.
type seenCache struct {
	mu      sync.Mutex
	keys    map[string]*seenEntry
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

func newSeenCache(ttl time.Duration, maxSize int) *seenCache {
	return &seenCache{
		keys:    make(map[string]*seenEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// checkAndMark atomically reports whether key was already marked within the
// TTL and marks it if not. True means duplicate.
func (c *seenCache) checkAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.keys[key]; ok {
		if now.Sub(entry.markedAt) < c.ttl {
			return true
		}
		c.order.Remove(entry.element)
		delete(c.keys, key)
	}

	if len(c.keys) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.keys[key] = &seenEntry{markedAt: now, element: c.order.PushBack(key)}
	return false
}

// forget drops a key so a failed dispatch can be retried by the caller.
func (c *seenCache) forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.keys[key]; ok {
		c.order.Remove(entry.element)
		delete(c.keys, key)
	}
}

// evictOldestLocked removes the oldest key. Must be called with mu held.
func (c *seenCache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.keys, key)
}
