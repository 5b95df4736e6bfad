// ABOUTME: TTL and size bounded cache of recently seen client request ids
// ABOUTME: The coordinator uses it to reject replayed coordination requests

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often expired keys are swept.
const DefaultCleanupInterval = time.Minute

type cacheEntry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache remembers keys for a TTL. When full, the oldest key is evicted.
// Insertion order lives in a linked list so eviction is O(1).
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	interval time.Duration
	done     chan struct{}
	closed   bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithCleanupInterval sets how often expired keys are swept. Zero disables the sweep.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Cache) { c.interval = d }
}

// New creates a cache. A non-positive maxSize means one entry.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		seen:     make(map[string]*cacheEntry),
		order:    list.New(),
		ttl:      ttl,
		maxSize:  maxSize,
		now:      time.Now,
		interval: DefaultCleanupInterval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.interval > 0 {
		go c.cleanup()
	}
	return c
}

// Key scopes a client request id to one user.
func Key(userID, requestID string) string {
	return userID + "\x00" + requestID
}

// Seen reports whether key was marked within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.seen[key]
	return ok && c.now().Sub(entry.seenAt) < c.ttl
}

// CheckAndMark reports whether key was already seen and, if not, marks it.
// Check and mark happen under one lock so two concurrent replays cannot both pass.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.seen[key]; ok && now.Sub(entry.seenAt) < c.ttl {
		return true
	}
	c.markLocked(key, now)
	return false
}

// Forget drops key so the same request may be submitted again.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.seen[key]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Len returns the number of keys held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) markLocked(key string, now time.Time) {
	if entry, exists := c.seen[key]; exists {
		entry.seenAt = now
		c.order.MoveToBack(entry.element)
		return
	}
	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}
	c.seen[key] = &cacheEntry{seenAt: now, element: c.order.PushBack(key)}
}

func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes expired keys.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		key, _ := e.Value.(string)
		if entry := c.seen[key]; entry != nil && now.Sub(entry.seenAt) >= c.ttl {
			c.order.Remove(e)
			delete(c.seen, key)
		}
		e = next
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
