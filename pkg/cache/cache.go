package cache

import (
	"context"
	"sync"
	"time"
)

// Item represents a cached item with expiration
type Item[V any] struct {
	Value      V
	Expiration int64
}

// Expired checks if the cache item has expired
func (item Item[V]) Expired(now int64) bool {
	if item.Expiration == 0 {
		return false
	}
	return now > item.Expiration
}

// Options configures a Cache
type Options struct {
	TTL      time.Duration
	MaxItems int
}

// Cache is a thread-safe in-memory cache with expiration
type Cache[K comparable, V any] struct {
	items             map[K]Item[V]
	mu                sync.RWMutex
	defaultExpiration time.Duration
	maxItems          int
	now               func() time.Time
}

// New creates a cache with the given default expiration and capacity
func New[K comparable, V any](opts Options) *Cache[K, V] {
	return &Cache[K, V]{
		items:             make(map[K]Item[V]),
		defaultExpiration: opts.TTL,
		maxItems:          opts.MaxItems,
		now:               time.Now,
	}
}

// Set adds an item to the cache with the default expiration
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithExpiration(key, value, c.defaultExpiration)
}

// SetWithExpiration adds an item to the cache with a specific expiration time
func (c *Cache[K, V]) SetWithExpiration(key K, value V, d time.Duration) {
	var exp int64
	if d > 0 {
		exp = c.now().Add(d).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxItems > 0 && len(c.items) >= c.maxItems {
		c.evictOldest()
	}

	c.items[key] = Item[V]{Value: value, Expiration: exp}
}

// Get retrieves an item from the cache
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[key]
	if !found || item.Expired(c.now().UnixNano()) {
		var zero V
		return zero, false
	}

	return item.Value, true
}

// Delete removes an item from the cache
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Count returns the number of items in the cache (including expired items)
func (c *Cache[K, V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Run purges expired entries every interval until ctx is done
func (c *Cache[K, V]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.deleteExpired()
		}
	}
}

func (c *Cache[K, V]) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UnixNano()
	for k, v := range c.items {
		if v.Expired(now) {
			delete(c.items, k)
		}
	}
}

// evictOldest removes the entry closest to expiry; callers hold the lock
func (c *Cache[K, V]) evictOldest() {
	var oldestKey K
	var oldest int64
	found := false

	for k, v := range c.items {
		if !found || (v.Expiration != 0 && (oldest == 0 || v.Expiration < oldest)) {
			oldestKey = k
			oldest = v.Expiration
			found = true
		}
	}

	if found {
		delete(c.items, oldestKey)
	}
}
