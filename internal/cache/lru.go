package cache

import (
	"sync/atomic"
	"time"

	"github.com/ferro-labs/feed-gateway/internal/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRU is a hard-bounded TTL cache: once MaxEntries is reached the least
// recently used entry is evicted on insert. It always uses the real clock.
type LRU[V any] struct {
	ttl        time.Duration
	maxEntries int
	lru        *expirable.LRU[string, V]

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewLRU creates a hard-bounded cache. Options.Clock is ignored.
func NewLRU[V any](opts Options) *LRU[V] {
	opts = opts.withDefaults()
	c := &LRU[V]{ttl: opts.TTL, maxEntries: opts.MaxEntries}
	if opts.TTL > 0 {
		c.lru = expirable.NewLRU[string, V](opts.MaxEntries, c.onEvict, opts.TTL)
	}
	return c
}

func (c *LRU[V]) onEvict(_ string, _ V) {
	c.evictions.Add(1)
	metrics.CacheEvictions.WithLabelValues("lru").Inc()
}

// Get returns the cached value for key if present and not expired.
func (c *LRU[V]) Get(key string) (V, bool) {
	var zero V
	if c.lru == nil {
		c.misses.Add(1)
		return zero, false
	}
	v, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	c.hits.Add(1)
	return v, true
}

// Set stores value under key, evicting the least recently used entry when full.
func (c *LRU[V]) Set(key string, value V) {
	if c.lru == nil {
		return
	}
	c.lru.Add(key, value)
	metrics.CacheEntries.Set(float64(c.lru.Len()))
}

// SweepExpired removes entries that have expired but were not yet collected
// by the library's background cleanup.
func (c *LRU[V]) SweepExpired() int {
	if c.lru == nil {
		return 0
	}
	removed := 0
	for _, key := range c.lru.Keys() {
		if _, ok := c.lru.Peek(key); ok {
			continue
		}
		if c.lru.Remove(key) {
			removed++
		}
	}
	metrics.CacheEntries.Set(float64(c.lru.Len()))
	return removed
}

// Delete removes an entry from the cache.
func (c *LRU[V]) Delete(key string) {
	if c.lru == nil {
		return
	}
	c.lru.Remove(key)
}

// Len returns the number of stored entries.
func (c *LRU[V]) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// Clear removes all entries.
func (c *LRU[V]) Clear() {
	if c.lru == nil {
		return
	}
	c.lru.Purge()
	metrics.CacheEntries.Set(0)
}

// Stats returns a snapshot of the cache counters.
func (c *LRU[V]) Stats() Stats {
	return Stats{
		Backend:    BackendLRU,
		Enabled:    c.lru != nil,
		TTL:        c.ttl,
		MaxEntries: c.maxEntries,
		Entries:    c.Len(),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
	}
}
