package cache

import (
	"sync"
	"time"

	"github.com/ferro-labs/feed-gateway/internal/metrics"
	"github.com/jonboulle/clockwork"
)

type memoryEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// Options configures a cache backend.
type Options struct {
	// TTL is how long an entry is served. Zero or negative disables caching:
	// every Get misses and every Set is dropped.
	TTL time.Duration
	// MaxEntries is the size at which a Set first sweeps expired entries.
	// Defaults to DefaultMaxEntries.
	MaxEntries int
	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// Memory is a thread-safe in-memory TTL cache with a soft size bound.
//
// When the store is at or above MaxEntries, Set sweeps expired entries and
// then inserts unconditionally, so the store may briefly hold more than
// MaxEntries entries if nothing had expired yet.
type Memory[V any] struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	ttl        time.Duration
	maxEntries int
	items      map[string]memoryEntry[V]

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewMemory creates a new soft-bounded in-memory cache.
func NewMemory[V any](opts Options) *Memory[V] {
	opts = opts.withDefaults()
	return &Memory[V]{
		clock:      opts.Clock,
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		items:      make(map[string]memoryEntry[V]),
	}
}

// Enabled reports whether the cache stores anything at all.
func (m *Memory[V]) Enabled() bool { return m.ttl > 0 }

// Get returns the cached value for key if it has not yet expired. A stale
// entry found here is removed.
func (m *Memory[V]) Get(key string) (V, bool) {
	var zero V
	if !m.Enabled() {
		m.mu.Lock()
		m.misses++
		m.mu.Unlock()
		return zero, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.evictIfStale(key, m.clock.Now()) {
		m.misses++
		return zero, false
	}
	entry, ok := m.items[key]
	if !ok {
		m.misses++
		return zero, false
	}
	m.hits++
	return entry.value, true
}

// Set stores value under key for the configured TTL, replacing any previous
// entry wholesale.
func (m *Memory[V]) Set(key string, value V) {
	if !m.Enabled() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if len(m.items) >= m.maxEntries {
		m.sweepExpired(now)
	}
	m.items[key] = memoryEntry[V]{value: value, expiresAt: now.Add(m.ttl)}
	metrics.CacheEntries.Set(float64(len(m.items)))
}

// SweepExpired removes every entry whose expiry is at or before now and
// returns how many were removed.
func (m *Memory[V]) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepExpired(m.clock.Now())
}

// Delete removes an entry from the cache.
func (m *Memory[V]) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	metrics.CacheEntries.Set(float64(len(m.items)))
}

// Len returns the number of entries currently stored, including stale ones
// not yet evicted.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Clear removes all entries from the cache.
func (m *Memory[V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]memoryEntry[V])
	metrics.CacheEntries.Set(0)
}

// Stats returns a snapshot of the cache counters.
func (m *Memory[V]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Backend:    BackendMemory,
		Enabled:    m.ttl > 0,
		TTL:        m.ttl,
		MaxEntries: m.maxEntries,
		Entries:    len(m.items),
		Hits:       m.hits,
		Misses:     m.misses,
		Evictions:  m.evictions,
	}
}

// evictIfStale must be called with m.mu held.
func (m *Memory[V]) evictIfStale(key string, now time.Time) bool {
	entry, ok := m.items[key]
	if !ok || now.Before(entry.expiresAt) {
		return false
	}
	delete(m.items, key)
	m.evictions++
	metrics.CacheEvictions.WithLabelValues("stale").Inc()
	metrics.CacheEntries.Set(float64(len(m.items)))
	return true
}

// sweepExpired must be called with m.mu held.
func (m *Memory[V]) sweepExpired(now time.Time) int {
	removed := 0
	for key, entry := range m.items {
		if now.Before(entry.expiresAt) {
			continue
		}
		delete(m.items, key)
		removed++
	}
	if removed > 0 {
		m.evictions += uint64(removed)
		metrics.CacheEvictions.WithLabelValues("sweep").Add(float64(removed))
		metrics.CacheEntries.Set(float64(len(m.items)))
	}
	return removed
}
