// Package cache provides the read-through caches that sit in front of the
// upstream graph API. Memory is the default soft-bounded store; LRU is a
// hard-bounded alternative backed by hashicorp/golang-lru.
package cache

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Defaults used when Options leave a field unset.
const (
	DefaultTTL        = 15 * time.Minute
	DefaultMaxEntries = 50
)

// Backend names accepted by configuration.
const (
	BackendMemory = "memory"
	BackendLRU    = "lru"
)

// Cache defines the interface shared by the cache backends. None of the
// methods can fail.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V)
	Delete(key string)
	SweepExpired() int
	Len() int
	Clear()
	Stats() Stats
}

// Stats is a point-in-time snapshot of a cache's counters.
type Stats struct {
	Backend    string        `json:"backend"`
	Enabled    bool          `json:"enabled"`
	TTL        time.Duration `json:"ttl"`
	MaxEntries int           `json:"max_entries"`
	Entries    int           `json:"entries"`
	Hits       uint64        `json:"hits"`
	Misses     uint64        `json:"misses"`
	Evictions  uint64        `json:"evictions"`
}

// Key builds the cache key for one feed page request. Requests with the same
// limit and cursor always share a key. The first page ("no cursor") and a
// page with a real cursor can never collide because they use different
// markers after the limit.
func Key(limit int, after string) string {
	var b strings.Builder
	b.WriteString("media:")
	b.WriteString(strconv.Itoa(limit))
	if after == "" {
		b.WriteString(":-")
		return b.String()
	}
	b.WriteString(":+")
	b.WriteString(after)
	return b.String()
}

// New builds the backend named by backend ("" means BackendMemory).
func New[V any](backend string, opts Options) (Cache[V], error) {
	switch backend {
	case "", BackendMemory:
		return NewMemory[V](opts), nil
	case BackendLRU:
		return NewLRU[V](opts), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
