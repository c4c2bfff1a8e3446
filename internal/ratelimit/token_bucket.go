// Package ratelimit provides a simple in-memory token-bucket rate limiter and
// an HTTP middleware that applies it per client IP. The feed endpoint uses it
// so a single client cannot burn through the upstream API quota by paging
// with fresh cursors.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Limiter is a single token-bucket rate limiter.
type Limiter struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	rate       float64 // tokens added per second
	burst      float64 // maximum token capacity
	tokens     float64 // current token count
	lastRefill time.Time
}

// New creates a Limiter allowing ratePerSecond requests/s with a burst capacity.
// If burst <= 0, it defaults to ratePerSecond (no extra burst). A nil clock
// means the real clock.
func New(ratePerSecond, burst float64, clock clockwork.Clock) *Limiter {
	if burst <= 0 {
		burst = ratePerSecond
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{
		clock:      clock,
		rate:       ratePerSecond,
		burst:      burst,
		tokens:     burst,
		lastRefill: clock.Now(),
	}
}

// Allow consumes one token and returns true if the request is permitted.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefill = now

	if l.tokens >= 1.0 {
		l.tokens--
		return true
	}
	return false
}

// idle reports whether the bucket has been full for at least d.
func (l *Limiter) idle(now time.Time, d time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return now.Sub(l.lastRefill) >= d
}

// Store maintains per-key Limiter instances.
type Store struct {
	mu       sync.RWMutex
	clock    clockwork.Clock
	limiters map[string]*Limiter
	rate     float64
	burst    float64
}

// NewStore creates a Store whose per-key limiters share the same rate/burst.
func NewStore(ratePerSecond, burst float64, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:    clock,
		limiters: make(map[string]*Limiter),
		rate:     ratePerSecond,
		burst:    burst,
	}
}

// Allow checks (and creates if needed) the limiter for key.
func (s *Store) Allow(key string) bool {
	s.mu.RLock()
	l, ok := s.limiters[key]
	s.mu.RUnlock()
	if ok {
		return l.Allow()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.limiters[key]; ok {
		return l.Allow()
	}
	l = New(s.rate, s.burst, s.clock)
	s.limiters[key] = l
	return l.Allow()
}

// Prune drops limiters untouched for at least idleFor and returns how many
// were removed.
func (s *Store) Prune(idleFor time.Duration) int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, l := range s.limiters {
		if l.idle(now, idleFor) {
			delete(s.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}

// Middleware rejects requests whose client IP has run out of tokens by
// calling reject. It keys on r.RemoteAddr, so mount chi's RealIP first.
func Middleware(store *Store, reject http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.Allow(clientIP(r)) {
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
