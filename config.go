package feedgateway

import (
	"time"

	"github.com/ferro-labs/feed-gateway/graph"
	"github.com/ferro-labs/feed-gateway/internal/cache"
)

// Config holds the configuration for the feed gateway.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `json:"server" yaml:"server"`
	// Upstream configures the graph API client.
	Upstream UpstreamConfig `json:"upstream" yaml:"upstream"`
	// Cache configures the read-through page cache.
	Cache CacheConfig `json:"cache" yaml:"cache"`
	// CircuitBreaker guards the upstream (optional).
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`
	// RateLimit applies per client IP on the feed endpoint (optional).
	RateLimit RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	// FetchLog persists upstream calls (optional).
	FetchLog FetchLogConfig `json:"fetch_log,omitempty" yaml:"fetch_log,omitempty"`
	// Admin enables the /admin routes when Token is set.
	Admin AdminConfig `json:"admin,omitempty" yaml:"admin,omitempty"`
	// Log configures the process logger.
	Log LogConfig `json:"log,omitempty" yaml:"log,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr        string   `json:"addr" yaml:"addr"`
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
}

// UpstreamConfig configures the graph API client. An empty AccessToken is
// not an error: the feed endpoint then serves an empty body.
type UpstreamConfig struct {
	BaseURL     string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Version     string   `json:"version,omitempty" yaml:"version,omitempty"`
	UserID      string   `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	AccessToken string   `json:"access_token,omitempty" yaml:"access_token,omitempty"`
	Fields      []string `json:"fields,omitempty" yaml:"fields,omitempty"`
	TimeoutMS   int      `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// CacheConfig configures the page cache.
type CacheConfig struct {
	// Backend is "memory" (default, soft bound) or "lru" (hard bound).
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	// TTLMillis is the entry lifetime. Nil or negative means the default of
	// 15 minutes; zero disables caching.
	TTLMillis *int64 `json:"ttl_ms,omitempty" yaml:"ttl_ms,omitempty"`
	// MaxEntries is the size at which inserts first sweep expired entries.
	MaxEntries int `json:"max_entries,omitempty" yaml:"max_entries,omitempty"`
	// SweepIntervalMS runs a background sweep when positive.
	SweepIntervalMS int `json:"sweep_interval_ms,omitempty" yaml:"sweep_interval_ms,omitempty"`
}

// TTL resolves the configured entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLMillis == nil || *c.TTLMillis < 0 {
		return cache.DefaultTTL
	}
	return time.Duration(*c.TTLMillis) * time.Millisecond
}

// Entries resolves the configured size bound.
func (c CacheConfig) Entries() int {
	if c.MaxEntries <= 0 {
		return cache.DefaultMaxEntries
	}
	return c.MaxEntries
}

// CircuitBreakerConfig configures the upstream circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`
	SuccessThreshold int `json:"success_threshold,omitempty" yaml:"success_threshold,omitempty"`
	TimeoutMS        int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// RateLimitConfig configures the per-IP token bucket. Zero RPS disables it.
type RateLimitConfig struct {
	RPS   float64 `json:"rps,omitempty" yaml:"rps,omitempty"`
	Burst float64 `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// FetchLogConfig configures upstream fetch persistence. An empty DSN with an
// empty driver disables it.
type FetchLogConfig struct {
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// Enabled reports whether a fetch log should be opened.
func (c FetchLogConfig) Enabled() bool {
	return c.Driver != "" || c.DSN != ""
}

// AdminConfig configures the admin routes.
type AdminConfig struct {
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Upstream: UpstreamConfig{
			BaseURL: graph.DefaultBaseURL,
			UserID:  "me",
		},
		Cache: CacheConfig{
			Backend:    cache.BackendMemory,
			MaxEntries: cache.DefaultMaxEntries,
		},
	}
}
