// Package feedgateway serves a social-media media feed to a website through a
// read-through TTL cache, so repeated page requests do not reach the
// rate-limited upstream graph API.
//
// The Gateway type is the main entry point: create one with New from a
// [Config] (loadable from YAML or JSON with [LoadConfig]) and read pages
// with Feed. The HTTP surface lives in cmd/feedgw; the paginating consumer
// lives in package feed.
package feedgateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ferro-labs/feed-gateway/graph"
	"github.com/ferro-labs/feed-gateway/internal/cache"
	"github.com/ferro-labs/feed-gateway/internal/circuitbreaker"
	"github.com/ferro-labs/feed-gateway/internal/fetchlog"
	"github.com/ferro-labs/feed-gateway/internal/logging"
	"github.com/ferro-labs/feed-gateway/internal/metrics"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// ErrNotConfigured is returned by Feed when no upstream credential is set.
// Callers degrade to an empty response rather than reporting an error.
var ErrNotConfigured = errors.New("feed upstream not configured")

// Upstream fetches one page of media. *graph.Client implements it.
type Upstream interface {
	Fetch(ctx context.Context, q graph.Query) (*graph.Page, error)
}

// Source tells where a page returned by Feed came from.
type Source string

// Source values.
const (
	SourceHit    Source = "hit"
	SourceMiss   Source = "miss"
	SourceShared Source = "shared"
)

// Option customises a Gateway.
type Option func(*Gateway)

// WithUpstream replaces the graph client built from config.
func WithUpstream(u Upstream) Option {
	return func(g *Gateway) { g.upstream = u }
}

// WithCache replaces the cache built from config.
func WithCache(c cache.Cache[*graph.Page]) Option {
	return func(g *Gateway) { g.cache = c }
}

// WithFetchLog records every upstream call to w.
func WithFetchLog(w fetchlog.Writer) Option {
	return func(g *Gateway) { g.fetchLog = w }
}

// WithClock sets the clock used by the cache, breaker and timings.
func WithClock(c clockwork.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// Gateway reads feed pages through the cache.
type Gateway struct {
	config   Config
	clock    clockwork.Clock
	upstream Upstream
	cache    cache.Cache[*graph.Page]
	breaker  *circuitbreaker.CircuitBreaker
	fetchLog fetchlog.Writer
	group    singleflight.Group
}

// New creates a Gateway. Without an access token (and without
// WithUpstream) the gateway is valid but every Feed call returns
// ErrNotConfigured.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	g := &Gateway{config: cfg}
	for _, opt := range opts {
		opt(g)
	}
	if g.clock == nil {
		g.clock = clockwork.NewRealClock()
	}
	if g.fetchLog == nil {
		g.fetchLog = fetchlog.NoopWriter{}
	}

	if g.cache == nil {
		c, err := cache.New[*graph.Page](cfg.Cache.Backend, cache.Options{
			TTL:        cfg.Cache.TTL(),
			MaxEntries: cfg.Cache.Entries(),
			Clock:      g.clock,
		})
		if err != nil {
			return nil, err
		}
		g.cache = c
	}

	if g.upstream == nil && cfg.Upstream.AccessToken != "" {
		client, err := graph.NewClient(graph.Options{
			BaseURL:     cfg.Upstream.BaseURL,
			Version:     cfg.Upstream.Version,
			UserID:      cfg.Upstream.UserID,
			Fields:      cfg.Upstream.Fields,
			TokenSource: graph.StaticToken(cfg.Upstream.AccessToken),
			Timeout:     time.Duration(cfg.Upstream.TimeoutMS) * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("create graph client: %w", err)
		}
		g.upstream = client
	}

	g.breaker = circuitbreaker.New(circuitbreaker.Options{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		Timeout:          time.Duration(cfg.CircuitBreaker.TimeoutMS) * time.Millisecond,
		Clock:            g.clock,
		IsFailure:        graph.IsUpstreamFault,
		OnStateChange: func(s circuitbreaker.State) {
			metrics.CircuitBreakerState.Set(float64(s))
		},
	})
	return g, nil
}

// Configured reports whether an upstream is available.
func (g *Gateway) Configured() bool { return g.upstream != nil }

// Feed returns one page of the media feed, serving it from the cache when a
// fresh entry exists for the same limit and cursor. Concurrent misses for
// the same page share a single upstream call. A failed upstream call is
// never cached.
func (g *Gateway) Feed(ctx context.Context, q graph.Query) (*graph.Page, Source, error) {
	if g.upstream == nil {
		return nil, "", ErrNotConfigured
	}
	q = q.Normalize()
	key := cache.Key(q.Limit, q.After)
	log := logging.FromContext(ctx)

	if page, ok := g.cache.Get(key); ok {
		metrics.CacheRequests.WithLabelValues(string(SourceHit)).Inc()
		log.Debug("feed cache hit", "limit", q.Limit, "after", q.After)
		return page, SourceHit, nil
	}

	// The flight outlives any single caller's cancellation so joined callers
	// still get the result.
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := g.group.Do(key, func() (interface{}, error) {
		return g.fetch(flightCtx, key, q)
	})
	source := SourceMiss
	if shared {
		source = SourceShared
	}
	metrics.CacheRequests.WithLabelValues(string(source)).Inc()
	if err != nil {
		return nil, source, err
	}
	return v.(*graph.Page), source, nil
}

func (g *Gateway) fetch(ctx context.Context, key string, q graph.Query) (*graph.Page, error) {
	log := logging.FromContext(ctx)
	entry := fetchlog.Entry{
		TraceID: logging.TraceIDFromContext(ctx),
		Limit:   q.Limit,
		After:   q.After,
	}

	if err := g.breaker.Allow(); err != nil {
		metrics.UpstreamRequests.WithLabelValues(fetchlog.StatusCircuitOpen).Inc()
		entry.Status = fetchlog.StatusCircuitOpen
		entry.ErrorMessage = err.Error()
		g.record(ctx, entry)
		log.Warn("upstream skipped", "reason", "circuit_open")
		return nil, err
	}

	start := g.clock.Now()
	page, err := g.upstream.Fetch(ctx, q)
	elapsed := g.clock.Since(start)
	metrics.UpstreamDuration.Observe(elapsed.Seconds())
	g.breaker.Record(err)
	entry.DurationMS = elapsed.Milliseconds()

	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(fetchlog.StatusError).Inc()
		entry.Status = fetchlog.StatusError
		entry.ErrorMessage = err.Error()
		var se *graph.StatusError
		if errors.As(err, &se) {
			entry.HTTPStatus = se.StatusCode
		}
		g.record(ctx, entry)
		log.Warn("upstream fetch failed", "limit", q.Limit, "after", q.After, "error", err)
		return nil, fmt.Errorf("fetch media page: %w", err)
	}

	metrics.UpstreamRequests.WithLabelValues(fetchlog.StatusSuccess).Inc()
	entry.Status = fetchlog.StatusSuccess
	entry.HTTPStatus = 200
	entry.Items = page.Len()
	entry.HasMore = page.After() != ""
	g.record(ctx, entry)

	g.cache.Set(key, page)
	log.Debug("feed cache fill", "limit", q.Limit, "after", q.After, "items", page.Len())
	return page, nil
}

func (g *Gateway) record(ctx context.Context, entry fetchlog.Entry) {
	entry.CreatedAt = g.clock.Now().UTC()
	if err := g.fetchLog.Write(ctx, entry); err != nil {
		logging.FromContext(ctx).Error("fetch log write failed", "error", err)
	}
}

// RunSweeper removes expired cache entries every interval until ctx is done.
// A non-positive interval returns immediately.
func (g *Gateway) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := g.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := g.cache.SweepExpired(); n > 0 {
				logging.Logger.Debug("cache sweep", "removed", n)
			}
		}
	}
}

// CacheStats returns a snapshot of the cache counters.
func (g *Gateway) CacheStats() cache.Stats { return g.cache.Stats() }

// PurgeCache drops every cached page and returns how many were held.
func (g *Gateway) PurgeCache() int {
	n := g.cache.Len()
	g.cache.Clear()
	return n
}

// UpstreamState reports the upstream circuit breaker state.
func (g *Gateway) UpstreamState() circuitbreaker.State { return g.breaker.State() }

// Config returns the configuration the gateway was built from.
func (g *Gateway) Config() Config { return g.config }
