// Package metrics registers the Prometheus metrics used by the feed gateway.
// All metrics are registered on the default registry at import time, before
// the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache metrics.
var (
	// CacheRequests counts feed lookups labelled by result ("hit", "miss",
	// "shared"). A shared result is a miss that joined an in-flight fetch.
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedgw_cache_requests_total",
			Help: "Total feed cache lookups by result.",
		},
		[]string{"result"},
	)

	// CacheEvictions counts removed entries by reason ("stale", "sweep", "lru").
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedgw_cache_evictions_total",
			Help: "Total feed cache evictions by reason.",
		},
		[]string{"reason"},
	)

	// CacheEntries tracks the number of entries currently held.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedgw_cache_entries",
			Help: "Number of entries in the feed cache.",
		},
	)
)

// Upstream metrics.
var (
	// UpstreamRequests counts graph API calls by outcome ("success", "error",
	// "circuit_open").
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedgw_upstream_requests_total",
			Help: "Total upstream graph API requests by outcome.",
		},
		[]string{"status"},
	)

	// UpstreamDuration observes upstream call latency in seconds.
	UpstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedgw_upstream_duration_seconds",
			Help:    "Upstream graph API request duration in seconds.",
			Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// CircuitBreakerState tracks the upstream breaker as a gauge:
	// 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedgw_circuit_breaker_state",
			Help: "Upstream circuit breaker state (0=closed 1=open 2=half_open).",
		},
	)
)

// RateLimitRejections counts feed requests rejected by the per-IP limiter.
var RateLimitRejections = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "feedgw_rate_limit_rejections_total",
		Help: "Total feed requests rejected by rate limiting.",
	},
)
