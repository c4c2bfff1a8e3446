package main

import (
	"encoding/json"
	"net/http"

	feedgateway "github.com/ferro-labs/feed-gateway"
	"github.com/ferro-labs/feed-gateway/internal/admin"
	"github.com/ferro-labs/feed-gateway/internal/fetchlog"
	"github.com/ferro-labs/feed-gateway/internal/logging"
	"github.com/ferro-labs/feed-gateway/internal/metrics"
	"github.com/ferro-labs/feed-gateway/internal/ratelimit"
	"github.com/ferro-labs/feed-gateway/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// routerOptions carries the optional pieces of the HTTP surface.
type routerOptions struct {
	CORSOrigins []string
	// Limiter rate-limits the feed endpoint per client IP when set.
	Limiter *ratelimit.Store
	// AdminToken mounts /admin when non-empty.
	AdminToken string
	Fetches    fetchlog.Reader
	FetchAdmin fetchlog.Maintainer
}

// newRouter builds the HTTP router.
func newRouter(gw *feedgateway.Gateway, opts routerOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", logging.TraceHeader},
		ExposedHeaders: []string{cacheHeader, logging.TraceHeader},
	}).Handler)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"version":    version.Short(),
			"configured": gw.Configured(),
			"cache":      gw.CacheStats(),
			"upstream":   gw.UpstreamState().String(),
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(ratelimit.Middleware(opts.Limiter, func(w http.ResponseWriter, r *http.Request) {
				metrics.RateLimitRejections.Inc()
				logging.FromContext(r.Context()).Warn("feed request rate limited", "remote", r.RemoteAddr)
				writeNull(w, http.StatusTooManyRequests)
			}))
		}
		r.Get(feedPath, feedHandler(gw))
	})

	if opts.AdminToken != "" {
		adminHandlers := &admin.Handlers{
			Cache:      gw,
			Fetches:    opts.Fetches,
			FetchAdmin: opts.FetchAdmin,
		}
		r.Route("/admin", func(r chi.Router) {
			r.Use(admin.AuthMiddleware(opts.AdminToken))
			r.Mount("/", adminHandlers.Routes())
		})
	}

	return r
}
