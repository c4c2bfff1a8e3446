package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	feedgateway "github.com/ferro-labs/feed-gateway"
	"github.com/ferro-labs/feed-gateway/internal/fetchlog"
	"github.com/ferro-labs/feed-gateway/internal/logging"
	"github.com/ferro-labs/feed-gateway/internal/ratelimit"
	"github.com/ferro-labs/feed-gateway/internal/version"
	"github.com/jonboulle/clockwork"
)

// Idle per-IP limiters are dropped after this long.
const limiterIdleTTL = 10 * time.Minute

func main() {
	cfg := feedgateway.DefaultConfig()
	if cfgPath := os.Getenv("FEEDGW_CONFIG"); cfgPath != "" {
		loaded, err := feedgateway.LoadConfig(cfgPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *loaded
	}
	feedgateway.ApplyEnv(&cfg, os.Getenv)
	if err := feedgateway.ValidateConfig(cfg); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	logger := logging.Logger

	clock := clockwork.NewRealClock()
	opts := []feedgateway.Option{feedgateway.WithClock(clock)}
	routerOpts := routerOptions{
		CORSOrigins: cfg.Server.CORSOrigins,
		AdminToken:  cfg.Admin.Token,
	}

	if cfg.FetchLog.Enabled() {
		store, err := fetchlog.Open(cfg.FetchLog.Driver, cfg.FetchLog.DSN)
		if err != nil {
			log.Fatalf("Failed to open fetch log: %v", err)
		}
		defer func() { _ = store.Close() }()
		opts = append(opts, feedgateway.WithFetchLog(store))
		routerOpts.Fetches = store
		routerOpts.FetchAdmin = store
		logger.Info("fetch log enabled", "driver", cfg.FetchLog.Driver)
	}

	gw, err := feedgateway.New(cfg, opts...)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}
	if !gw.Configured() {
		logger.Warn("no upstream access token configured; feed endpoint will serve null")
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RateLimit.RPS > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = cfg.RateLimit.RPS
		}
		limiter := ratelimit.NewStore(cfg.RateLimit.RPS, burst, clock)
		routerOpts.Limiter = limiter
		go pruneLimiters(ctx, clock, limiter)
	}

	go gw.RunSweeper(ctx, time.Duration(cfg.Cache.SweepIntervalMS)*time.Millisecond)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newRouter(gw, routerOpts),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	stats := gw.CacheStats()
	logger.Info("feedgw listening",
		"version", version.Short(),
		"addr", cfg.Server.Addr,
		"cache_backend", stats.Backend,
		"cache_ttl", stats.TTL.String(),
		"cache_max_entries", stats.MaxEntries,
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Fatalf("Server error: %v", err) //nolint:gocritic
	}
	logger.Info("server stopped")
}

func pruneLimiters(ctx context.Context, clock clockwork.Clock, store *ratelimit.Store) {
	ticker := clock.NewTicker(limiterIdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := store.Prune(limiterIdleTTL); n > 0 {
				logging.Logger.Debug("pruned idle rate limiters", "removed", n)
			}
		}
	}
}
