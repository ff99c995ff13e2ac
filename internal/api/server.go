// Package api exposes the engagement lookup endpoints and the operator
// admin surface over HTTP.
package api

import (
	"net/http"

	"github.com/edgequest/edgequest/internal/cache"
	"github.com/edgequest/edgequest/internal/circuitbreaker"
	"github.com/edgequest/edgequest/internal/engagement"
	"github.com/edgequest/edgequest/internal/logging"
	"github.com/edgequest/edgequest/internal/observability"
	"github.com/edgequest/edgequest/internal/ratelimit"
	"github.com/edgequest/edgequest/internal/store"
)

// publicPaths bypass rate limiting: probes and scrape targets must never
// be throttled.
var publicPaths = []string{"/health", "/health/live", "/health/ready", "/metrics"}

// ServerConfig contains dependencies for the HTTP server.
type ServerConfig struct {
	Engagement *engagement.Service
	Breakers   *circuitbreaker.Registry
	// Shared is the L2 cache, used for health checks and the corruption
	// scan. May be nil when the daemon runs memory-only.
	Shared    *cache.Redis
	Snapshots store.SnapshotStore
	Limiter   *ratelimit.Limiter
}

// StartHTTPServer creates and starts the HTTP server.
func StartHTTPServer(addr string, cfg ServerConfig) *http.Server {
	mux := http.NewServeMux()

	h := &Handler{
		Engagement: cfg.Engagement,
		Breakers:   cfg.Breakers,
		Shared:     cfg.Shared,
		Snapshots:  cfg.Snapshots,
	}
	h.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = observability.HTTPMiddleware(handler)

	if cfg.Limiter != nil {
		handler = ratelimit.Middleware(cfg.Limiter, publicPaths)(handler)
	}

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()

	return server
}
