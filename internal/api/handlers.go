package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/edgequest/edgequest/internal/cache"
	"github.com/edgequest/edgequest/internal/circuitbreaker"
	"github.com/edgequest/edgequest/internal/engagement"
	"github.com/edgequest/edgequest/internal/logging"
	"github.com/edgequest/edgequest/internal/metrics"
	"github.com/edgequest/edgequest/internal/resolver"
	"github.com/edgequest/edgequest/internal/store"
)

// Handler handles engagement lookups and the admin surface.
type Handler struct {
	Engagement *engagement.Service
	Breakers   *circuitbreaker.Registry
	Shared     *cache.Redis
	Snapshots  store.SnapshotStore
}

// RegisterRoutes registers all routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Engagement lookups
	mux.HandleFunc("GET /v1/engagement", h.GetEngagement)
	mux.HandleFunc("GET /v1/tweets/{id}", h.GetTweet)
	mux.HandleFunc("POST /v1/tweets/{id}/refresh", h.RefreshTweet)

	// Operator surface
	mux.HandleFunc("GET /admin/breakers", h.ListBreakers)
	mux.HandleFunc("GET /admin/breakers/{name}", h.GetBreaker)
	mux.HandleFunc("POST /admin/breakers/{name}/reset", h.ResetBreaker)
	mux.HandleFunc("POST /admin/breakers/{name}/override", h.OverrideBreaker)
	mux.HandleFunc("GET /admin/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /admin/cache/scan", h.ScanCache)

	// Health probes
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", h.HealthLive)
	mux.HandleFunc("GET /health/ready", h.HealthReady)

	mux.Handle("GET /metrics", metrics.Handler())
}

// GetEngagement handles GET /v1/engagement?url=<tweet url>
func (h *Handler) GetEngagement(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "missing_url", "url query parameter is required")
		return
	}
	h.lookup(w, r, url)
}

// GetTweet handles GET /v1/tweets/{id}
func (h *Handler) GetTweet(w http.ResponseWriter, r *http.Request) {
	h.lookup(w, r, r.PathValue("id"))
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request, urlOrID string) {
	tweet, err := h.Engagement.GetTweet(r.Context(), urlOrID)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tweet)
}

// RefreshTweet handles POST /v1/tweets/{id}/refresh - drops the cached
// snapshot and resolves fresh.
func (h *Handler) RefreshTweet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Engagement.Invalidate(r.Context(), id); err != nil &&
		!errors.Is(err, cache.ErrNotFound) {
		writeError(w, http.StatusServiceUnavailable, "cache_unavailable", err.Error())
		return
	}
	h.lookup(w, r, id)
}

// writeLookupError maps resolution failures onto the HTTP surface: a
// deleted tweet is a definitive 404, an exhausted chain is a 503 carrying
// the per-source trail so operators can see what broke.
func writeLookupError(w http.ResponseWriter, err error) {
	if resolver.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "tweet_not_found", "tweet does not exist or was deleted")
		return
	}

	var re *resolver.ResolutionError
	if errors.As(err, &re) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"error":    "resolution_failed",
			"message":  "all engagement sources are currently unavailable",
			"attempts": re.Attempts,
		})
		return
	}

	writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
}

// ListBreakers handles GET /admin/breakers
func (h *Handler) ListBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"breakers": h.Breakers.Statuses(r.Context()),
	})
}

// GetBreaker handles GET /admin/breakers/{name}
func (h *Handler) GetBreaker(w http.ResponseWriter, r *http.Request) {
	b, ok := h.Breakers.Lookup(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_breaker", "no breaker with that name")
		return
	}
	writeJSON(w, http.StatusOK, b.Status(r.Context()))
}

// ResetBreaker handles POST /admin/breakers/{name}/reset
func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	b, ok := h.Breakers.Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_breaker", "no breaker with that name")
		return
	}
	b.Reset(r.Context())
	logging.Op().Info("breaker reset by operator", "resource", name)
	writeJSON(w, http.StatusOK, b.Status(r.Context()))
}

// OverrideBreaker handles POST /admin/breakers/{name}/override with body
// {"override": "open"|"closed"|"none"}.
func (h *Handler) OverrideBreaker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	// Get rather than Lookup: operators may force a breaker open before
	// the resource has seen any traffic.
	b := h.Breakers.Get(name)

	var body struct {
		Override string `json:"override"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "expected JSON body with override field")
		return
	}
	override, err := circuitbreaker.ParseOverride(body.Override)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_override", err.Error())
		return
	}

	b.SetOverride(r.Context(), override)
	logging.Op().Info("breaker override set by operator", "resource", name, "override", override.String())
	writeJSON(w, http.StatusOK, b.Status(r.Context()))
}

// CacheStats handles GET /admin/cache/stats
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engagement.CacheStats())
}

// ScanCache handles POST /admin/cache/scan - walks the shared cache and
// deletes entries that can never decode.
func (h *Handler) ScanCache(w http.ResponseWriter, r *http.Request) {
	if h.Shared == nil {
		writeError(w, http.StatusConflict, "no_shared_cache", "daemon is running without a shared cache tier")
		return
	}

	result, err := h.Shared.ScanCorrupt(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "scan_failed", err.Error())
		return
	}
	logging.Op().Info("cache corruption scan complete", "checked", result.Checked, "healed", result.Healed)
	writeJSON(w, http.StatusOK, result)
}

// Health handles GET /health - detailed component status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	sharedOK := true
	if h.Shared != nil {
		sharedOK = h.Shared.Ping(ctx) == nil
	}

	status := "ok"
	if !sharedOK {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"components": map[string]any{
			"shared_cache": sharedOK,
		},
		"cache": h.Engagement.CacheStats(),
	})
}

// HealthLive handles GET /health/live - liveness probe.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady handles GET /health/ready - readiness probe. The daemon can
// serve degraded without the shared cache, so readiness only fails when
// the shared tier is configured and unreachable.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.Shared != nil {
		if err := h.Shared.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  "shared cache unavailable: " + err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
