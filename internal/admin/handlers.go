// Package admin provides HTTP handlers for the feed gateway administration
// API: cache inspection and purge, and the upstream fetch log. All routes
// are protected by a static bearer token via AuthMiddleware.
package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ferro-labs/feed-gateway/internal/cache"
	"github.com/ferro-labs/feed-gateway/internal/fetchlog"
	"github.com/go-chi/chi/v5"
)

// CacheManager exposes the cache operations the admin API needs.
type CacheManager interface {
	CacheStats() cache.Stats
	PurgeCache() int
}

// Handlers holds dependencies for admin HTTP handlers. Fetches and
// FetchAdmin may be nil when the fetch log is disabled.
type Handlers struct {
	Cache      CacheManager
	Fetches    fetchlog.Reader
	FetchAdmin fetchlog.Maintainer
}

// Routes returns a chi.Router with all admin endpoints mounted.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/cache", h.cacheStats)
	r.Delete("/cache", h.purgeCache)
	r.Get("/fetches", h.listFetches)
	r.Delete("/fetches", h.deleteFetches)
	return r
}

func (h *Handlers) cacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Cache.CacheStats())
}

func (h *Handlers) purgeCache(w http.ResponseWriter, _ *http.Request) {
	n := h.Cache.PurgeCache()
	writeJSON(w, http.StatusOK, map[string]interface{}{"purged": n})
}

func (h *Handlers) listFetches(w http.ResponseWriter, r *http.Request) {
	if h.Fetches == nil {
		writeError(w, http.StatusNotImplemented, "fetch log storage is not enabled", "", "not_implemented")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: must be a positive integer", "", "invalid_request")
			return
		}
		if parsed > 200 {
			parsed = 200
		}
		limit = parsed
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset: must be a non-negative integer", "", "invalid_request")
			return
		}
		offset = parsed
	}

	result, err := h.Fetches.List(r.Context(), fetchlog.Query{
		Limit:  limit,
		Offset: offset,
		Status: r.URL.Query().Get("status"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list fetches", "", "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result.Data,
		"summary": map[string]interface{}{
			"total_entries":    result.Total,
			"returned_entries": len(result.Data),
		},
	})
}

func (h *Handlers) deleteFetches(w http.ResponseWriter, r *http.Request) {
	if h.FetchAdmin == nil {
		writeError(w, http.StatusNotImplemented, "fetch log storage is not enabled", "", "not_implemented")
		return
	}

	beforeRaw := r.URL.Query().Get("before")
	if beforeRaw == "" {
		writeError(w, http.StatusBadRequest, "before is required and must be RFC3339 format", "", "invalid_request")
		return
	}
	before, err := time.Parse(time.RFC3339, beforeRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid before: must be RFC3339 format", "", "invalid_request")
		return
	}

	deleted, err := h.FetchAdmin.DeleteBefore(r.Context(), before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete fetches", "", "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
		"before":  beforeRaw,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
