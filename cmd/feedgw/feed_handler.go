package main

import (
	"encoding/json"
	"errors"
	"net/http"

	feedgateway "github.com/ferro-labs/feed-gateway"
	"github.com/ferro-labs/feed-gateway/graph"
	"github.com/ferro-labs/feed-gateway/internal/logging"
)

const (
	feedPath    = "/api/instagram"
	cacheHeader = "X-Cache"
)

// feedHandler serves one page of the media feed. Failures never reach the
// client as errors: an unconfigured upstream yields 200 with a null body and
// an upstream failure yields 500 with a null body.
func feedHandler(gw *feedgateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := graph.Query{
			Limit: graph.ParseLimit(r.URL.Query().Get("limit")),
			After: r.URL.Query().Get("after"),
		}

		page, source, err := gw.Feed(r.Context(), q)
		switch {
		case errors.Is(err, feedgateway.ErrNotConfigured):
			writeNull(w, http.StatusOK)
			return
		case err != nil:
			logging.FromContext(r.Context()).Error("feed request failed", "error", err)
			writeNull(w, http.StatusInternalServerError)
			return
		}

		if source == feedgateway.SourceHit {
			w.Header().Set(cacheHeader, "HIT")
		} else {
			w.Header().Set(cacheHeader, "MISS")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(page)
	}
}

func writeNull(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte("null"))
}
