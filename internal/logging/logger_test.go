package logging

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromContext_AttachesTraceID(t *testing.T) {
	var buf bytes.Buffer
	Setup("info", "json", &buf)
	t.Cleanup(func() { Setup("", "", nil) })

	FromContext(WithTraceID(context.Background(), "trace-42")).Info("hello")
	if !strings.Contains(buf.String(), `"trace_id":"trace-42"`) {
		t.Fatalf("log line missing trace id: %s", buf.String())
	}
}

func TestMiddleware_PropagatesHeader(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(TraceHeader, "abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if seen != "abc" {
		t.Errorf("trace id in context = %q, want abc", seen)
	}
	if w.Header().Get(TraceHeader) != "abc" {
		t.Errorf("response header = %q, want abc", w.Header().Get(TraceHeader))
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", w.Code)
	}
}

func TestMiddleware_GeneratesTraceID(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(w.Header().Get(TraceHeader)) != 32 {
		t.Errorf("expected generated 32-char trace id, got %q", w.Header().Get(TraceHeader))
	}
}
