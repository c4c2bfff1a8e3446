package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	feedgateway "github.com/ferro-labs/feed-gateway"
	"github.com/ferro-labs/feed-gateway/graph"
	"github.com/ferro-labs/feed-gateway/internal/ratelimit"
	"github.com/jonboulle/clockwork"
)

type fakeUpstream struct {
	calls int32
	err   error
}

func (f *fakeUpstream) Fetch(_ context.Context, q graph.Query) (*graph.Page, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	p := &graph.Page{Data: []graph.Media{{ID: "1", MediaType: graph.MediaTypeImage}}}
	if q.After == "" {
		p.Paging = &graph.Paging{Cursors: &graph.Cursors{After: "c1"}}
	}
	return p, nil
}

func testGateway(t *testing.T, up feedgateway.Upstream) *feedgateway.Gateway {
	t.Helper()
	var opts []feedgateway.Option
	if up != nil {
		opts = append(opts, feedgateway.WithUpstream(up))
	}
	gw, err := feedgateway.New(feedgateway.DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw
}

func TestHealth(t *testing.T) {
	r := newRouter(testGateway(t, nil), routerOptions{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("unexpected status field: %v", body["status"])
	}
	if _, ok := body["cache"]; !ok {
		t.Error("health response missing cache field")
	}
	if body["upstream"] != "closed" {
		t.Errorf("expected closed upstream, got %v", body["upstream"])
	}
}

func TestFeed_NotConfigured(t *testing.T) {
	r := newRouter(testGateway(t, nil), routerOptions{})
	req := httptest.NewRequest(http.MethodGet, feedPath, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "null" {
		t.Errorf("body = %q, want null", got)
	}
}

func TestFeed_MissThenHit(t *testing.T) {
	up := &fakeUpstream{}
	r := newRouter(testGateway(t, up), routerOptions{})

	for i, want := range []string{"MISS", "HIT"} {
		req := httptest.NewRequest(http.MethodGet, feedPath+"?limit=6", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
		if got := w.Header().Get(cacheHeader); got != want {
			t.Errorf("request %d: X-Cache = %q, want %q", i, got, want)
		}
		var page graph.Page
		if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
			t.Fatalf("decode page: %v", err)
		}
		if page.Len() != 1 || page.After() != "c1" {
			t.Errorf("unexpected page: %+v", page)
		}
	}
	if up.calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", up.calls)
	}
}

func TestFeed_CursorIsSeparateEntry(t *testing.T) {
	up := &fakeUpstream{}
	r := newRouter(testGateway(t, up), routerOptions{})

	for _, target := range []string{feedPath, feedPath + "?after=c1", feedPath + "?after="} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", target, w.Code)
		}
	}
	if up.calls != 2 {
		t.Errorf("expected 2 upstream calls, got %d", up.calls)
	}
}

func TestFeed_UpstreamFailure(t *testing.T) {
	up := &fakeUpstream{err: errors.New("boom")}
	r := newRouter(testGateway(t, up), routerOptions{})

	req := httptest.NewRequest(http.MethodGet, feedPath, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "null" {
		t.Errorf("body = %q, want null", got)
	}
}

func TestFeed_RateLimited(t *testing.T) {
	limiter := ratelimit.NewStore(1, 1, clockwork.NewFakeClock())
	r := newRouter(testGateway(t, &fakeUpstream{}), routerOptions{Limiter: limiter})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, feedPath, nil)
		req.RemoteAddr = "203.0.113.7:5555"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 429]", codes)
	}

	// Health is not rate limited.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
}

func TestAdmin_NotMountedWithoutToken(t *testing.T) {
	r := newRouter(testGateway(t, nil), routerOptions{})
	req := httptest.NewRequest(http.MethodGet, "/admin/cache", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAdmin_CachePurge(t *testing.T) {
	up := &fakeUpstream{}
	r := newRouter(testGateway(t, up), routerOptions{AdminToken: "tok"})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, feedPath, nil))

	req := httptest.NewRequest(http.MethodDelete, "/admin/cache", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]int
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp["purged"] != 1 {
		t.Errorf("purged = %d, want 1", resp["purged"])
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, feedPath, nil))
	if got := w.Header().Get(cacheHeader); got != "MISS" {
		t.Errorf("X-Cache after purge = %q, want MISS", got)
	}
}

func TestMetrics(t *testing.T) {
	r := newRouter(testGateway(t, nil), routerOptions{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestCORS(t *testing.T) {
	r := newRouter(testGateway(t, nil), routerOptions{CORSOrigins: []string{"https://site.example"}})

	req := httptest.NewRequest(http.MethodGet, feedPath, nil)
	req.Header.Set("Origin", "https://site.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://site.example" {
		t.Errorf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, feedPath, nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected allow origin %q", got)
	}
}

func TestTraceHeaderEchoed(t *testing.T) {
	r := newRouter(testGateway(t, nil), routerOptions{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("X-Request-ID = %q, want abc", got)
	}
}
