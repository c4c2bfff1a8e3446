package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(10, 5, clockwork.NewFakeClock())
	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatalf("expected allow on request %d within burst", i+1)
		}
	}
}

func TestBlockWhenDepleted(t *testing.T) {
	l := New(10, 2, clockwork.NewFakeClock())
	l.Allow()
	l.Allow()
	if l.Allow() {
		t.Fatal("expected rate limit after burst exhausted")
	}
}

func TestRefillOverTime(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(1, 1, clock)
	l.Allow()
	if l.Allow() {
		t.Fatal("expected block before refill")
	}
	clock.Advance(time.Second)
	if !l.Allow() {
		t.Fatal("expected allow after refill")
	}
}

func TestStoreCreatesPerKeyLimiters(t *testing.T) {
	s := NewStore(100, 10, clockwork.NewFakeClock())
	for i := 0; i < 10; i++ {
		if !s.Allow("10.0.0.1") {
			t.Fatalf("expected allow on 10.0.0.1 request %d", i+1)
		}
	}
	if s.Allow("10.0.0.1") {
		t.Fatal("expected 10.0.0.1 to be limited")
	}
	if !s.Allow("10.0.0.2") {
		t.Fatal("expected allow on 10.0.0.2 (fresh limiter)")
	}
}

func TestStorePrune(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStore(1, 1, clock)
	s.Allow("a")
	clock.Advance(time.Minute)
	s.Allow("b")

	if removed := s.Prune(time.Minute); removed != 1 {
		t.Fatalf("expected 1 pruned limiter, got %d", removed)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 remaining limiter, got %d", s.Len())
	}
}

func TestMiddleware(t *testing.T) {
	s := NewStore(1, 1, clockwork.NewFakeClock())
	h := Middleware(s, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/instagram", nil)
		req.RemoteAddr = "192.0.2.7:5555"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, want [200 429]", codes)
	}
}
