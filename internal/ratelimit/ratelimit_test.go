package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func fixedClock(l *Limiter, start time.Time) *time.Time {
	now := start
	l.now = func() time.Time { return now }
	return &now
}

func TestAllowBurstThenRefill(t *testing.T) {
	l := New(3)
	now := fixedClock(l, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Error("fourth request in the same instant should be rejected")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("another client has its own budget")
	}

	// One token comes back every 20s at 3 per minute.
	*now = now.Add(21 * time.Second)
	if !l.Allow("10.0.0.1") {
		t.Error("request after refill should be allowed")
	}
}

func TestIdleVisitorsAreDropped(t *testing.T) {
	l := New(10)
	now := fixedClock(l, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	l.Allow("a")
	l.Allow("b")
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}

	*now = now.Add(10 * time.Minute)
	l.Allow("c")
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after sweep", l.Len())
	}
}

func TestMiddleware(t *testing.T) {
	l := New(1)
	fixedClock(l, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	reject := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	h := l.Middleware(reject)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/score", nil)
		req.RemoteAddr = "192.0.2.7:51234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [204 429]", codes)
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	if got := ClientKey(req); got != "2001:db8::1" {
		t.Errorf("ClientKey() = %q", got)
	}
	req.RemoteAddr = "unix-socket"
	if got := ClientKey(req); got != "unix-socket" {
		t.Errorf("ClientKey() = %q", got)
	}
}
