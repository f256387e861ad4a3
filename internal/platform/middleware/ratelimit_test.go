package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func doRateLimited(t *testing.T, mw echo.MiddlewareFunc, ip, userID string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/growth/zscore", nil)
	req.RemoteAddr = ip + ":1234"
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if userID != "" {
		c.Set("user_id", userID)
	}
	err := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
	return rec, err
}

func TestRateLimit_WithinBurst(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3})
	for i := 0; i < 3; i++ {
		rec, err := doRateLimited(t, mw, "10.0.0.1", "")
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "1" {
			t.Errorf("expected X-RateLimit-Limit 1, got %q", rec.Header().Get("X-RateLimit-Limit"))
		}
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 1})
	if _, err := doRateLimited(t, mw, "10.0.0.2", ""); err != nil {
		t.Fatalf("first request: %v", err)
	}
	rec, err := doRateLimited(t, mw, "10.0.0.2", "")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("expected Retry-After 2, got %q", got)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Error("expected X-RateLimit-Remaining 0")
	}
}

func TestRateLimit_KeysByUserThenIP(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.1, BurstSize: 1})
	if _, err := doRateLimited(t, mw, "10.0.0.3", "alice"); err != nil {
		t.Fatalf("alice: %v", err)
	}
	if _, err := doRateLimited(t, mw, "10.0.0.3", "bob"); err != nil {
		t.Errorf("bob shares alice's IP but has his own bucket: %v", err)
	}
	if _, err := doRateLimited(t, mw, "10.0.0.3", ""); err != nil {
		t.Errorf("anonymous request keyed by IP: %v", err)
	}
	if _, err := doRateLimited(t, mw, "10.0.0.4", "alice"); err == nil {
		t.Error("alice should be limited regardless of IP")
	}
}

func TestLimiterStore_EvictsIdleClients(t *testing.T) {
	store := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	store.get("a")
	store.get("b")
	if store.size() != 2 {
		t.Fatalf("expected 2 clients, got %d", store.size())
	}

	now = now.Add(2 * time.Minute)
	store.get("c")
	if store.size() != 1 {
		t.Errorf("expected idle clients evicted, got %d", store.size())
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		tokens, rps float64
		want        int
	}{
		{0, 100, 1},
		{0, 0.5, 2},
		{-1, 1, 2},
		{0.5, 0, 1},
		{2, 1, 1},
	}
	for _, tt := range tests {
		if got := retryAfter(tt.tokens, tt.rps); got != tt.want {
			t.Errorf("retryAfter(%v, %v) = %d, want %d", tt.tokens, tt.rps, got, tt.want)
		}
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 || cfg.BurstSize != 200 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}
