package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestRateLimit_BurstExhaustion(t *testing.T) {
	e := echo.New()
	e.GET("/p", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/p", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header")
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	b := newTokenBucket(1000, 1)
	if !b.allow() {
		t.Fatal("first request should pass")
	}
	// Force a refill by aging the bucket.
	b.mu.Lock()
	b.lastRefill = b.lastRefill.Add(-10 * time.Millisecond)
	b.mu.Unlock()
	if !b.allow() {
		t.Error("bucket should refill over time")
	}
}
