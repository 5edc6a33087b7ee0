package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestLimiterRefill(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New()
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if !l.Allow("ip", 2, 1) {
			t.Fatalf("request %d should pass", i)
		}
	}
	if l.Allow("ip", 2, 1) {
		t.Fatalf("bucket should be empty")
	}
	if !l.Allow("other", 2, 1) {
		t.Fatalf("keys must not share a bucket")
	}

	now = now.Add(time.Second)
	if !l.Allow("ip", 2, 1) {
		t.Fatalf("one token should have refilled")
	}

	now = now.Add(time.Hour)
	if n := l.Sweep(time.Minute); n != 2 {
		t.Fatalf("expected 2 idle buckets swept, got %d", n)
	}
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	e := echo.New()
	l := New()
	h := Middleware(l, 1, 0)(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	do := func(method string) int {
		req := httptest.NewRequest(method, "/api/predict", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		if err := h(e.NewContext(req, rec)); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		return rec.Code
	}

	if code := do(http.MethodPost); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := do(http.MethodPost); code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", code)
	}
	if code := do(http.MethodOptions); code != http.StatusOK {
		t.Fatalf("preflight should bypass the limiter: %d", code)
	}
}
