package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiter_BurstThenReject(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMin: 60, BurstSize: 2})
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.1") {
		t.Fatal("Expected the burst to be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("Expected the third request to be rejected")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("Expected other clients to have their own bucket")
	}

	now = now.Add(time.Second)
	if !rl.Allow("10.0.0.1") {
		t.Error("Expected a token to be refilled after one second")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMin: 60, BurstSize: 1, CleanupInterval: time.Minute})
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("idle")
	now = now.Add(30 * time.Second)
	rl.Allow("active")

	now = now.Add(45 * time.Second)
	if removed := rl.Cleanup(); removed != 1 {
		t.Errorf("Expected 1 idle client removed, got %d", removed)
	}
	if _, ok := rl.clients["active"]; !ok {
		t.Error("Expected the active client to be kept")
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(RateLimitConfig{RequestsPerMin: 1, BurstSize: 1})
	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest("GET", "/ping", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)

		if w.Code == http.StatusTooManyRequests && w.Header().Get("Retry-After") != "60" {
			t.Errorf("Expected Retry-After 60, got %q", w.Header().Get("Retry-After"))
		}
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("Expected [200 429], got %v", codes)
	}
}
