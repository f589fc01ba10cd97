package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serveFrom(h http.Handler, remote string, headers map[string]string) int {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, RateLimitConfig{RequestsPerMin: 1, BurstSize: 3})(okHandler)

	for i := range 3 {
		assert.Equal(t, http.StatusOK, serveFrom(h, "192.168.1.1:1234", nil), "request %d", i+1)
	}
	assert.Equal(t, http.StatusTooManyRequests, serveFrom(h, "192.168.1.1:5678", nil))

	// A different client has its own bucket.
	assert.Equal(t, http.StatusOK, serveFrom(h, "192.168.1.2:1234", nil))
}

func TestRateLimit_RejectionBody(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, RateLimitConfig{RequestsPerMin: 1, BurstSize: 1})(okHandler)
	serveFrom(h, "10.0.0.1:1", nil)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:2"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":false,"error":"rate limit exceeded"}`, w.Body.String())
}

func TestRateLimit_SpoofedForwardedForIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, RateLimitConfig{RequestsPerMin: 1, BurstSize: 1})(okHandler)

	assert.Equal(t, http.StatusOK, serveFrom(h, "203.0.113.9:1", map[string]string{"X-Forwarded-For": "1.1.1.1"}))
	assert.Equal(t, http.StatusTooManyRequests, serveFrom(h, "203.0.113.9:2", map[string]string{"X-Forwarded-For": "2.2.2.2"}))
}

func TestClientIP(t *testing.T) {
	trusted := []string{"10.0.0.1"}
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		trusted []string
		want    string
	}{
		{"direct", "192.168.1.1:1234", nil, nil, "192.168.1.1"},
		{"ipv6", "[::1]:8080", nil, nil, "::1"},
		{"no port", "192.168.1.1", nil, nil, "192.168.1.1"},
		{"untrusted xff", "192.168.1.1:1", map[string]string{"X-Forwarded-For": "8.8.8.8"}, trusted, "192.168.1.1"},
		{"trusted xff chain", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "8.8.8.8, 10.0.0.1"}, trusted, "8.8.8.8"},
		{"trusted real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": " 9.9.9.9 "}, trusted, "9.9.9.9"},
		{"trusted no headers", "10.0.0.1:1", nil, trusted, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req, tt.trusted))
		})
	}
}
