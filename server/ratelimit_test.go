package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterRejectsBurstOverflow(t *testing.T) {
	srv := newTestServer(t, Config{
		RateLimit: RateLimit{RequestsPerMinute: 60, Burst: 2},
	}, healthyNode())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "192.0.2.77:5000"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, http.StatusOK, codes[0])
	require.Equal(t, http.StatusOK, codes[1])
	require.Equal(t, http.StatusTooManyRequests, codes[2])
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	srv := newTestServer(t, Config{
		RateLimit: RateLimit{RequestsPerMinute: 60, Burst: 1},
	}, healthyNode())

	first := httptest.NewRequest(http.MethodGet, "/health", nil)
	first.RemoteAddr = "192.0.2.1:1000"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	blocked := httptest.NewRequest(http.MethodGet, "/health", nil)
	blocked.RemoteAddr = "192.0.2.1:1001"
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, blocked)
	require.Equal(t, http.StatusTooManyRequests, rec.Code, "same host, new port shares the bucket")

	other := httptest.NewRequest(http.MethodGet, "/health", nil)
	other.RemoteAddr = "192.0.2.2:1000"
	other.Header.Set("X-Real-IP", "192.0.2.2")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, other)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIDExtraction(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "198.51.100.7:2000"
	require.Equal(t, "198.51.100.7", clientID(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 198.51.100.7")
	require.Equal(t, "203.0.113.9", clientID(req))

	req.Header.Set("X-Real-IP", "203.0.113.44")
	require.Equal(t, "203.0.113.44", clientID(req))
}
