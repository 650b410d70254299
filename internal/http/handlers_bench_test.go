package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/tempo-air-quality/internal/client"
	"github.com/kjstillabower/tempo-air-quality/internal/health"
	"github.com/kjstillabower/tempo-air-quality/internal/reqctx"
)

// createBenchmarkRequest creates an HTTP request carrying a correlation id and logger.
func createBenchmarkRequest(path string) *http.Request {
	return withRequestContext(httptest.NewRequest("GET", path, nil), zap.NewNop())
}

func runBenchmark(b *testing.B, handler http.Handler, req *http.Request) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	}
}

// BenchmarkHandler_GetAirNow_CacheHit benchmarks handler with cache hit.
func BenchmarkHandler_GetAirNow_CacheHit(b *testing.B) {
	env := newTestEnv(b)
	h := env.handler(HandlerOptions{}, zap.NewNop())
	req := createBenchmarkRequest("/api/v1/airnow")

	// Pre-populate cache
	h.GetAirNow(httptest.NewRecorder(), req)

	runBenchmark(b, http.HandlerFunc(h.GetAirNow), req)
}

// BenchmarkHandler_GetDashboard_CacheHit benchmarks the four-source aggregate once all parts are cached.
func BenchmarkHandler_GetDashboard_CacheHit(b *testing.B) {
	env := newTestEnv(b)
	h := env.handler(HandlerOptions{}, zap.NewNop())
	req := createBenchmarkRequest("/api/v1/dashboard")
	h.GetDashboard(httptest.NewRecorder(), req)

	runBenchmark(b, http.HandlerFunc(h.GetDashboard), req)
}

// BenchmarkHandler_GetAirNow_Error benchmarks handler error handling.
func BenchmarkHandler_GetAirNow_Error(b *testing.B) {
	env := newTestEnv(b)
	env.airnow.err = client.ErrUpstreamFailure
	h := env.handler(HandlerOptions{}, zap.NewNop())

	runBenchmark(b, http.HandlerFunc(h.GetAirNow), createBenchmarkRequest("/api/v1/airnow"))
}

// BenchmarkHandler_GetAirNow_ValidationError benchmarks validation error handling.
func BenchmarkHandler_GetAirNow_ValidationError(b *testing.B) {
	h := newTestEnv(b).handler(HandlerOptions{}, zap.NewNop())

	runBenchmark(b, http.HandlerFunc(h.GetAirNow), createBenchmarkRequest("/api/v1/airnow?lat=north"))
}

// BenchmarkRouter_RateLimited benchmarks the full middleware chain with rate limiting enabled.
func BenchmarkRouter_RateLimited(b *testing.B) {
	env := newTestEnv(b)
	router := NewRouter(env.handler(HandlerOptions{}, zap.NewNop()), RouterOptions{
		Limiter:       rate.NewLimiter(rate.Limit(100), 250),
		PerIPRequests: 1000,
		PerIPWindow:   time.Second,
	})
	req := httptest.NewRequest("GET", "/api/v1/airnow", nil)

	runBenchmark(b, router, req)
}

// BenchmarkHandler_GetHealth benchmarks health check endpoint.
func BenchmarkHandler_GetHealth(b *testing.B) {
	env := newTestEnv(b)
	healthConfig := &health.Config{
		OverloadWindow:         60 * time.Second,
		OverloadThresholdPct:   80,
		RateLimitRPS:           100,
		DegradedWindow:         5 * time.Minute,
		DegradedErrorPct:       5,
		IdleWindow:             10 * time.Minute,
		IdleThresholdReqPerMin: 1,
		MinimumLifespan:        5 * time.Minute,
	}
	h := env.handler(HandlerOptions{Health: health.NewEvaluator(healthConfig, env.airnow)}, zap.NewNop())
	req := httptest.NewRequest("GET", "/health", nil)
	req = req.WithContext(reqctx.WithCorrelationID(req.Context(), "bench-id"))

	runBenchmark(b, http.HandlerFunc(h.GetHealth), req)
}
