package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/tempo-air-quality/internal/observability"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Logger *zap.Logger
	// Limiter is the global token bucket for data routes. nil disables it.
	Limiter *rate.Limiter
	// PerIPRequests per PerIPWindow for each client IP. 0 disables it.
	PerIPRequests  int
	PerIPWindow    time.Duration
	RequestTimeout time.Duration
	CORSOrigins    []string
}

// NewRouter wires the routes and middleware. Data routes are rate limited
// and time-bounded; /, /health and /metrics are not.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/", h.GetRoot).Methods(http.MethodGet)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	guards := []mux.MiddlewareFunc{
		RateLimitMiddleware(opts.Limiter),
		PerIPRateLimitMiddleware(opts.PerIPRequests, opts.PerIPWindow),
		TimeoutMiddleware(timeout),
	}
	guard := func(fn http.HandlerFunc) http.Handler {
		var next http.Handler = fn
		for i := len(guards) - 1; i >= 0; i-- {
			next = guards[i].Middleware(next)
		}
		return next
	}

	// Legacy unversioned routes.
	router.Handle("/airnow", guard(h.GetAirNow)).Methods(http.MethodGet)
	router.Handle("/tempo", guard(h.GetTempo)).Methods(http.MethodGet)
	router.Handle("/combined", guard(h.GetCombined)).Methods(http.MethodGet)
	router.Handle("/forecast", guard(h.GetForecast)).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Handle("/airnow", guard(h.GetAirNow)).Methods(http.MethodGet)
	api.Handle("/tempo", guard(h.GetTempo)).Methods(http.MethodGet)
	api.Handle("/combined", guard(h.GetCombined)).Methods(http.MethodGet)
	api.Handle("/weather", guard(h.GetWeather)).Methods(http.MethodGet)
	api.Handle("/stations", guard(h.GetStations)).Methods(http.MethodGet)
	api.Handle("/dashboard", guard(h.GetDashboard)).Methods(http.MethodGet)
	api.Handle("/forecast", guard(h.GetForecast)).Methods(http.MethodGet)
	api.Handle("/forecast/runs", guard(h.GetForecastRuns)).Methods(http.MethodGet)
	api.Handle("/advice", guard(h.GetAdvice)).Methods(http.MethodGet)
	api.Handle("/assistant", guard(h.GetAssistant)).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found")
	})

	return CORSMiddleware(opts.CORSOrigins)(CompressMiddleware(router))
}
