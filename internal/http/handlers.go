package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/tempo-air-quality/internal/client"
	"github.com/kjstillabower/tempo-air-quality/internal/health"
	"github.com/kjstillabower/tempo-air-quality/internal/models"
	"github.com/kjstillabower/tempo-air-quality/internal/observability"
	"github.com/kjstillabower/tempo-air-quality/internal/reqctx"
	"github.com/kjstillabower/tempo-air-quality/internal/service"
	"github.com/kjstillabower/tempo-air-quality/internal/traffic"
	"github.com/kjstillabower/tempo-air-quality/internal/validation"
)

// Version is reported by / and /health. Set at build time with -ldflags.
var Version = "dev"

// maxUtteranceLength bounds the assistant question in runes.
const maxUtteranceLength = 200

// maxForecastRuns bounds the limit parameter of the forecast history route.
const maxForecastRuns = 100

// HandlerOptions holds optional dependencies for Handler.
type HandlerOptions struct {
	// Health evaluates /health. When nil only shutdown is checked.
	Health *health.Evaluator
	// Recovery is notified when the error rate turns the service degraded.
	Recovery *health.Recovery
	// CachePing, when set, reports cache reachability in /health.
	CachePing func(ctx context.Context) error
	// Defaults fill absent query parameters.
	Defaults validation.Defaults
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc              *service.AirQualityService
	health           *health.Evaluator
	recovery         *health.Recovery
	cachePing        func(ctx context.Context) error
	defaults         validation.Defaults
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(svc *service.AirQualityService, opts HandlerOptions, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := opts.Defaults
	if defaults == (validation.Defaults{}) {
		defaults = validation.DefaultDefaults()
	}
	evaluator := opts.Health
	if evaluator == nil {
		evaluator = health.NewEvaluator(nil, nil)
	}
	return &Handler{
		svc:       svc,
		health:    evaluator,
		recovery:  opts.Recovery,
		cachePing: opts.CachePing,
		defaults:  defaults,
		logger:    logger,
	}
}

// GetRoot handles GET /.
func (h *Handler) GetRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "NASA TEMPO Air Quality Project - Backend Running",
		"service": observability.ServiceName,
		"version": Version,
	})
}

// query parses and validates the request parameters, writing a 400 on failure.
func (h *Handler) query(w http.ResponseWriter, r *http.Request) (validation.Query, bool) {
	q, err := validation.ParseQuery(r.URL.Query(), h.defaults)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
		return validation.Query{}, false
	}
	return q, true
}

// serve runs fetch for endpoint and writes the result or the mapped error.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, endpoint string, loc models.Location, fetch func(ctx context.Context) (interface{}, error)) {
	observability.RecordQuery(endpoint, loc)
	result, err := fetch(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

// GetAirNow handles GET /airnow and /api/v1/airnow.
func (h *Handler) GetAirNow(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	h.serve(w, r, "airnow", q.Location(), func(ctx context.Context) (interface{}, error) {
		return h.svc.AirNow(ctx, q.Location(), q.DistanceKm)
	})
}

// GetTempo handles GET /tempo and /api/v1/tempo.
func (h *Handler) GetTempo(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	h.serve(w, r, "tempo", q.Location(), func(ctx context.Context) (interface{}, error) {
		return h.svc.Tempo(ctx, q.Location(), q.Delta, q.Date)
	})
}

// GetCombined handles GET /combined and /api/v1/combined. Source failures
// are reported inside the body; the status is 200 whenever the query is valid.
func (h *Handler) GetCombined(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	h.serve(w, r, "combined", q.Location(), func(ctx context.Context) (interface{}, error) {
		return h.svc.Combined(ctx, q.Location(), q.Date)
	})
}

// GetWeather handles GET /api/v1/weather.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	h.serve(w, r, "weather", q.Location(), func(ctx context.Context) (interface{}, error) {
		return h.svc.Weather(ctx, q.Location())
	})
}

// GetStations handles GET /api/v1/stations.
func (h *Handler) GetStations(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	h.serve(w, r, "stations", q.Location(), func(ctx context.Context) (interface{}, error) {
		return h.svc.Stations(ctx, q.Location())
	})
}

// GetDashboard handles GET /api/v1/dashboard.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	h.serve(w, r, "dashboard", q.Location(), func(ctx context.Context) (interface{}, error) {
		return h.svc.Dashboard(ctx, q.Location(), q.Date)
	})
}

// GetForecast handles GET /forecast and /api/v1/forecast.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	h.serve(w, r, "forecast", q.Location(), func(ctx context.Context) (interface{}, error) {
		return h.svc.Forecast(ctx, q.Location(), q.Horizon)
	})
}

// GetForecastRuns handles GET /api/v1/forecast/runs.
func (h *Handler) GetForecastRuns(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxForecastRuns {
			writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "limit: must be between 1 and "+strconv.Itoa(maxForecastRuns))
			return
		}
		limit = n
	}
	h.serve(w, r, "forecast_runs", q.Location(), func(ctx context.Context) (interface{}, error) {
		runs, err := h.svc.RecentForecasts(ctx, q.Location(), limit)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"location": q.Location(), "runs": runs}, nil
	})
}

// GetAdvice handles GET /api/v1/advice.
func (h *Handler) GetAdvice(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	h.serve(w, r, "advice", q.Location(), func(ctx context.Context) (interface{}, error) {
		return h.svc.Advice(ctx, q.Location())
	})
}

// GetAssistant handles GET /api/v1/assistant?q=...
func (h *Handler) GetAssistant(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	utterance, err := validation.ValidateUtterance(r.URL.Query().Get("q"), maxUtteranceLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "q: "+err.Error())
		return
	}
	h.serve(w, r, "assistant", q.Location(), func(ctx context.Context) (interface{}, error) {
		reply := h.svc.Ask(ctx, q.Location(), utterance)
		return reply, nil
	})
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.health.Evaluate(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.Status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.Status),
			zap.String("reason", result.Reason))
	}
	h.healthStatusPrev = result.Status
	h.healthStatusMu.Unlock()

	if result.Reason == "error_rate_breach" && h.recovery != nil {
		h.recovery.Notify()
	}

	checks := make(map[string]string)
	if result.Reason == "api_key_invalid" || result.Reason == "error_rate_breach" {
		checks["airnowApi"] = "unhealthy"
	} else {
		checks["airnowApi"] = "healthy"
	}
	if h.cachePing != nil {
		if h.cachePing(r.Context()) == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	writeJSON(w, result.StatusCode, map[string]interface{}{
		"status":    result.Status,
		"service":   observability.ServiceName,
		"version":   Version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error":{"code","message","requestId"}}.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": reqctx.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps a service error to a status code. Only upstream
// failures count against the degraded error rate.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := reqctx.Logger(r.Context())
	switch {
	case errors.Is(err, service.ErrInvalidDate), errors.Is(err, validation.ErrInvalidParameter):
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
		return
	case errors.Is(err, service.ErrHistoryDisabled):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Forecast history is not enabled")
		return
	case errors.Is(err, client.ErrNotFound):
		traffic.RecordError()
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "No data found for this location")
	case errors.Is(err, client.ErrRateLimited):
		traffic.RecordError()
		writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Upstream rate limit reached, try again later")
	default:
		traffic.RecordError()
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch air quality data")
	}
	logger.Debug("upstream error", zap.Error(err), zap.String("category", string(client.CategorizeError(err))))
}
