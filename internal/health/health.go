// Package health computes the service health status from lifecycle, upstream
// and traffic signals, and runs degraded-state recovery.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/kjstillabower/tempo-air-quality/internal/lifecycle"
	"github.com/kjstillabower/tempo-air-quality/internal/traffic"
)

// Status values reported by /health.
const (
	StatusHealthy      = "healthy"
	StatusIdle         = "idle"
	StatusDegraded     = "degraded"
	StatusOverloaded   = "overloaded"
	StatusShuttingDown = "shutting-down"
)

// Config holds lifecycle thresholds.
type Config struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
}

// KeyValidator checks that the upstream credentials still work.
type KeyValidator interface {
	ValidateAPIKey(ctx context.Context) error
}

// Result is one health evaluation.
type Result struct {
	Status     string
	StatusCode int
	Reason     string
}

// Evaluator decides the health status. A nil cfg only checks shutdown and the key.
type Evaluator struct {
	cfg       *Config
	validator KeyValidator
	uptime    func() time.Duration
}

// NewEvaluator returns an Evaluator. validator may be nil.
func NewEvaluator(cfg *Config, validator KeyValidator) *Evaluator {
	return &Evaluator{cfg: cfg, validator: validator, uptime: lifecycle.Uptime}
}

// Evaluate applies the checks in priority order:
// shutting-down > upstream key invalid > overloaded > idle > degraded > healthy.
func (e *Evaluator) Evaluate(ctx context.Context) Result {
	if lifecycle.IsShuttingDown() {
		return Result{StatusShuttingDown, http.StatusServiceUnavailable, "signal"}
	}
	if e.validator != nil {
		if err := e.validator.ValidateAPIKey(ctx); err != nil {
			return Result{StatusDegraded, http.StatusServiceUnavailable, "api_key_invalid"}
		}
	}
	if e.cfg == nil {
		return Result{StatusHealthy, http.StatusOK, ""}
	}
	c := e.cfg
	if c.RateLimitRPS > 0 && c.OverloadWindow > 0 {
		if float64(traffic.RequestCount(c.OverloadWindow)) > OverloadThreshold(c) {
			return Result{StatusOverloaded, http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if c.IdleWindow > 0 && c.MinimumLifespan > 0 && e.uptime() >= c.MinimumLifespan {
		perMin := float64(traffic.QueryCount(c.IdleWindow)) / c.IdleWindow.Minutes()
		if perMin < float64(c.IdleThresholdReqPerMin) {
			return Result{StatusIdle, http.StatusOK, "low_traffic"}
		}
	}
	if c.DegradedWindow > 0 && c.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(c.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(c.DegradedErrorPct) {
			return Result{StatusDegraded, http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return Result{StatusHealthy, http.StatusOK, ""}
}

// OverloadThreshold is the request count above which the service reports overloaded.
func OverloadThreshold(c *Config) float64 {
	return float64(c.RateLimitRPS) * c.OverloadWindow.Seconds() * float64(c.OverloadThresholdPct) / 100
}
