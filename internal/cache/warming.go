package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kjstillabower/tempo-air-quality/internal/models"
	"github.com/kjstillabower/tempo-air-quality/internal/observability"
)

// DashboardWarmer is implemented by the service layer to fetch and cache a
// location's dashboard. Kept as an interface to avoid a dependency on service.
type DashboardWarmer interface {
	WarmDashboard(ctx context.Context, loc models.Location) error
}

// CacheWarmer pre-fetches dashboards for tracked locations.
type CacheWarmer struct {
	fetcher   DashboardWarmer
	logger    *zap.Logger
	locations []models.Location
	timeout   time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

// NewCacheWarmer creates a CacheWarmer. timeout bounds a single warming pass (0 = none).
func NewCacheWarmer(fetcher DashboardWarmer, locations []models.Location, timeout time.Duration, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{
		fetcher:   fetcher,
		logger:    logger,
		locations: locations,
		timeout:   timeout,
	}
}

// Warm fetches every tracked location concurrently. Returns the joined errors of failed locations.
func (w *CacheWarmer) Warm(ctx context.Context) error {
	if len(w.locations) == 0 {
		return nil
	}
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("locations", len(w.locations)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, loc := range w.locations {
		loc := loc
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.fetcher.WarmDashboard(ctx, loc); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", loc.Key(), err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	duration := time.Since(start)
	observability.CacheWarmingDurationSeconds.Observe(duration.Seconds())
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
	}
	w.logger.Info("cache warming complete",
		zap.Int("locations", len(w.locations)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration.Seconds()),
	)
	return errors.Join(errs...)
}

// Start runs an initial Warm, then schedules Warm on the cron spec (standard
// five-field or descriptor such as "@every 10m"). Stop with Stop.
func (w *CacheWarmer) Start(ctx context.Context, spec string) error {
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{w.logger})),
		cron.WithLogger(cronLogger{w.logger}),
	)
	if _, err := c.AddFunc(spec, func() {
		if err := w.Warm(ctx); err != nil {
			w.logger.Warn("periodic cache warm failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid warming schedule %q: %w", spec, err)
	}

	if err := w.Warm(ctx); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}

	w.mu.Lock()
	w.cron = c
	w.mu.Unlock()
	c.Start()
	return nil
}

// Stop halts scheduling and waits for a running pass to finish or ctx to end.
func (w *CacheWarmer) Stop(ctx context.Context) {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// ValidateSchedule reports whether spec parses with the warmer's parser.
func ValidateSchedule(spec string) error {
	_, err := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).Parse(spec)
	return err
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
