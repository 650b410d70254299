// Package service orchestrates the upstream clients, cache and history store
// into the operations served over HTTP: per-source lookups, the combined
// AirNow/TEMPO view, the full dashboard and the short-term forecast.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/tempo-air-quality/internal/cache"
	"github.com/kjstillabower/tempo-air-quality/internal/forecast"
	"github.com/kjstillabower/tempo-air-quality/internal/history"
	"github.com/kjstillabower/tempo-air-quality/internal/models"
	"github.com/kjstillabower/tempo-air-quality/internal/observability"
	"github.com/kjstillabower/tempo-air-quality/internal/reqctx"
)

// AirNowAPI is the AirNow client surface the service needs.
type AirNowAPI interface {
	Current(ctx context.Context, loc models.Location, distanceKm int) ([]models.AirNowObservation, error)
	Historical(ctx context.Context, loc models.Location, day time.Time, hour int, distanceKm int) ([]models.AirNowObservation, error)
	ValidateAPIKey(ctx context.Context) error
}

// GranuleSearcher finds TEMPO granules.
type GranuleSearcher interface {
	SearchGranules(ctx context.Context, bbox string, start, end time.Time, pageSize int) ([]models.Granule, error)
}

// WeatherAPI reads current and hourly weather.
type WeatherAPI interface {
	Current(ctx context.Context, loc models.Location) (*models.CurrentWeather, error)
	Hourly(ctx context.Context, loc models.Location, pastHours, forecastHours int) ([]models.WeatherPoint, error)
}

// StationsAPI reads ground-station measurements.
type StationsAPI interface {
	Measurements(ctx context.Context, loc models.Location, radiusMeters, limit int, parameters []string) ([]models.Measurement, error)
}

// HistoryStore persists observations and forecast runs.
type HistoryStore interface {
	forecast.ObservationStore
	RecordForecast(ctx context.Context, run history.ForecastRun) error
	RecentForecasts(ctx context.Context, loc models.Location, n int) ([]history.ForecastRun, error)
}

// ErrHistoryDisabled is returned by history queries when no store is configured.
var ErrHistoryDisabled = errors.New("forecast history is disabled")

// Config tunes caching and upstream query parameters.
type Config struct {
	CacheTTL         time.Duration
	ForecastCacheTTL time.Duration
	// StaleTTL is the maximum age of an entry served when upstream fails (0 = disabled).
	StaleTTL        time.Duration
	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	AirNowDistanceKm   int
	TempoDelta         float64
	TempoPageSize      int
	OpenAQRadiusMeters int
	OpenAQLimit        int
	OpenAQParameters   []string

	DefaultHorizon     int
	HistoryConcurrency int
	Forecast           forecast.Options
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.CacheTTL <= 0 {
		out.CacheTTL = 5 * time.Minute
	}
	if out.ForecastCacheTTL <= 0 {
		out.ForecastCacheTTL = 10 * time.Minute
	}
	if out.CoalesceTimeout <= 0 {
		out.CoalesceTimeout = 30 * time.Second
	}
	if out.AirNowDistanceKm <= 0 {
		out.AirNowDistanceKm = 50
	}
	if out.TempoDelta <= 0 {
		out.TempoDelta = 0.2
	}
	if out.TempoPageSize <= 0 {
		out.TempoPageSize = 5
	}
	if out.OpenAQRadiusMeters <= 0 {
		out.OpenAQRadiusMeters = 25000
	}
	if out.OpenAQLimit <= 0 {
		out.OpenAQLimit = 100
	}
	if out.DefaultHorizon <= 0 {
		out.DefaultHorizon = 6
	}
	if out.Forecast.Alpha == 0 && out.Forecast.MinTrainingRows == 0 {
		out.Forecast = forecast.DefaultOptions()
	}
	return out
}

// Deps are the service's collaborators. History may be nil.
type Deps struct {
	AirNow   AirNowAPI
	CMR      GranuleSearcher
	Weather  WeatherAPI
	Stations StationsAPI
	Cache    cache.Cache
	History  HistoryStore
	Logger   *zap.Logger
}

// AirQualityService implements cache-aside reads over all upstreams.
type AirQualityService struct {
	airnow    AirNowAPI
	cmr       GranuleSearcher
	weather   WeatherAPI
	stations  StationsAPI
	cache     cache.Cache
	history   HistoryStore
	collector *forecast.Collector
	logger    *zap.Logger
	cfg       Config

	misses    *missTracker
	coalescer *requestCoalescer // nil if disabled
	now       func() time.Time
}

// New creates an AirQualityService.
func New(deps Deps, cfg Config) *AirQualityService {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var coalescer *requestCoalescer
	if cfg.CoalesceEnabled {
		coalescer = newRequestCoalescer(cfg.CoalesceTimeout)
	}
	var store forecast.ObservationStore
	if deps.History != nil {
		store = deps.History
	}
	return &AirQualityService{
		airnow:    deps.AirNow,
		cmr:       deps.CMR,
		weather:   deps.Weather,
		stations:  deps.Stations,
		cache:     deps.Cache,
		history:   deps.History,
		collector: forecast.NewCollector(deps.AirNow, store, cfg.AirNowDistanceKm, cfg.HistoryConcurrency, logger),
		logger:    logger,
		cfg:       cfg,
		misses:    newMissTracker(),
		coalescer: coalescer,
		now:       time.Now,
	}
}

// DefaultHorizon is the forecast horizon used when the caller gives none.
func (s *AirQualityService) DefaultHorizon() int { return s.cfg.DefaultHorizon }

// ValidateAPIKey checks the AirNow key, the one credential the service cannot run without.
func (s *AirQualityService) ValidateAPIKey(ctx context.Context) error {
	return s.airnow.ValidateAPIKey(ctx)
}

// PingCache checks the cache backend.
func (s *AirQualityService) PingCache(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// cached implements cache-aside for one value: fresh cache hit, else a
// (coalesced) upstream fetch stored with ttl, else a stale entry within
// StaleTTL. stale reports whether the value came from the stale path.
func cached[T any](ctx context.Context, s *AirQualityService, kind, key string, ttl time.Duration, fetch func(context.Context) (*T, error)) (val *T, stale bool, err error) {
	fullKey := kind + ":" + key
	logger := reqctx.Logger(ctx)

	getStart := time.Now()
	raw, ok, err := s.cache.Get(ctx, fullKey)
	getDuration := time.Since(getStart).Seconds()
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		logger.Warn("cache get failed", zap.String("key", fullKey), zap.Error(err))
	case ok:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		var out T
		if jsonErr := json.Unmarshal(raw, &out); jsonErr == nil {
			observability.CacheHitsTotal.WithLabelValues(kind).Inc()
			logger.Debug("cache hit", zap.String("key", fullKey))
			return &out, false, nil
		}
		logger.Warn("discarding undecodable cache entry", zap.String("key", fullKey))
	default:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "miss").Observe(getDuration)
	}
	observability.CacheMissesTotal.WithLabelValues(kind).Inc()

	concurrent, missDone := s.misses.begin(fullKey)
	defer missDone()
	if concurrent > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(kind).Inc()
	}

	logger.Debug("cache miss, fetching upstream", zap.String("key", fullKey))
	load := func(ctx context.Context) ([]byte, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", kind, err)
		}
		s.store(ctx, fullKey, b, ttl)
		return b, nil
	}

	var (
		body      []byte
		upstream  error
		coalesced bool
	)
	if s.coalescer != nil {
		body, coalesced, upstream = s.coalescer.Do(ctx, fullKey, load)
		if coalesced {
			observability.RequestCoalescingHitsTotal.WithLabelValues(kind).Inc()
		}
	} else {
		body, upstream = load(ctx)
	}

	if upstream == nil {
		var out T
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, false, fmt.Errorf("decode %s: %w", kind, err)
		}
		return &out, false, nil
	}

	if s.cfg.StaleTTL > 0 && ctx.Err() == nil {
		staleRaw, storedAt, ok, staleErr := s.cache.GetStale(ctx, fullKey, s.cfg.StaleTTL)
		if staleErr == nil && ok {
			var out T
			if json.Unmarshal(staleRaw, &out) == nil {
				age := s.now().Sub(storedAt)
				observability.StaleCacheServesTotal.WithLabelValues(kind).Inc()
				observability.StaleCacheAgeSeconds.Observe(age.Seconds())
				logger.Info("serving stale cache",
					zap.String("key", fullKey),
					zap.Duration("age", age),
					zap.NamedError("upstream_error", upstream),
				)
				return &out, true, nil
			}
		}
	}
	return nil, false, fmt.Errorf("fetch %s for %s: %w", kind, key, upstream)
}

func (s *AirQualityService) store(ctx context.Context, key string, b []byte, ttl time.Duration) {
	setStart := time.Now()
	if err := s.cache.Set(ctx, key, b, ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		reqctx.Logger(ctx).Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
