package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/tempo-air-quality/internal/cache"
	"github.com/kjstillabower/tempo-air-quality/internal/circuitbreaker"
	"github.com/kjstillabower/tempo-air-quality/internal/client"
	"github.com/kjstillabower/tempo-air-quality/internal/config"
	"github.com/kjstillabower/tempo-air-quality/internal/forecast"
	"github.com/kjstillabower/tempo-air-quality/internal/health"
	"github.com/kjstillabower/tempo-air-quality/internal/history"
	httphandler "github.com/kjstillabower/tempo-air-quality/internal/http"
	"github.com/kjstillabower/tempo-air-quality/internal/lifecycle"
	"github.com/kjstillabower/tempo-air-quality/internal/observability"
	"github.com/kjstillabower/tempo-air-quality/internal/service"
	"github.com/kjstillabower/tempo-air-quality/internal/validation"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	lifecycle.MarkStarted(time.Now())

	airnow := client.NewAirNowClient(cfg.AirNowAPIKey, clientOptions(cfg, cfg.AirNow, newBreaker(cfg, "airnow")))
	deps := service.Deps{
		AirNow:   airnow,
		CMR:      client.NewCMRClient(cfg.NASAToken, clientOptions(cfg, cfg.CMR, newBreaker(cfg, "cmr"))),
		Weather:  client.NewOpenMeteoClient(clientOptions(cfg, cfg.OpenMeteo, newBreaker(cfg, "openmeteo"))),
		Stations: client.NewOpenAQClient(cfg.OpenAQAPIKey, clientOptions(cfg, cfg.OpenAQ, newBreaker(cfg, "openaq"))),
		Logger:   logger,
	}
	logger.Info("circuit breakers enabled",
		zap.Int("failure_threshold", cfg.BreakerFailureThreshold),
		zap.Duration("timeout", cfg.BreakerTimeout))

	cacheSvc, err := cache.New(cacheOptions(cfg))
	if err != nil {
		logger.Fatal("cache", zap.String("backend", cfg.CacheBackend), zap.Error(err))
	}
	deps.Cache = cacheSvc
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend))

	var store *history.Store
	if cfg.HistoryDBPath != "" {
		store, err = history.Open(context.Background(), cfg.HistoryDBPath)
		if err != nil {
			logger.Fatal("history store", zap.String("path", cfg.HistoryDBPath), zap.Error(err))
		}
		deps.History = store
		logger.Info("forecast history enabled", zap.String("path", cfg.HistoryDBPath))
	}

	svc := service.New(deps, serviceConfig(cfg))

	recoveryCtx, stopRecovery := context.WithCancel(context.Background())
	defer stopRecovery()
	recovery := health.NewRecovery(airnow.ValidateAPIKey, cfg.DegradedRetryInitial, cfg.DegradedRetryMax, func() {
		logger.Error("degraded recovery exhausted; marking service as shutting down")
		lifecycle.SetShuttingDown(true)
	}, logger)
	recovery.Start(recoveryCtx)

	handler := httphandler.NewHandler(svc, httphandler.HandlerOptions{
		Health:    health.NewEvaluator(healthConfig(cfg), airnow),
		Recovery:  recovery,
		CachePing: cacheSvc.Ping,
		Defaults:  queryDefaults(cfg),
	}, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	observability.RegisterRateLimitGauges(cfg.OverloadWindow)
	observability.SetTrackedLocations(trackedLocations(cfg))

	router := httphandler.NewRouter(handler, httphandler.RouterOptions{
		Logger:         logger,
		Limiter:        limiter,
		PerIPRequests:  cfg.PerIPRequests,
		PerIPWindow:    cfg.PerIPWindow,
		RequestTimeout: cfg.RequestTimeout,
		CORSOrigins:    cfg.CORSOrigins,
	})

	var warmer *cache.CacheWarmer
	if cfg.WarmingEnabled && len(cfg.TrackedLocations) > 0 {
		warmer = cache.NewCacheWarmer(svc, cfg.Locations(), cfg.WarmingTimeout, logger)
		warmCtx, warmCancel := context.WithTimeout(context.Background(), cfg.WarmingTimeout)
		if err := warmer.Warm(warmCtx); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if err := warmer.Start(context.Background(), cfg.WarmingSchedule); err != nil {
			logger.Error("cache warming schedule", zap.Error(err))
			warmer = nil
		}
	}

	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if warmer != nil {
		warmer.Stop(shutdownCtx)
	}
	stopRecovery()

	inFlight := httphandler.InFlightCount()
	observability.RecordShutdownInFlight(inFlight)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	if err := httphandler.WaitForInFlight(shutdownCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err),
			zap.Int64("remaining", httphandler.InFlightCount()),
			zap.Any("routes", httphandler.InFlightRoutes()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if err := cacheSvc.Close(); err != nil {
		logger.Error("cache close", zap.Error(err))
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("history store close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newBreaker returns the circuit breaker for one upstream provider, exporting its transitions.
func newBreaker(cfg *config.Config, provider string) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        provider,
		IsFailure:        client.TripsBreaker,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(provider, from.String(), to.String(), float64(to))
		},
	})
}

func clientOptions(cfg *config.Config, u config.Upstream, breaker *circuitbreaker.CircuitBreaker) client.Options {
	return client.Options{
		BaseURL:        u.URL,
		Timeout:        u.Timeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		Breaker:        breaker,
	}
}

func cacheOptions(cfg *config.Config) cache.Options {
	return cache.Options{
		Backend:               cfg.CacheBackend,
		Retention:             cfg.StaleTTL,
		MemcachedAddrs:        cfg.MemcachedAddrs,
		MemcachedTimeout:      cfg.MemcachedTimeout,
		MemcachedMaxIdleConns: cfg.MemcachedMaxIdleConns,
		RedisAddr:             cfg.RedisAddr,
		RedisPassword:         cfg.RedisPassword,
		RedisDB:               cfg.RedisDB,
	}
}

func serviceConfig(cfg *config.Config) service.Config {
	opts := forecast.DefaultOptions()
	opts.Alpha = cfg.RidgeAlpha
	opts.MinTrainingRows = cfg.MinTrainingRows
	return service.Config{
		CacheTTL:           cfg.CacheTTL,
		ForecastCacheTTL:   cfg.ForecastCacheTTL,
		StaleTTL:           cfg.StaleTTL,
		CoalesceEnabled:    cfg.CoalesceEnabled,
		CoalesceTimeout:    cfg.CoalesceTimeout,
		AirNowDistanceKm:   cfg.AirNowDistanceKm,
		TempoDelta:         cfg.TempoDelta,
		TempoPageSize:      cfg.TempoPageSize,
		OpenAQRadiusMeters: cfg.OpenAQRadiusMeters,
		OpenAQLimit:        cfg.OpenAQLimit,
		DefaultHorizon:     cfg.DefaultHorizon,
		HistoryConcurrency: cfg.HistoryConcurrency,
		Forecast:           opts,
	}
}

func healthConfig(cfg *config.Config) *health.Config {
	return &health.Config{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
	}
}

func queryDefaults(cfg *config.Config) validation.Defaults {
	return validation.Defaults{
		Lat:        cfg.DefaultLat,
		Lon:        cfg.DefaultLon,
		Horizon:    cfg.DefaultHorizon,
		MaxHorizon: cfg.MaxHorizon,
		DistanceKm: cfg.AirNowDistanceKm,
		Delta:      cfg.TempoDelta,
	}
}

func trackedLocations(cfg *config.Config) []observability.TrackedLocation {
	out := make([]observability.TrackedLocation, 0, len(cfg.TrackedLocations))
	for _, l := range cfg.TrackedLocations {
		out = append(out, observability.TrackedLocation{Name: l.Name, Location: l.Location})
	}
	return out
}
