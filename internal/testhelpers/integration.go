//go:build integration
// +build integration

// Package testhelpers builds services against the real upstream APIs for integration tests.
package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/tempo-air-quality/internal/cache"
	"github.com/kjstillabower/tempo-air-quality/internal/client"
	"github.com/kjstillabower/tempo-air-quality/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	AirNowAPIKey  string
	NASAToken     string
	OpenAQAPIKey  string
	CacheBackend  string // "in_memory", "memcached" or "redis"
	MemcachedAddr string
	RedisAddr     string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if AIRNOW_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	apiKey := os.Getenv("AIRNOW_API_KEY")
	if apiKey == "" {
		t.Skip("AIRNOW_API_KEY not set, skipping integration test")
	}

	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	return IntegrationTestConfig{
		AirNowAPIKey:  apiKey,
		NASAToken:     os.Getenv("NASA_TOKEN"),
		OpenAQAPIKey:  os.Getenv("OPENAQ_API_KEY"),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
		RedisAddr:     redisAddr,
	}
}

// SetupIntegrationCache opens the configured cache backend, falling back to
// the in-memory cache when the shared backend is unreachable.
func SetupIntegrationCache(t *testing.T, cfg IntegrationTestConfig) cache.Cache {
	c, err := cache.New(cache.Options{
		Backend:               cfg.CacheBackend,
		Retention:             time.Hour,
		MemcachedAddrs:        cfg.MemcachedAddr,
		MemcachedTimeout:      500 * time.Millisecond,
		MemcachedMaxIdleConns: 2,
		RedisAddr:             cfg.RedisAddr,
	})
	if err != nil {
		t.Logf("%s cache not available (%v), using in-memory cache", cfg.CacheBackend, err)
		c = cache.NewMemoryCache(time.Hour)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// SetupIntegrationClient creates an AirNow client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.AirNowClient {
	t.Helper()
	return client.NewAirNowClient(cfg.AirNowAPIKey, client.Options{Timeout: 10 * time.Second, RetryAttempts: 2})
}

// SetupIntegrationService creates a fully configured service for integration tests.
// Returns the service and its cache instance.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.AirQualityService, cache.Cache) {
	t.Helper()
	opts := client.Options{Timeout: 10 * time.Second, RetryAttempts: 2}
	c := SetupIntegrationCache(t, cfg)
	svc := service.New(service.Deps{
		AirNow:   SetupIntegrationClient(t, cfg),
		CMR:      client.NewCMRClient(cfg.NASAToken, opts),
		Weather:  client.NewOpenMeteoClient(opts),
		Stations: client.NewOpenAQClient(cfg.OpenAQAPIKey, opts),
		Cache:    c,
	}, service.Config{StaleTTL: time.Hour})
	return svc, c
}
