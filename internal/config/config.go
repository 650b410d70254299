package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/tempo-air-quality/internal/cache"
	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

// Upstream is the endpoint and per-call timeout of one provider.
type Upstream struct {
	URL     string
	Timeout time.Duration
}

// NamedLocation is a warmed and metric-tracked location.
type NamedLocation struct {
	Name     string
	Location models.Location
}

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort  string
	CORSOrigins []string

	AirNowAPIKey string
	NASAToken    string
	OpenAQAPIKey string

	AirNow    Upstream
	CMR       Upstream
	OpenMeteo Upstream
	OpenAQ    Upstream

	RequestTimeout   time.Duration
	CacheTTL         time.Duration
	ForecastCacheTTL time.Duration
	StaleTTL         time.Duration
	CacheBackend     string // "in_memory", "memcached" or "redis"
	CoalesceEnabled  bool
	CoalesceTimeout  time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RetryAttempts           int
	RetryBaseDelay          time.Duration
	RetryMaxDelay           time.Duration
	RateLimitRPS            int
	RateLimitBurst          int
	PerIPRequests           int
	PerIPWindow             time.Duration
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	ShutdownTimeout time.Duration

	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	IdleThresholdReqPerMin int
	IdleWindow             time.Duration
	MinimumLifespan        time.Duration
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	DegradedRetryInitial   time.Duration
	DegradedRetryMax       time.Duration

	DefaultLat         float64
	DefaultLon         float64
	AirNowDistanceKm   int
	TempoDelta         float64
	TempoPageSize      int
	OpenAQRadiusMeters int
	OpenAQLimit        int

	DefaultHorizon     int
	MaxHorizon         int
	RidgeAlpha         float64
	MinTrainingRows    int
	HistoryConcurrency int

	WarmingEnabled   bool
	WarmingSchedule  string
	WarmingTimeout   time.Duration
	TrackedLocations []NamedLocation

	HistoryDBPath string
}

type upstreamFile struct {
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout"`
}

type locationFile struct {
	Name string  `yaml:"name"`
	Lat  float64 `yaml:"lat"`
	Lon  float64 `yaml:"lon"`
}

type fileConfig struct {
	Server struct {
		Port        string   `yaml:"port"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`

	Upstreams struct {
		AirNow    upstreamFile `yaml:"airnow"`
		CMR       upstreamFile `yaml:"cmr"`
		OpenMeteo upstreamFile `yaml:"openmeteo"`
		OpenAQ    upstreamFile `yaml:"openaq"`
	} `yaml:"upstreams"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend     string `yaml:"backend"`
		TTL         string `yaml:"ttl"`
		ForecastTTL string `yaml:"forecast_ttl"`
		StaleTTL    string `yaml:"stale_ttl"`
		Coalesce struct {
			Enabled *bool  `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalesce"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		PerIPRequests    int    `yaml:"per_ip_requests"`
		PerIPWindow      string `yaml:"per_ip_window"`
		CircuitBreaker struct {
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow         string `yaml:"overload_window"`
		OverloadThresholdPct   int    `yaml:"overload_threshold_pct"`
		IdleThresholdReqPerMin int    `yaml:"idle_threshold_req_per_min"`
		IdleWindow             string `yaml:"idle_window"`
		MinimumLifespan        string `yaml:"minimum_lifespan"`
		DegradedWindow         string `yaml:"degraded_window"`
		DegradedErrorPct       int    `yaml:"degraded_error_pct"`
		DegradedRetryInitial   string `yaml:"degraded_retry_initial"`
		DegradedRetryMax       string `yaml:"degraded_retry_max"`
	} `yaml:"lifecycle"`

	Dashboard struct {
		DefaultLat         *float64 `yaml:"default_lat"`
		DefaultLon         *float64 `yaml:"default_lon"`
		AirNowDistanceKm   int      `yaml:"airnow_distance_km"`
		TempoDelta         float64  `yaml:"tempo_delta"`
		TempoPageSize      int      `yaml:"tempo_page_size"`
		OpenAQRadiusMeters int      `yaml:"openaq_radius_m"`
		OpenAQLimit        int      `yaml:"openaq_limit"`
	} `yaml:"dashboard"`

	Forecast struct {
		DefaultHorizon     int     `yaml:"default_horizon"`
		MaxHorizon         int     `yaml:"max_horizon"`
		RidgeAlpha         float64 `yaml:"ridge_alpha"`
		MinTrainingRows    int     `yaml:"min_training_rows"`
		HistoryConcurrency int     `yaml:"history_concurrency"`
	} `yaml:"forecast"`

	Warming struct {
		Enabled   bool           `yaml:"enabled"`
		Schedule  string         `yaml:"schedule"`
		Timeout   string         `yaml:"timeout"`
		Locations []locationFile `yaml:"locations"`
	} `yaml:"warming"`

	History struct {
		Path string `yaml:"path"`
	} `yaml:"history"`
}

type secretsFile struct {
	AirNowAPIKey string `yaml:"airnow_api_key"`
	NASAToken    string `yaml:"nasa_token"`
	OpenAQAPIKey string `yaml:"openaq_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// An optional .env in the working directory is loaded first; variables already
// in the environment win over it, and the environment wins over the secrets file.
// Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.CORSOrigins = fc.Server.CORSOrigins

	cfg.AirNowAPIKey = envOr("AIRNOW_API_KEY", sec.AirNowAPIKey)
	if cfg.AirNowAPIKey == "" {
		return nil, fmt.Errorf("AIRNOW_API_KEY required (set env, .env or config/secrets.yaml airnow_api_key)")
	}
	cfg.NASAToken = envOr("NASA_TOKEN", sec.NASAToken)
	cfg.OpenAQAPIKey = envOr("OPENAQ_API_KEY", sec.OpenAQAPIKey)

	cfg.AirNow = loadUpstream(fc.Upstreams.AirNow, "https://www.airnowapi.org", 10*time.Second)
	cfg.CMR = loadUpstream(fc.Upstreams.CMR, "https://cmr.earthdata.nasa.gov", 10*time.Second)
	cfg.OpenMeteo = loadUpstream(fc.Upstreams.OpenMeteo, "https://api.open-meteo.com", 10*time.Second)
	cfg.OpenAQ = loadUpstream(fc.Upstreams.OpenAQ, "https://api.openaq.org", 10*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.ForecastCacheTTL = parseDuration(fc.Cache.ForecastTTL, 10*time.Minute)
	cfg.StaleTTL = parseDurationOrZero(fc.Cache.StaleTTL, time.Hour)
	if cfg.StaleTTL < 0 {
		cfg.StaleTTL = 0
	}
	cfg.CoalesceEnabled = true
	if fc.Cache.Coalesce.Enabled != nil {
		cfg.CoalesceEnabled = *fc.Cache.Coalesce.Enabled
	}
	cfg.CoalesceTimeout = parseDuration(fc.Cache.Coalesce.Timeout, 30*time.Second)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(envOr("CACHE_BACKEND", fc.Cache.Backend)))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = cache.BackendInMemory
	}
	cfg.MemcachedAddrs = strings.TrimSpace(envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = positiveOr(fc.Cache.Memcached.MaxIdleConns, 2)
	cfg.RedisAddr = strings.TrimSpace(envOr("REDIS_ADDR", fc.Cache.Redis.Addr))
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisPassword = envOr("REDIS_PASSWORD", fc.Cache.Redis.Password)
	cfg.RedisDB = fc.Cache.Redis.DB

	cfg.RetryAttempts = positiveOr(fc.Reliability.RetryMaxAttempts, 3)
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 200*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = positiveOr(fc.Reliability.RateLimitRPS, 100)
	cfg.RateLimitBurst = positiveOr(fc.Reliability.RateLimitBurst, 250)
	cfg.PerIPRequests = fc.Reliability.PerIPRequests
	cfg.PerIPWindow = parseDuration(fc.Reliability.PerIPWindow, time.Minute)
	cfg.BreakerFailureThreshold = positiveOr(fc.Reliability.CircuitBreaker.FailureThreshold, 5)
	cfg.BreakerSuccessThreshold = positiveOr(fc.Reliability.CircuitBreaker.SuccessThreshold, 1)
	cfg.BreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = positiveOr(fc.Lifecycle.OverloadThresholdPct, 80)
	cfg.IdleThresholdReqPerMin = positiveOr(fc.Lifecycle.IdleThresholdReqPerMin, 5)
	cfg.IdleWindow = parseDuration(fc.Lifecycle.IdleWindow, 5*time.Minute)
	cfg.MinimumLifespan = parseDuration(fc.Lifecycle.MinimumLifespan, 5*time.Minute)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = positiveOr(fc.Lifecycle.DegradedErrorPct, 5)
	cfg.DegradedRetryInitial = parseDuration(fc.Lifecycle.DegradedRetryInitial, 1*time.Minute)
	cfg.DegradedRetryMax = parseDuration(fc.Lifecycle.DegradedRetryMax, 20*time.Minute)

	cfg.DefaultLat, cfg.DefaultLon = 40.7128, -74.0060
	if fc.Dashboard.DefaultLat != nil {
		cfg.DefaultLat = *fc.Dashboard.DefaultLat
	}
	if fc.Dashboard.DefaultLon != nil {
		cfg.DefaultLon = *fc.Dashboard.DefaultLon
	}
	cfg.AirNowDistanceKm = positiveOr(fc.Dashboard.AirNowDistanceKm, 50)
	cfg.TempoDelta = fc.Dashboard.TempoDelta
	if cfg.TempoDelta <= 0 {
		cfg.TempoDelta = 0.2
	}
	cfg.TempoPageSize = positiveOr(fc.Dashboard.TempoPageSize, 5)
	cfg.OpenAQRadiusMeters = positiveOr(fc.Dashboard.OpenAQRadiusMeters, 25000)
	cfg.OpenAQLimit = positiveOr(fc.Dashboard.OpenAQLimit, 100)

	cfg.DefaultHorizon = positiveOr(fc.Forecast.DefaultHorizon, 6)
	cfg.MaxHorizon = positiveOr(fc.Forecast.MaxHorizon, 24)
	cfg.RidgeAlpha = fc.Forecast.RidgeAlpha
	if cfg.RidgeAlpha <= 0 {
		cfg.RidgeAlpha = 1.0
	}
	cfg.MinTrainingRows = positiveOr(fc.Forecast.MinTrainingRows, 8)
	cfg.HistoryConcurrency = positiveOr(fc.Forecast.HistoryConcurrency, 4)

	cfg.WarmingEnabled = fc.Warming.Enabled
	cfg.WarmingSchedule = strings.TrimSpace(fc.Warming.Schedule)
	if cfg.WarmingSchedule == "" {
		cfg.WarmingSchedule = "@every 10m"
	}
	cfg.WarmingTimeout = parseDuration(fc.Warming.Timeout, 30*time.Second)
	for _, l := range fc.Warming.Locations {
		cfg.TrackedLocations = append(cfg.TrackedLocations, NamedLocation{
			Name:     strings.TrimSpace(l.Name),
			Location: models.Location{Lat: l.Lat, Lon: l.Lon},
		})
	}

	cfg.HistoryDBPath = strings.TrimSpace(envOr("HISTORY_DB_PATH", fc.History.Path))

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Locations returns the tracked locations without their names.
func (c *Config) Locations() []models.Location {
	out := make([]models.Location, 0, len(c.TrackedLocations))
	for _, l := range c.TrackedLocations {
		out = append(out, l.Location)
	}
	return out
}

// Address is the listen address for the HTTP server.
func (c *Config) Address() string {
	return ":" + c.ServerPort
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func loadUpstream(f upstreamFile, defaultURL string, defaultTimeout time.Duration) Upstream {
	u := Upstream{URL: strings.TrimRight(strings.TrimSpace(f.URL), "/")}
	if u.URL == "" {
		u.URL = defaultURL
	}
	u.Timeout = parseDurationOrZero(f.Timeout, defaultTimeout)
	return u
}

// envOr returns the trimmed environment value of key, or fallback when unset or blank.
func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// Upstream timeouts must be positive and RequestTimeout is raised above the
// slowest upstream when needed.
func validate(cfg *Config) error {
	slowest := time.Duration(0)
	for name, u := range map[string]Upstream{
		"airnow": cfg.AirNow, "cmr": cfg.CMR, "openmeteo": cfg.OpenMeteo, "openaq": cfg.OpenAQ,
	} {
		if u.Timeout <= 0 {
			return fmt.Errorf("upstreams.%s.timeout must be positive", name)
		}
		if u.Timeout > slowest {
			slowest = u.Timeout
		}
	}
	if cfg.RequestTimeout <= slowest {
		cfg.RequestTimeout = slowest + time.Second
	}
	switch cfg.CacheBackend {
	case cache.BackendInMemory, cache.BackendMemcached, cache.BackendRedis:
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	if cfg.DefaultHorizon > cfg.MaxHorizon {
		return fmt.Errorf("forecast.default_horizon %d exceeds max_horizon %d", cfg.DefaultHorizon, cfg.MaxHorizon)
	}
	if cfg.DefaultLat < -90 || cfg.DefaultLat > 90 || cfg.DefaultLon < -180 || cfg.DefaultLon > 180 {
		return fmt.Errorf("dashboard default location %g,%g is out of range", cfg.DefaultLat, cfg.DefaultLon)
	}
	if cfg.WarmingEnabled {
		if err := cache.ValidateSchedule(cfg.WarmingSchedule); err != nil {
			return fmt.Errorf("warming.schedule %q: %w", cfg.WarmingSchedule, err)
		}
	}
	for i, l := range cfg.TrackedLocations {
		if l.Name == "" {
			return fmt.Errorf("warming.locations[%d]: name required", i)
		}
		if l.Location.Lat < -90 || l.Location.Lat > 90 || l.Location.Lon < -180 || l.Location.Lon > 180 {
			return fmt.Errorf("warming.locations[%d] %q: coordinates out of range", i, l.Name)
		}
	}
	return nil
}
