package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

var overrideVars = []string{
	"ENV_NAME", "AIRNOW_API_KEY", "NASA_TOKEN", "OPENAQ_API_KEY",
	"CACHE_BACKEND", "MEMCACHED_ADDRS", "REDIS_ADDR", "REDIS_PASSWORD", "HISTORY_DB_PATH",
}

// clearEnv unsets every variable Load reads and restores them when the test ends.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range overrideVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
}

// loadFrom writes yaml as config/dev.yaml in a temp dir and runs Load there.
func loadFrom(t *testing.T, yaml string, secrets string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	writeEnvFile(t, dir, yaml)
	if secrets != "" {
		writeSecretsFile(t, dir, secrets)
	}
	chdir(t, dir)
	return Load()
}

func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	clearEnv(t)

	cfg, err := loadFrom(t, minimalEnvYAML, "")
	if err == nil {
		t.Fatal("Load() expected error when no AIRNOW_API_KEY and no secrets file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "AIRNOW_API_KEY") {
		t.Errorf("Load() error = %v, want message containing AIRNOW_API_KEY", err)
	}
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	clearEnv(t)

	cfg, err := loadFrom(t, minimalEnvYAML,
		"airnow_api_key: key-from-secrets-file\nnasa_token: nasa-secret\nopenaq_api_key: openaq-secret\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AirNowAPIKey != "key-from-secrets-file" {
		t.Errorf("AirNowAPIKey = %q, want key from secrets file", cfg.AirNowAPIKey)
	}
	if cfg.NASAToken != "nasa-secret" || cfg.OpenAQAPIKey != "openaq-secret" {
		t.Errorf("NASAToken/OpenAQAPIKey = %q/%q, want secrets file values", cfg.NASAToken, cfg.OpenAQAPIKey)
	}
}

func TestLoad_EnvWinsOverSecretsFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("AIRNOW_API_KEY", "key-from-env")

	cfg, err := loadFrom(t, minimalEnvYAML, "airnow_api_key: key-from-secrets-file\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AirNowAPIKey != "key-from-env" {
		t.Errorf("AirNowAPIKey = %q, want key-from-env", cfg.AirNowAPIKey)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAQ_API_KEY", "openaq-from-env")

	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	dotenv := "AIRNOW_API_KEY=key-from-dotenv\nNASA_TOKEN=nasa-from-dotenv\nOPENAQ_API_KEY=openaq-from-dotenv\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AirNowAPIKey != "key-from-dotenv" || cfg.NASAToken != "nasa-from-dotenv" {
		t.Errorf("AirNowAPIKey/NASAToken = %q/%q, want .env values", cfg.AirNowAPIKey, cfg.NASAToken)
	}
	if cfg.OpenAQAPIKey != "openaq-from-env" {
		t.Errorf("OpenAQAPIKey = %q, want the environment to win over .env", cfg.OpenAQAPIKey)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV_NAME", "nonexistent")
	t.Setenv("AIRNOW_API_KEY", "test-key")
	chdir(t, findProjectRoot(t))

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Load() error = %v, want message about config file not found", err)
	}
}

func TestLoad_EmptyDurationFallsBackToDefault(t *testing.T) {
	clearEnv(t)

	emptyDurationYAML := `
upstreams:
  airnow:
    timeout: ""
cache:
  ttl: ""
`
	cfg, err := loadFrom(t, emptyDurationYAML, "airnow_api_key: key\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AirNow.Timeout != 10*time.Second {
		t.Errorf("AirNow.Timeout = %v, want 10s default", cfg.AirNow.Timeout)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v, want 5m default", cfg.CacheTTL)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	clearEnv(t)

	cfg, err := loadFrom(t, `
cache:
  ttl: "invalid"
  forecast_ttl: "-1m"
`, "airnow_api_key: key\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v, want 5m default", cfg.CacheTTL)
	}
	if cfg.ForecastCacheTTL != 10*time.Minute {
		t.Errorf("ForecastCacheTTL = %v, want 10m default", cfg.ForecastCacheTTL)
	}
}

func TestLoad_ValidationFailsWhenUpstreamTimeoutZero(t *testing.T) {
	clearEnv(t)

	zeroTimeoutYAML := `
upstreams:
  cmr:
    timeout: "0s"
`
	cfg, err := loadFrom(t, zeroTimeoutYAML, "airnow_api_key: key\n")
	if err == nil {
		t.Fatal("Load() expected error when an upstream timeout is zero, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "upstreams.cmr.timeout") {
		t.Errorf("Load() error = %v, want message about upstreams.cmr.timeout", err)
	}
}

func TestLoad_RequestTimeoutRaisedAboveSlowestUpstream(t *testing.T) {
	clearEnv(t)

	cfg, err := loadFrom(t, `
upstreams:
  openaq:
    timeout: "20s"
request:
  timeout: "5s"
`, "airnow_api_key: key\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout != 21*time.Second {
		t.Errorf("RequestTimeout = %v, want 21s", cfg.RequestTimeout)
	}
}

func TestLoad_InvalidSecretsYAML(t *testing.T) {
	clearEnv(t)

	cfg, err := loadFrom(t, minimalEnvYAML, "not valid: yaml: [[[")
	if err == nil {
		t.Fatal("Load() expected error for invalid secrets YAML, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "secrets") {
		t.Errorf("Load() error = %v, want message about secrets", err)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("AIRNOW_API_KEY", "test-key")

	cfg, err := loadFrom(t, "not: valid: yaml: [[[", "")
	if err == nil {
		t.Fatal("Load() expected error for invalid config YAML, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("Load() error = %v, want message about parse config file", err)
	}
}

func TestLoad_ProjectDevConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("AIRNOW_API_KEY", "test-key-1234567890")
	chdir(t, findProjectRoot(t))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AirNowAPIKey != "test-key-1234567890" {
		t.Errorf("AirNowAPIKey = %q, want test key", cfg.AirNowAPIKey)
	}
	if cfg.ServerPort == "" || cfg.AirNow.URL == "" {
		t.Errorf("Load() did not populate config from config/dev.yaml")
	}
	if !cfg.WarmingEnabled || len(cfg.TrackedLocations) == 0 {
		t.Fatalf("warming = %v with %d locations, want enabled with tracked locations", cfg.WarmingEnabled, len(cfg.TrackedLocations))
	}
	if cfg.TrackedLocations[0].Name != "new-york" {
		t.Errorf("first tracked location = %q, want new-york", cfg.TrackedLocations[0].Name)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadFrom(t, minimalEnvYAML, "airnow_api_key: key\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheBackend != "in_memory" {
		t.Errorf("CacheBackend = %q, want in_memory", cfg.CacheBackend)
	}
	if !cfg.CoalesceEnabled {
		t.Error("CoalesceEnabled = false, want true when omitted")
	}
	if cfg.StaleTTL != time.Hour {
		t.Errorf("StaleTTL = %v, want 1h", cfg.StaleTTL)
	}
	if cfg.DefaultLat != 40.7128 || cfg.DefaultLon != -74.0060 {
		t.Errorf("default location = %v,%v, want New York", cfg.DefaultLat, cfg.DefaultLon)
	}
	if cfg.AirNowDistanceKm != 50 || cfg.TempoDelta != 0.2 || cfg.OpenAQRadiusMeters != 25000 {
		t.Errorf("dashboard defaults = %d/%v/%d", cfg.AirNowDistanceKm, cfg.TempoDelta, cfg.OpenAQRadiusMeters)
	}
	if cfg.DefaultHorizon != 6 || cfg.MaxHorizon != 24 || cfg.RidgeAlpha != 1.0 {
		t.Errorf("forecast defaults = %d/%d/%v", cfg.DefaultHorizon, cfg.MaxHorizon, cfg.RidgeAlpha)
	}
	if cfg.HistoryDBPath != "" {
		t.Errorf("HistoryDBPath = %q, want empty (history disabled)", cfg.HistoryDBPath)
	}
	if cfg.WarmingEnabled {
		t.Error("WarmingEnabled = true, want false when omitted")
	}
}

func TestLoad_LifecycleConfig(t *testing.T) {
	clearEnv(t)

	lifecycleYAML := minimalEnvYAML + `
lifecycle:
  overload_window: "30s"
  overload_threshold_pct: 90
  idle_threshold_req_per_min: 3
  idle_window: "2m"
  minimum_lifespan: "1m"
  degraded_window: "60s"
  degraded_error_pct: 10
  degraded_retry_initial: "2m"
  degraded_retry_max: "15m"
`
	cfg, err := loadFrom(t, lifecycleYAML, "airnow_api_key: key\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OverloadWindow != 30*time.Second {
		t.Errorf("OverloadWindow = %v, want 30s", cfg.OverloadWindow)
	}
	if cfg.OverloadThresholdPct != 90 {
		t.Errorf("OverloadThresholdPct = %d, want 90", cfg.OverloadThresholdPct)
	}
	if cfg.IdleThresholdReqPerMin != 3 {
		t.Errorf("IdleThresholdReqPerMin = %d, want 3", cfg.IdleThresholdReqPerMin)
	}
	if cfg.IdleWindow != 2*time.Minute {
		t.Errorf("IdleWindow = %v, want 2m", cfg.IdleWindow)
	}
	if cfg.MinimumLifespan != 1*time.Minute {
		t.Errorf("MinimumLifespan = %v, want 1m", cfg.MinimumLifespan)
	}
	if cfg.DegradedErrorPct != 10 {
		t.Errorf("DegradedErrorPct = %d, want 10", cfg.DegradedErrorPct)
	}
	if cfg.DegradedRetryInitial != 2*time.Minute {
		t.Errorf("DegradedRetryInitial = %v, want 2m", cfg.DegradedRetryInitial)
	}
	if cfg.DegradedRetryMax != 15*time.Minute {
		t.Errorf("DegradedRetryMax = %v, want 15m", cfg.DegradedRetryMax)
	}
}

func TestLoad_CacheEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_BACKEND", " REDIS ")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("MEMCACHED_ADDRS", "mc1:11211,mc2:11211")
	t.Setenv("HISTORY_DB_PATH", "/var/lib/tempo/history.db")

	cfg, err := loadFrom(t, minimalEnvYAML, "airnow_api_key: key\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheBackend != "redis" {
		t.Errorf("CacheBackend = %q, want redis", cfg.CacheBackend)
	}
	if cfg.RedisAddr != "redis.internal:6380" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
	if cfg.MemcachedAddrs != "mc1:11211,mc2:11211" {
		t.Errorf("MemcachedAddrs = %q", cfg.MemcachedAddrs)
	}
	if cfg.HistoryDBPath != "/var/lib/tempo/history.db" {
		t.Errorf("HistoryDBPath = %q", cfg.HistoryDBPath)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown cache backend",
			yaml:    "cache:\n  backend: dynamo\n",
			wantErr: "cache.backend",
		},
		{
			name:    "invalid warming schedule",
			yaml:    "warming:\n  enabled: true\n  schedule: \"every now and then\"\n",
			wantErr: "warming.schedule",
		},
		{
			name:    "warming location without name",
			yaml:    "warming:\n  locations:\n    - lat: 40\n      lon: -74\n",
			wantErr: "name required",
		},
		{
			name:    "warming location out of range",
			yaml:    "warming:\n  locations:\n    - name: nowhere\n      lat: 140\n      lon: -74\n",
			wantErr: "out of range",
		},
		{
			name:    "default horizon above max",
			yaml:    "forecast:\n  default_horizon: 30\n  max_horizon: 24\n",
			wantErr: "default_horizon",
		},
		{
			name:    "default location out of range",
			yaml:    "dashboard:\n  default_lat: 100\n",
			wantErr: "default location",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			cfg, err := loadFrom(t, tc.yaml, "airnow_api_key: key\n")
			if err == nil {
				t.Fatalf("Load() expected error, got config %+v", cfg)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Load() error = %v, want message containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_CoalesceDisabled(t *testing.T) {
	clearEnv(t)

	cfg, err := loadFrom(t, "cache:\n  coalesce:\n    enabled: false\n  stale_ttl: \"0s\"\n", "airnow_api_key: key\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CoalesceEnabled {
		t.Error("CoalesceEnabled = true, want false")
	}
	if cfg.StaleTTL != 0 {
		t.Errorf("StaleTTL = %v, want 0 (stale serving disabled)", cfg.StaleTTL)
	}
}

func TestConfig_Locations(t *testing.T) {
	cfg := &Config{TrackedLocations: []NamedLocation{
		{Name: "a", Location: models.Location{Lat: 1, Lon: 2}},
		{Name: "b", Location: models.Location{Lat: 3, Lon: 4}},
	}}
	got := cfg.Locations()
	if len(got) != 2 || got[1] != (models.Location{Lat: 3, Lon: 4}) {
		t.Errorf("Locations() = %v", got)
	}
	if (&Config{ServerPort: "9090"}).Address() != ":9090" {
		t.Error("Address() should prefix the port with a colon")
	}
}

const minimalEnvYAML = `
server:
  port: "8080"
request:
  timeout: "30s"
cache:
  ttl: "5m"
reliability:
  retry_max_attempts: 3
  rate_limit_rps: 5
  rate_limit_burst: 10
shutdown:
  timeout: "10s"
`

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	secretsDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(secretsDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(secretsDir, "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}

// TestCoverageGaps_IntentionallyUntested documents paths we reviewed but chose not to test.
// Run with -v to see skip reasons. These gaps do not affect coverage targets.
func TestCoverageGaps_IntentionallyUntested(t *testing.T) {
	t.Run("loadSecrets_read_error", func(t *testing.T) {
		t.Skip("read-error path (non-IsNotExist) requires simulated ReadFile failure; would need OS-specific tricks, not worth portability cost")
	})
	t.Run("Load_read_config_error", func(t *testing.T) {
		t.Skip("ReadFile error path (permission denied, etc.) same as loadSecrets; would require injecting failure")
	})
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
