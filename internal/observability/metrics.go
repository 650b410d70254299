package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/tempo-air-quality/internal/models"
	"github.com/kjstillabower/tempo-air-quality/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency. Dashboard requests fan out to four upstreams, so p99 tracks the slowest one.
	HTTPRequestDuration *prometheus.HistogramVec

	HTTPRequestsInFlight prometheus.Gauge

	// Upstream call rate per provider (airnow, cmr, openmeteo, openaq).
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency per provider. Watch for: p95 > 2s on airnow, which gates every dashboard.
	UpstreamDuration *prometheus.HistogramVec

	UpstreamRetriesTotal *prometheus.CounterVec

	// Upstream errors by stable category (see client.CategorizeError).
	UpstreamErrorsTotal *prometheus.CounterVec

	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	CacheErrorsTotal              *prometheus.CounterVec
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Responses served from stale cache after an upstream failure.
	StaleCacheServesTotal *prometheus.CounterVec
	StaleCacheAgeSeconds  prometheus.Histogram

	CacheStampedeDetectedTotal *prometheus.CounterVec
	RequestCoalescingHitsTotal *prometheus.CounterVec

	// 0 closed, 1 open, 2 half-open.
	CircuitBreakerState            *prometheus.GaugeVec
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Forecast runs by model (ridge, fallback, none).
	ForecastRunsTotal *prometheus.CounterVec

	// Rate limit denials by limiter (global, per_ip).
	RateLimitDeniedTotal *prometheus.CounterVec

	QueriesTotal           *prometheus.CounterVec
	QueriesByLocationTotal *prometheus.CounterVec

	ShutdownInFlightRequests prometheus.Gauge

	trackedLocationsMu sync.RWMutex
	trackedLocations   map[string]string // location key -> label

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "httpRequestsTotal", Help: "Total number of HTTP requests"},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "httpRequestsInFlight", Help: "Number of HTTP requests currently being served"},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "upstreamCallsTotal", Help: "Total upstream API calls by provider and status"},
		[]string{"provider", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Upstream API latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "upstreamRetriesTotal", Help: "Retry attempts for upstream calls"},
		[]string{"provider"},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "upstreamErrorsTotal", Help: "Upstream errors by category"},
		[]string{"provider", "category"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheHitsTotal", Help: "Cache hits by cached resource"},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheMissesTotal", Help: "Cache misses by cached resource"},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheErrorsTotal", Help: "Cache backend errors"},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache backend operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "result"},
	)
	StaleCacheServesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "staleCacheServesTotal", Help: "Responses served from stale cache"},
		[]string{"cacheType"},
	)
	StaleCacheAgeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "staleCacheAgeSeconds",
			Help:    "Age of stale entries when served",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200},
		},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheStampedeDetectedTotal", Help: "Concurrent misses for the same key"},
		[]string{"cacheType"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "requestCoalescingHitsTotal", Help: "Requests that joined an in-flight upstream fetch"},
		[]string{"cacheType"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "circuitBreakerState", Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)"},
		[]string{"provider"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "circuitBreakerTransitionsTotal", Help: "Circuit breaker state transitions"},
		[]string{"provider", "from", "to"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cacheWarmingTotal", Help: "Cache warming runs"},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cacheWarmingErrorsTotal", Help: "Cache warming runs with at least one failed location"},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration",
			Buckets: []float64{1, 5, 10, 30, 60, 120},
		},
	)
	ForecastRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "forecastRunsTotal", Help: "Forecast runs by selected model"},
		[]string{"model"},
	)
	RateLimitDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rateLimitDeniedTotal", Help: "Requests denied by a rate limiter (429)"},
		[]string{"limiter"},
	)
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "queriesTotal", Help: "Air quality queries by endpoint"},
		[]string{"endpoint"},
	)
	QueriesByLocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "queriesByLocationTotal", Help: "Queries by tracked location (others use location=other)"},
		[]string{"location"},
	)
	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "shutdownInFlightRequests", Help: "In-flight requests when shutdown started"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal, UpstreamErrorsTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		StaleCacheServesTotal, StaleCacheAgeSeconds,
		CacheStampedeDetectedTotal, RequestCoalescingHitsTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		ForecastRunsTotal, RateLimitDeniedTotal,
		QueriesTotal, QueriesByLocationTotal,
		ShutdownInFlightRequests,
	)
}

// RegisterRateLimitGauges registers sliding-window load and reject gauges. Uses the lifecycle overload window.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited routes in the sliding window",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in the sliding window",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// TrackedLocation names a location for the per-location query metric.
type TrackedLocation struct {
	Name     string
	Location models.Location
}

// SetTrackedLocations sets the allow-list for location metrics. Unlisted locations count as "other".
func SetTrackedLocations(locations []TrackedLocation) {
	trackedLocationsMu.Lock()
	defer trackedLocationsMu.Unlock()
	trackedLocations = make(map[string]string, len(locations))
	for _, tl := range locations {
		trackedLocations[tl.Location.Key()] = tl.Name
	}
}

// MetricLocationLabel returns the tracked name for loc, or "other".
func MetricLocationLabel(loc models.Location) string {
	trackedLocationsMu.RLock()
	defer trackedLocationsMu.RUnlock()
	if name, ok := trackedLocations[loc.Key()]; ok {
		return name
	}
	return "other"
}

// RecordQuery counts a query against endpoint for loc.
func RecordQuery(endpoint string, loc models.Location) {
	QueriesTotal.WithLabelValues(endpoint).Inc()
	QueriesByLocationTotal.WithLabelValues(MetricLocationLabel(loc)).Inc()
}

// RecordCircuitBreakerTransition counts a transition and updates the state gauge.
func RecordCircuitBreakerTransition(provider, from, to string, toValue float64) {
	CircuitBreakerTransitionsTotal.WithLabelValues(provider, from, to).Inc()
	CircuitBreakerState.WithLabelValues(provider).Set(toValue)
}

// RecordShutdownInFlight records the in-flight count observed at shutdown.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightRequests.Set(float64(n))
}

// MetricsHandler serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
