package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/tempo-air-quality/internal/circuitbreaker"
	"github.com/kjstillabower/tempo-air-quality/internal/observability"
	"github.com/kjstillabower/tempo-air-quality/internal/reqctx"
)

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrNotFound        = errors.New("not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrCircuitOpen     = circuitbreaker.ErrOpen
)

// maxBodyBytes caps upstream response bodies.
const maxBodyBytes = 8 << 20

// Options configures an upstream client. Zero values get defaults.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Breaker        *circuitbreaker.CircuitBreaker
	HTTPClient     *http.Client
}

// upstream performs GET+JSON calls to one provider with retry, backoff,
// circuit breaking and per-provider metrics.
type upstream struct {
	provider       string
	baseURL        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
	header         http.Header
}

func newUpstream(provider, defaultURL string, opts Options) *upstream {
	u := &upstream{
		provider:       provider,
		baseURL:        opts.BaseURL,
		timeout:        opts.Timeout,
		client:         opts.HTTPClient,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		breaker:        opts.Breaker,
		header:         http.Header{},
	}
	if u.baseURL == "" {
		u.baseURL = defaultURL
	}
	if u.timeout <= 0 {
		u.timeout = 10 * time.Second
	}
	if u.retryAttempts <= 0 {
		u.retryAttempts = 3
	}
	if u.retryBaseDelay <= 0 {
		u.retryBaseDelay = 100 * time.Millisecond
	}
	if u.retryMaxDelay <= 0 {
		u.retryMaxDelay = 2 * time.Second
	}
	if u.client == nil {
		u.client = &http.Client{Timeout: u.timeout}
	}
	u.header.Set("Accept", "application/json")
	return u
}

// SetCircuitBreaker installs cb for subsequent calls.
func (u *upstream) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	u.breaker = cb
}

// endpoint joins path onto the base URL and encodes params.
func (u *upstream) endpoint(path string, params url.Values) (string, error) {
	base, err := url.Parse(u.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid API URL: %w", err)
	}
	if path != "" {
		base.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	}
	base.RawQuery = params.Encode()
	return base.String(), nil
}

// getJSON GETs rawURL and decodes the body into out, retrying retryable failures.
func (u *upstream) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < u.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.WithLabelValues(u.provider).Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(u.backoff(attempt)):
			}
		}

		var err error
		if u.breaker != nil {
			err = u.breaker.Call(ctx, func() error { return u.call(ctx, rawURL, out) })
		} else {
			err = u.call(ctx, rawURL, out)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		observability.UpstreamErrorsTotal.WithLabelValues(u.provider, string(CategorizeError(err))).Inc()
		if !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("%s: exhausted retries: %w", u.provider, lastErr)
}

func (u *upstream) call(ctx context.Context, rawURL string, out interface{}) error {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(u.provider, "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range u.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if corrID := reqctx.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(u.provider, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(u.provider, "error").Observe(time.Since(start).Seconds())
		// url.Error embeds the full URL, which carries the AirNow key.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s request timeout: %w", u.provider, err)
		}
		return fmt.Errorf("%s http request failed: %w", u.provider, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(u.provider, status).Inc()
	observability.UpstreamDuration.WithLabelValues(u.provider, status).Observe(time.Since(start).Seconds())

	if err := u.errorForStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s read response body: %w", u.provider, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s parse response: %w", u.provider, err)
	}
	return nil
}

func (u *upstream) errorForStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", u.provider, ErrInvalidAPIKey)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", u.provider, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", u.provider, ErrRateLimited)
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
	if len(snippet) > 0 {
		return fmt.Errorf("%s: %w: HTTP %d: %s", u.provider, ErrUpstreamFailure, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return fmt.Errorf("%s: %w: HTTP %d", u.provider, ErrUpstreamFailure, resp.StatusCode)
}

// backoff returns base·2^(attempt-1) capped at max, plus up to 10% jitter.
func (u *upstream) backoff(attempt int) time.Duration {
	delay := float64(u.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(u.retryMaxDelay) {
		delay = float64(u.retryMaxDelay)
	}
	return time.Duration(delay + delay*0.1*rand.Float64())
}

// isRetryable reports whether err is worth another attempt. 4xx other than 429 and open circuits are not.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "http request failed")
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}

func formatCoord(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
