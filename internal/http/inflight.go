package http

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// inFlight counts requests being served, in total and per route template,
// so shutdown can report which routes are still draining.
type inFlight struct {
	total   atomic.Int64
	mu      sync.Mutex
	byRoute map[string]int64
}

func newInFlight() *inFlight {
	return &inFlight{byRoute: make(map[string]int64)}
}

// begin records a request on route and returns the matching end func.
func (f *inFlight) begin(route string) func() {
	f.total.Add(1)
	f.mu.Lock()
	f.byRoute[route]++
	f.mu.Unlock()
	return func() {
		f.total.Add(-1)
		f.mu.Lock()
		if f.byRoute[route]--; f.byRoute[route] <= 0 {
			delete(f.byRoute, route)
		}
		f.mu.Unlock()
	}
}

func (f *inFlight) count() int64 { return f.total.Load() }

// routes returns a copy of the per-route counts.
func (f *inFlight) routes() map[string]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.byRoute))
	for k, v := range f.byRoute {
		out[k] = v
	}
	return out
}

func (f *inFlight) wait(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for f.count() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

var requestsInFlight = newInFlight()

// InFlightCount returns the number of requests currently being served.
func InFlightCount() int64 {
	return requestsInFlight.count()
}

// InFlightRoutes returns in-flight counts keyed by route template.
func InFlightRoutes() map[string]int64 {
	return requestsInFlight.routes()
}

// WaitForInFlight polls every interval until no request is in flight or ctx is done.
func WaitForInFlight(ctx context.Context, interval time.Duration) error {
	return requestsInFlight.wait(ctx, interval)
}
