// Package traffic keeps sliding windows of request outcomes. It is the single
// source of truth for overload (requests and denials), degraded (error rate)
// and idle (query volume) health signals.
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a recorded request.
type Outcome int

const (
	Success Outcome = iota
	Error
	Denied
)

// retention bounds memory; every health window must be shorter.
const retention = 30 * time.Minute

var defaultTracker = NewTracker(time.Now)

// RecordSuccess records a successful query.
func RecordSuccess() { defaultTracker.Record(Success) }

// RecordError records a failed query (upstream error, timeout).
func RecordError() { defaultTracker.Record(Error) }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.Record(Denied) }

// RequestCount returns success + error + denied within the window.
func RequestCount(window time.Duration) int { return defaultTracker.RequestCount(window) }

// DenialCount returns denials within the window.
func DenialCount(window time.Duration) int { return defaultTracker.DenialCount(window) }

// ErrorRate returns (errors, successes+errors) within the window.
func ErrorRate(window time.Duration) (errors, total int) { return defaultTracker.ErrorRate(window) }

// QueryCount returns served queries (success + error) within the window, used for idle detection.
func QueryCount(window time.Duration) int { return defaultTracker.QueryCount(window) }

// Reset clears the process-wide tracker. For tests only.
func Reset() { defaultTracker.Reset() }

// Tracker records outcome timestamps per kind. Safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	now   func() time.Time
	times [3][]time.Time
}

// NewTracker returns a Tracker reading time from now.
func NewTracker(now func() time.Time) *Tracker {
	return &Tracker{now: now}
}

// Record appends one outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.RecordN(o, 1)
}

// RecordN appends n outcomes at the current time.
func (t *Tracker) RecordN(o Outcome, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for i := 0; i < n; i++ {
		t.times[o] = append(t.times[o], now)
	}
	t.pruneLocked(now)
}

// RequestCount returns all outcomes within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	return t.count(window, Success, Error, Denied)
}

// DenialCount returns denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	return t.count(window, Denied)
}

// QueryCount returns successes and errors within the window.
func (t *Tracker) QueryCount(window time.Duration) int {
	return t.count(window, Success, Error)
}

// ErrorRate returns (errors, successes+errors) within the window. Denials are excluded.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	errors = t.count(window, Error)
	return errors, errors + t.count(window, Success)
}

// Reset clears all outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.times = [3][]time.Time{}
}

func (t *Tracker) count(window time.Duration, kinds ...Outcome) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	n := 0
	for _, k := range kinds {
		for _, ts := range t.times[k] {
			if !ts.Before(cutoff) {
				n++
			}
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Slices are append-ordered.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	for k := range t.times {
		times := t.times[k]
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[k] = append(times[:0], times[i:]...)
		}
	}
}
