package service

import (
	"context"
	"errors"
	"sync"
	"time"
)

// errCoalesceTimeout is returned to callers that waited longer than the coalescer timeout.
var errCoalesceTimeout = errors.New("coalesced request timed out")

// inFlightRequest is one upstream fetch that several callers may wait on.
type inFlightRequest struct {
	done chan struct{}
	val  []byte
	err  error
	dups int
}

// requestCoalescer prevents cache stampede by coalescing concurrent fetches for the same key.
// The fetch runs detached from the first caller's cancellation so that one
// client hanging up does not fail everyone else waiting on the same key.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightRequest),
		timeout:  timeout,
	}
}

// Do runs fn once per key among concurrent callers. shared reports whether
// this caller joined a fetch started by another.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(context.Context) ([]byte, error)) (val []byte, shared bool, err error) {
	rc.mu.Lock()
	if req, ok := rc.inFlight[key]; ok {
		req.dups++
		rc.mu.Unlock()
		return rc.wait(ctx, req, true)
	}
	req := &inFlightRequest{done: make(chan struct{})}
	rc.inFlight[key] = req
	rc.mu.Unlock()

	go func() {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		defer cancel()
		req.val, req.err = fn(fctx)

		rc.mu.Lock()
		delete(rc.inFlight, key)
		rc.mu.Unlock()
		close(req.done)
	}()

	return rc.wait(ctx, req, false)
}

func (rc *requestCoalescer) wait(ctx context.Context, req *inFlightRequest, shared bool) ([]byte, bool, error) {
	timer := time.NewTimer(rc.timeout)
	defer timer.Stop()
	select {
	case <-req.done:
		return req.val, shared, req.err
	case <-ctx.Done():
		return nil, shared, ctx.Err()
	case <-timer.C:
		return nil, shared, errCoalesceTimeout
	}
}

// pending returns the number of keys with a fetch in flight.
func (rc *requestCoalescer) pending() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}
