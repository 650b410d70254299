package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRequestCoalescer_Do_ConcurrentRequests(t *testing.T) {
	coalescer := newRequestCoalescer(5 * time.Second)
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte(`{"reportingArea":"New York City"}`), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 10)
	shared := make([]bool, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], shared[idx], errs[idx] = coalescer.Do(context.Background(), "airnow:40.7128,-74.0060", fn)
		}(i)
	}
	// Let every caller join before the fetch completes.
	deadline := time.Now().Add(2 * time.Second)
	for coalescer.dupCount("airnow:40.7128,-74.0060") < 9 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	sharedCount := 0
	for i := range results {
		if errs[i] != nil {
			t.Errorf("request %d error = %v, want nil", i, errs[i])
		}
		if string(results[i]) != `{"reportingArea":"New York City"}` {
			t.Errorf("request %d body = %s", i, results[i])
		}
		if shared[i] {
			sharedCount++
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fn call count = %d, want 1 (coalescing failed)", got)
	}
	if sharedCount != 9 {
		t.Errorf("shared callers = %d, want 9", sharedCount)
	}
	if p := coalescer.pending(); p != 0 {
		t.Errorf("pending() = %d after completion, want 0", p)
	}
}

func TestRequestCoalescer_Do_ErrorPropagation(t *testing.T) {
	coalescer := newRequestCoalescer(5 * time.Second)
	wantErr := errors.New("api failure")
	release := make(chan struct{})

	fn := func(ctx context.Context) ([]byte, error) {
		<-release
		return nil, wantErr
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, _, errs[idx] = coalescer.Do(context.Background(), "tempo:key", fn)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, wantErr) {
			t.Errorf("request %d error = %v, want %v", i, err, wantErr)
		}
	}
}

func TestRequestCoalescer_Do_CallerContextCanceled(t *testing.T) {
	coalescer := newRequestCoalescer(time.Second)
	release := make(chan struct{})
	fetchCtxErr := make(chan error, 1)

	fn := func(ctx context.Context) ([]byte, error) {
		<-release
		fetchCtxErr <- ctx.Err()
		return []byte(`{}`), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := coalescer.Do(ctx, "weather:key", fn)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do() error = %v, want context deadline exceeded", err)
	}

	// The fetch keeps running on a detached context.
	close(release)
	select {
	case err := <-fetchCtxErr:
		if err != nil {
			t.Errorf("fetch context error = %v, want nil (detached from caller)", err)
		}
	case <-time.After(time.Second):
		t.Fatal("fetch did not complete")
	}
}

func TestRequestCoalescer_Do_Timeout(t *testing.T) {
	coalescer := newRequestCoalescer(30 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	fn := func(ctx context.Context) ([]byte, error) {
		<-release
		return nil, errors.New("too late")
	}

	_, _, err := coalescer.Do(context.Background(), "stations:key", fn)
	if !errors.Is(err, errCoalesceTimeout) {
		t.Fatalf("Do() error = %v, want errCoalesceTimeout", err)
	}
}

func TestRequestCoalescer_Do_DifferentKeys(t *testing.T) {
	coalescer := newRequestCoalescer(5 * time.Second)
	var calls atomic.Int32

	fn := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(`{}`), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _, _ = coalescer.Do(context.Background(), key, fn)
		}("key" + string(rune('a'+i)))
	}
	wg.Wait()

	if got := calls.Load(); got != 5 {
		t.Errorf("fn call count = %d, want 5 (no coalescing for different keys)", got)
	}
}

// dupCount returns how many callers joined the in-flight fetch for key.
func (rc *requestCoalescer) dupCount(key string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if req, ok := rc.inFlight[key]; ok {
		return req.dups
	}
	return 0
}
