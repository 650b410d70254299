package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/tempo-air-quality/internal/traffic"
)

func immediate(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func TestFibonacciDelays(t *testing.T) {
	got := FibonacciDelays(time.Minute, 13*time.Minute)
	want := []time.Duration{1 * time.Minute, 2 * time.Minute, 3 * time.Minute, 5 * time.Minute, 8 * time.Minute, 13 * time.Minute}
	if len(got) != len(want) {
		t.Fatalf("FibonacciDelays len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if d := FibonacciDelays(0, time.Minute); d != nil {
		t.Errorf("FibonacciDelays(0) = %v, want nil", d)
	}
	if d := FibonacciDelays(time.Minute, time.Second); d != nil {
		t.Errorf("FibonacciDelays(max<initial) = %v, want nil", d)
	}
}

func TestRecovery_RunSucceedsAndResetsTraffic(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()
	traffic.RecordError()

	var calls atomic.Int32
	validate := func(ctx context.Context) error {
		if calls.Add(1) < 2 {
			return errors.New("still down")
		}
		return nil
	}
	r := NewRecovery(validate, time.Minute, 5*time.Minute, nil, nil)
	r.after = immediate

	if !r.Run(context.Background()) {
		t.Fatal("Run() = false, want recovered")
	}
	if calls.Load() != 2 {
		t.Errorf("validate calls = %d, want 2", calls.Load())
	}
	if errs, _ := traffic.ErrorRate(time.Hour); errs != 0 {
		t.Errorf("errors after recovery = %d, want 0", errs)
	}
}

func TestRecovery_RunExhausted(t *testing.T) {
	var exhausted atomic.Bool
	r := NewRecovery(func(ctx context.Context) error { return errors.New("down") },
		time.Minute, 3*time.Minute, func() { exhausted.Store(true) }, nil)
	r.after = immediate

	if r.Run(context.Background()) {
		t.Fatal("Run() = true, want false")
	}
	if !exhausted.Load() {
		t.Error("onExhausted not called")
	}
}

func TestRecovery_RunCancelled(t *testing.T) {
	r := NewRecovery(func(ctx context.Context) error { return nil }, time.Hour, time.Hour, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if r.Run(ctx) {
		t.Error("Run() = true on cancelled context")
	}
}

func TestRecovery_NotifyStartsRun(t *testing.T) {
	done := make(chan struct{})
	var once atomic.Bool
	r := NewRecovery(func(ctx context.Context) error {
		if !once.Swap(true) {
			close(done)
		}
		return nil
	}, time.Millisecond, time.Millisecond, nil, nil)
	r.after = immediate

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	r.Notify()
	r.Notify() // coalesced

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recovery did not run after Notify")
	}
}
