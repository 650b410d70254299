package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

type mockWarmer struct {
	mu    sync.Mutex
	calls []models.Location
	fail  map[string]error
	count int32
}

func (m *mockWarmer) WarmDashboard(ctx context.Context, loc models.Location) error {
	atomic.AddInt32(&m.count, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, loc)
	return m.fail[loc.Key()]
}

var (
	nyc = models.Location{Lat: 40.7128, Lon: -74.006}
	la  = models.Location{Lat: 34.0522, Lon: -118.2437}
)

func TestCacheWarmer_Warm_Success(t *testing.T) {
	m := &mockWarmer{}
	w := NewCacheWarmer(m, []models.Location{nyc, la}, time.Second, nil)
	if err := w.Warm(context.Background()); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if len(m.calls) != 2 {
		t.Errorf("calls = %d, want 2", len(m.calls))
	}
}

func TestCacheWarmer_Warm_EmptyLocations(t *testing.T) {
	m := &mockWarmer{}
	if err := NewCacheWarmer(m, nil, 0, nil).Warm(context.Background()); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if len(m.calls) != 0 {
		t.Errorf("calls = %d, want 0", len(m.calls))
	}
}

func TestCacheWarmer_Warm_PartialFailure(t *testing.T) {
	m := &mockWarmer{fail: map[string]error{la.Key(): errors.New("airnow down")}}
	err := NewCacheWarmer(m, []models.Location{nyc, la}, 0, nil).Warm(context.Background())
	if err == nil {
		t.Fatal("Warm() error = nil, want failure for one location")
	}
	if !strings.Contains(err.Error(), la.Key()) || !strings.Contains(err.Error(), "airnow down") {
		t.Errorf("error = %q, want location and cause", err)
	}
	if len(m.calls) != 2 {
		t.Errorf("calls = %d, want both locations attempted", len(m.calls))
	}
}

func TestCacheWarmer_StartStop(t *testing.T) {
	m := &mockWarmer{}
	w := NewCacheWarmer(m, []models.Location{nyc}, 0, nil)
	if err := w.Start(context.Background(), "@every 1h"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if n := atomic.LoadInt32(&m.count); n != 1 {
		t.Errorf("initial warm calls = %d, want 1", n)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Stop(ctx)
	w.Stop(ctx) // idempotent
}

func TestCacheWarmer_StartInvalidSchedule(t *testing.T) {
	w := NewCacheWarmer(&mockWarmer{}, []models.Location{nyc}, 0, nil)
	if err := w.Start(context.Background(), "every five minutes"); err == nil {
		t.Error("Start() with invalid schedule should fail")
	}
}

func TestValidateSchedule(t *testing.T) {
	for _, ok := range []string{"*/10 * * * *", "@hourly", "@every 5m"} {
		if err := ValidateSchedule(ok); err != nil {
			t.Errorf("ValidateSchedule(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "* * *", "0 0 0 * * *"} {
		if err := ValidateSchedule(bad); err == nil {
			t.Errorf("ValidateSchedule(%q) = nil, want error", bad)
		}
	}
}
