package traffic

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTracker_CountsByKind(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(clock.Now)

	tr.RecordN(Success, 3)
	tr.Record(Error)
	tr.RecordN(Denied, 2)

	if got := tr.RequestCount(time.Minute); got != 6 {
		t.Errorf("RequestCount = %d, want 6", got)
	}
	if got := tr.DenialCount(time.Minute); got != 2 {
		t.Errorf("DenialCount = %d, want 2", got)
	}
	if got := tr.QueryCount(time.Minute); got != 4 {
		t.Errorf("QueryCount = %d, want 4", got)
	}
	errs, total := tr.ErrorRate(time.Minute)
	if errs != 1 || total != 4 {
		t.Errorf("ErrorRate = (%d, %d), want (1, 4)", errs, total)
	}
}

func TestTracker_WindowExcludesOldOutcomes(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(clock.Now)

	tr.Record(Error)
	clock.Advance(2 * time.Minute)
	tr.Record(Success)

	errs, total := tr.ErrorRate(time.Minute)
	if errs != 0 || total != 1 {
		t.Errorf("ErrorRate(1m) = (%d, %d), want (0, 1)", errs, total)
	}
	errs, total = tr.ErrorRate(5 * time.Minute)
	if errs != 1 || total != 2 {
		t.Errorf("ErrorRate(5m) = (%d, %d), want (1, 2)", errs, total)
	}
}

func TestTracker_PrunesBeyondRetention(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(clock.Now)

	tr.RecordN(Success, 5)
	clock.Advance(retention + time.Second)
	tr.Record(Success)

	tr.mu.Lock()
	n := len(tr.times[Success])
	tr.mu.Unlock()
	if n != 1 {
		t.Errorf("retained successes = %d, want 1", n)
	}
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker(time.Now)
	tr.RecordN(Denied, 4)
	tr.Reset()
	if got := tr.RequestCount(time.Hour); got != 0 {
		t.Errorf("RequestCount after Reset = %d, want 0", got)
	}
}

func TestPackageLevelHelpers(t *testing.T) {
	Reset()
	defer Reset()
	RecordSuccess()
	RecordError()
	RecordDenied()
	if got := RequestCount(time.Minute); got != 3 {
		t.Errorf("RequestCount = %d, want 3", got)
	}
	if got := DenialCount(time.Minute); got != 1 {
		t.Errorf("DenialCount = %d, want 1", got)
	}
	if got := QueryCount(time.Minute); got != 2 {
		t.Errorf("QueryCount = %d, want 2", got)
	}
}

func TestTracker_ConcurrentRecord(t *testing.T) {
	tr := NewTracker(time.Now)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record(Success)
		}()
	}
	wg.Wait()
	if got := tr.RequestCount(time.Minute); got != 50 {
		t.Errorf("RequestCount = %d, want 50", got)
	}
}
