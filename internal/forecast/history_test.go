package forecast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func iptr(v int) *int { return &v }

type fakeFetcher struct {
	mu    sync.Mutex
	calls []time.Time
	rows  func(slot time.Time) ([]models.AirNowObservation, error)
}

func (f *fakeFetcher) Historical(ctx context.Context, loc models.Location, day time.Time, hour int, distanceKm int) ([]models.AirNowObservation, error) {
	slot := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, time.UTC)
	f.mu.Lock()
	f.calls = append(f.calls, slot)
	f.mu.Unlock()
	return f.rows(slot)
}

type memStore struct {
	mu     sync.Mutex
	points []models.HistoryPoint
	saved  []models.HistoryPoint
}

func (s *memStore) Observations(ctx context.Context, loc models.Location, from, to time.Time) ([]models.HistoryPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.HistoryPoint(nil), s.points...), nil
}

func (s *memStore) SaveObservations(ctx context.Context, loc models.Location, points []models.HistoryPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, points...)
	return nil
}

var now = time.Date(2024, 5, 2, 10, 25, 0, 0, time.UTC)

func TestCollector_Last24h(t *testing.T) {
	fetcher := &fakeFetcher{rows: func(slot time.Time) ([]models.AirNowObservation, error) {
		switch slot.Hour() {
		case 3:
			return nil, errors.New("upstream 500")
		case 4:
			return nil, nil
		}
		return []models.AirNowObservation{
			{ParameterName: "O3", AQI: iptr(20)},
			{ParameterName: "PM2.5", AQI: iptr(slot.Hour())},
		}, nil
	}}
	c := NewCollector(fetcher, nil, 50, 4, zap.NewNop())
	c.now = func() time.Time { return now }

	pts, err := c.Last24h(context.Background(), models.Location{Lat: 40.7, Lon: -74})
	require.NoError(t, err)
	assert.Len(t, fetcher.calls, 24)
	require.Len(t, pts, 22)

	assert.Equal(t, time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC), pts[0].TS)
	assert.Equal(t, time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC), pts[len(pts)-1].TS)
	for i := 1; i < len(pts); i++ {
		assert.True(t, pts[i].TS.After(pts[i-1].TS))
	}
	assert.Equal(t, "PM2.5", pts[0].Param)
	assert.Equal(t, 11, pts[0].AQI)
}

func TestCollector_UsesStore(t *testing.T) {
	store := &memStore{points: []models.HistoryPoint{
		{TS: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), AQI: 99, Param: "PM2.5"},
		{TS: time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC), AQI: 1, Param: "PM2.5"},
	}}
	fetcher := &fakeFetcher{rows: func(slot time.Time) ([]models.AirNowObservation, error) {
		return []models.AirNowObservation{{ParameterName: "PM2.5", AQI: iptr(50)}}, nil
	}}
	c := NewCollector(fetcher, store, 50, 2, nil)
	c.now = func() time.Time { return now }

	pts, err := c.Last24h(context.Background(), models.Location{})
	require.NoError(t, err)
	require.Len(t, pts, 24)
	// 12:00 came from the store; the current hour is refetched.
	assert.Len(t, fetcher.calls, 23)
	assert.Equal(t, 99, pts[1].AQI)
	assert.Equal(t, 50, pts[23].AQI)
	assert.Len(t, store.saved, 23)
}

func TestCollector_Canceled(t *testing.T) {
	fetcher := &fakeFetcher{rows: func(slot time.Time) ([]models.AirNowObservation, error) {
		return nil, context.Canceled
	}}
	c := NewCollector(fetcher, nil, 50, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Last24h(ctx, models.Location{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPickHourly(t *testing.T) {
	slot := time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC)

	_, ok := PickHourly(nil, slot)
	assert.False(t, ok)

	p, ok := PickHourly([]models.AirNowObservation{
		{ParameterName: "O3", AQI: iptr(30)},
		{ParameterName: "pm 2.5", AQI: iptr(55)},
	}, slot)
	require.True(t, ok)
	assert.Equal(t, 55, p.AQI)
	assert.Equal(t, time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC), p.TS)

	p, ok = PickHourly([]models.AirNowObservation{{ParameterName: "O3", AQI: iptr(30)}}, slot)
	require.True(t, ok)
	assert.Equal(t, "O3", p.Param)

	_, ok = PickHourly([]models.AirNowObservation{
		{ParameterName: "PM2.5", AQI: nil},
		{ParameterName: "O3", AQI: iptr(30)},
	}, slot)
	assert.False(t, ok, "PM2.5 row without AQI is not replaced by another parameter")

	p, ok = PickHourly([]models.AirNowObservation{{AQI: iptr(12)}}, slot)
	require.True(t, ok)
	assert.Equal(t, "AQI", p.Param)
}

func TestDedup(t *testing.T) {
	h := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)
	out := Dedup([]models.HistoryPoint{
		{TS: h.Add(time.Hour), AQI: 3},
		{TS: h.Add(10 * time.Minute), AQI: 1},
		{TS: h, AQI: 2},
	})
	require.Len(t, out, 2)
	assert.Equal(t, 2, out[0].AQI, "last reading in the hour wins")
	assert.Equal(t, 3, out[1].AQI)
}
