package forecast

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

// HistoricalFetcher returns AirNow observations for one UTC hour.
type HistoricalFetcher interface {
	Historical(ctx context.Context, loc models.Location, day time.Time, hour int, distanceKm int) ([]models.AirNowObservation, error)
}

// ObservationStore persists hourly points so repeated forecasts skip hours already fetched.
type ObservationStore interface {
	Observations(ctx context.Context, loc models.Location, from, to time.Time) ([]models.HistoryPoint, error)
	SaveObservations(ctx context.Context, loc models.Location, points []models.HistoryPoint) error
}

// Collector gathers the last 24 hours of AQI readings for a location.
type Collector struct {
	fetcher     HistoricalFetcher
	store       ObservationStore
	distanceKm  int
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// NewCollector creates a Collector. store may be nil.
func NewCollector(fetcher HistoricalFetcher, store ObservationStore, distanceKm, concurrency int, logger *zap.Logger) *Collector {
	if distanceKm <= 0 {
		distanceKm = 50
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		fetcher:     fetcher,
		store:       store,
		distanceKm:  distanceKm,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// HistoryHours is how far back the collector looks.
const HistoryHours = 24

// Last24h returns one point per hour for the 24 hours ending at the current
// UTC hour, ascending. Hours with no usable reading are skipped. Individual
// hour failures are logged and skipped; only context cancellation is returned.
func (c *Collector) Last24h(ctx context.Context, loc models.Location) ([]models.HistoryPoint, error) {
	end := c.now().UTC().Truncate(time.Hour)
	start := end.Add(-(HistoryHours - 1) * time.Hour)

	byHour := map[time.Time]models.HistoryPoint{}
	if c.store != nil {
		stored, err := c.store.Observations(ctx, loc, start, end)
		if err != nil {
			c.logger.Warn("history store read failed", zap.String("location", loc.Key()), zap.Error(err))
		}
		for _, p := range stored {
			byHour[p.TS.UTC().Truncate(time.Hour)] = p
		}
	}

	var (
		mu      sync.Mutex
		fetched []models.HistoryPoint
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for h := 0; h < HistoryHours; h++ {
		slot := start.Add(time.Duration(h) * time.Hour)
		// The current hour is always refetched since AirNow may still be filling it.
		if _, ok := byHour[slot]; ok && !slot.Equal(end) {
			continue
		}
		g.Go(func() error {
			rows, err := c.fetcher.Historical(gctx, loc, slot, slot.Hour(), c.distanceKm)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.logger.Debug("historical hour unavailable",
					zap.String("location", loc.Key()),
					zap.Time("hour", slot),
					zap.Error(err),
				)
				return nil
			}
			p, ok := PickHourly(rows, slot)
			if !ok {
				return nil
			}
			mu.Lock()
			fetched = append(fetched, p)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, p := range fetched {
		byHour[p.TS] = p
	}
	if c.store != nil && len(fetched) > 0 {
		if err := c.store.SaveObservations(ctx, loc, fetched); err != nil {
			c.logger.Warn("history store write failed", zap.String("location", loc.Key()), zap.Error(err))
		}
	}
	return Dedup(mapValues(byHour)), nil
}

// PickHourly chooses the PM2.5 row, else the first row, and returns it as a
// point at slot. ok is false when the chosen row carries no AQI.
func PickHourly(rows []models.AirNowObservation, slot time.Time) (models.HistoryPoint, bool) {
	if len(rows) == 0 {
		return models.HistoryPoint{}, false
	}
	use := rows[0]
	for _, r := range rows {
		if isPM25(r.ParameterName) {
			use = r
			break
		}
	}
	if use.AQI == nil {
		return models.HistoryPoint{}, false
	}
	param := use.ParameterName
	if param == "" {
		param = "AQI"
	}
	return models.HistoryPoint{TS: slot.UTC().Truncate(time.Hour), AQI: *use.AQI, Param: param}, true
}

func isPM25(name string) bool {
	switch strings.ToLower(name) {
	case "pm2.5", "pm25", "pm 2.5":
		return true
	}
	return false
}

// Dedup keeps the last point per hour and sorts ascending.
func Dedup(points []models.HistoryPoint) []models.HistoryPoint {
	byHour := make(map[time.Time]models.HistoryPoint, len(points))
	for _, p := range points {
		p.TS = p.TS.UTC().Truncate(time.Hour)
		byHour[p.TS] = p
	}
	out := mapValues(byHour)
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

func mapValues(m map[time.Time]models.HistoryPoint) []models.HistoryPoint {
	out := make([]models.HistoryPoint, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out
}
