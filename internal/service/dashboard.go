package service

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/tempo-air-quality/internal/aqi"
	"github.com/kjstillabower/tempo-air-quality/internal/assistant"
	"github.com/kjstillabower/tempo-air-quality/internal/models"
	"github.com/kjstillabower/tempo-air-quality/internal/reqctx"
)

// Dashboard sections, used as keys of Dashboard.Errors.
const (
	SectionAirNow   = "airnow"
	SectionTempo    = "tempo"
	SectionWeather  = "weather"
	SectionStations = "stations"
)

// Dashboard builds the full view model for loc. Sources are fetched
// concurrently; each failing source is listed in Errors and its derived
// fields fall back to their no-data values.
func (s *AirQualityService) Dashboard(ctx context.Context, loc models.Location, date string) (*models.Dashboard, error) {
	if _, _, err := s.dayWindow(date); err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		errs     = map[string]string{}
		combined *models.Combined
		wx       *models.CurrentWeather
		stations *models.StationReadings
	)
	fail := func(section string, err error) {
		mu.Lock()
		errs[section] = err.Error()
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.Combined(gctx, loc, date)
		if err != nil {
			return err
		}
		combined = c
		return nil
	})
	g.Go(func() error {
		w, err := s.Weather(gctx, loc)
		if err != nil {
			fail(SectionWeather, err)
			return nil
		}
		wx = w
		return nil
	})
	g.Go(func() error {
		st, err := s.Stations(gctx, loc)
		if err != nil {
			fail(SectionStations, err)
			return nil
		}
		stations = st
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if combined.AirNowError != nil {
		errs[SectionAirNow] = combined.AirNowError.Error
	}
	if combined.TempoError != nil {
		errs[SectionTempo] = combined.TempoError.Error
	}
	if len(errs) > 0 {
		reqctx.Logger(ctx).Info("dashboard served with missing sources",
			zap.String("location", loc.Key()),
			zap.Any("errors", errs),
		)
	}

	d := buildDashboard(loc, date, combined.AirNow, combined.Tempo, wx, stations)
	d.GeneratedAt = s.now().UTC()
	if len(errs) > 0 {
		d.Errors = errs
	}
	d.Stale = combined.Stale || (wx != nil && wx.Stale) || (stations != nil && stations.Stale)
	return d, nil
}

// buildDashboard derives the view model from whatever sources are present.
func buildDashboard(loc models.Location, date string, an *models.AirNowSummary, tempo *models.TempoResult, wx *models.CurrentWeather, stations *models.StationReadings) *models.Dashboard {
	best := aqi.BestAQI(an)
	series := aqi.ParameterSeries(an)

	d := &models.Dashboard{
		Location:   loc,
		Date:       date,
		BestAQI:    best,
		Color:      aqi.ColorOf(best),
		Advisory:   aqi.AdvisoryOf(best),
		Trend:      aqi.Trend(series),
		Insight:    aqi.Insight(an, wx, best),
		Health:     aqi.Health(best),
		Parameters: series,
		HeatPoints: []models.HeatPoint{},
		Timeline:   []models.TimelineEntry{},
		AirNow:     an,
		Tempo:      tempo,
		Weather:    wx,
		Stations:   stations,
	}
	if best != nil {
		d.Category = aqi.Category(float64(*best))
		d.Gauge = aqi.Gauge(float64(*best))
	} else {
		d.Gauge = models.Gauge{Color: aqi.NoDataColor}
	}
	if stations != nil {
		d.HeatPoints = aqi.HeatPoints(stations.Measurements)
	}
	if tempo != nil {
		d.Timeline = aqi.Timeline(tempo.Granules)
	}
	area := ""
	if an != nil {
		area = an.ReportingArea
	}
	d.Summary = assistant.Summary(area, best, d.Advisory)
	return d
}

// Advice returns the compact AQI guidance for loc from current AirNow data.
func (s *AirQualityService) Advice(ctx context.Context, loc models.Location) (*models.Advice, error) {
	an, err := s.AirNow(ctx, loc, 0)
	if err != nil {
		return nil, err
	}
	best := aqi.BestAQI(an)
	a := &models.Advice{
		Location:      loc,
		ReportingArea: an.ReportingArea,
		AQI:           best,
		Color:         aqi.ColorOf(best),
		Advisory:      aqi.AdvisoryOf(best),
		Health:        aqi.Health(best),
		Stale:         an.Stale,
	}
	if best != nil {
		a.Category = aqi.Category(float64(*best))
		a.Gauge = aqi.Gauge(float64(*best))
	} else {
		a.Gauge = models.Gauge{Color: aqi.NoDataColor}
	}
	return a, nil
}

// Ask answers a spoken question about the air quality at loc.
// AirNow failures degrade to the no-data reply rather than an error.
func (s *AirQualityService) Ask(ctx context.Context, loc models.Location, utterance string) models.AssistantReply {
	var (
		area string
		best *int
	)
	if an, err := s.AirNow(ctx, loc, 0); err == nil {
		area = an.ReportingArea
		best = aqi.BestAQI(an)
	} else {
		reqctx.Logger(ctx).Warn("assistant answering without AirNow data", zap.Error(err))
	}
	return assistant.Reply(utterance, area, best, aqi.AdvisoryOf(best))
}

// WarmDashboard populates the cache entries a dashboard request for loc reads.
func (s *AirQualityService) WarmDashboard(ctx context.Context, loc models.Location) error {
	d, err := s.Dashboard(ctx, loc, "")
	if err != nil {
		return err
	}
	if len(d.Errors) == len(allSections) {
		return errAllSourcesFailed
	}
	return nil
}

var allSections = []string{SectionAirNow, SectionTempo, SectionWeather, SectionStations}

// errAllSourcesFailed is returned by WarmDashboard when nothing could be fetched.
var errAllSourcesFailed = errors.New("all dashboard sources failed")
