package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kjstillabower/tempo-air-quality/internal/aqi"
	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

// DateLayout is the calendar-day format accepted by the date parameter.
const DateLayout = "2006-01-02"

// ErrInvalidDate is returned for a date that is not YYYY-MM-DD.
var ErrInvalidDate = errors.New("invalid date")

// Cache types, used as key prefixes and metric labels.
const (
	kindAirNow    = "airnow"
	kindAirNowDay = "airnow_day"
	kindTempo     = "tempo"
	kindWeather   = "weather"
	kindStations  = "stations"
	kindForecast  = "forecast"
)

// AirNow returns the current AirNow observations merged per parameter.
// distanceKm <= 0 uses the configured default.
func (s *AirQualityService) AirNow(ctx context.Context, loc models.Location, distanceKm int) (*models.AirNowSummary, error) {
	if distanceKm <= 0 {
		distanceKm = s.cfg.AirNowDistanceKm
	}
	key := loc.Key() + ":" + strconv.Itoa(distanceKm)
	v, stale, err := cached(ctx, s, kindAirNow, key, s.cfg.CacheTTL, func(ctx context.Context) (*models.AirNowSummary, error) {
		rows, err := s.airnow.Current(ctx, loc, distanceKm)
		if err != nil {
			return nil, err
		}
		summary := aqi.NormalizeAirNow(rows, loc)
		summary.FetchedAt = s.now().UTC()
		return summary, nil
	})
	if err != nil {
		return nil, err
	}
	v.Stale = stale
	return v, nil
}

// airNowOnDay returns the AirNow observations for 00:00 UTC of day.
func (s *AirQualityService) airNowOnDay(ctx context.Context, loc models.Location, day time.Time) (*models.AirNowSummary, error) {
	distanceKm := s.cfg.AirNowDistanceKm
	key := loc.Key() + ":" + strconv.Itoa(distanceKm) + ":" + day.Format(DateLayout)
	v, stale, err := cached(ctx, s, kindAirNowDay, key, s.cfg.CacheTTL, func(ctx context.Context) (*models.AirNowSummary, error) {
		rows, err := s.airnow.Historical(ctx, loc, day, 0, distanceKm)
		if err != nil {
			return nil, err
		}
		summary := aqi.NormalizeAirNow(rows, loc)
		summary.FetchedAt = s.now().UTC()
		return summary, nil
	})
	if err != nil {
		return nil, err
	}
	v.Stale = stale
	return v, nil
}

// Tempo searches TEMPO NO2 granules over a square of half-width delta degrees
// around loc for one UTC day. An empty date means today.
func (s *AirQualityService) Tempo(ctx context.Context, loc models.Location, delta float64, date string) (*models.TempoResult, error) {
	if delta <= 0 {
		delta = s.cfg.TempoDelta
	}
	start, end, err := s.dayWindow(date)
	if err != nil {
		return nil, err
	}
	bbox := loc.BoundingBox(delta)
	key := loc.Key() + ":" + strconv.FormatFloat(delta, 'g', -1, 64) + ":" + start.Format(DateLayout)
	v, stale, err := cached(ctx, s, kindTempo, key, s.cfg.CacheTTL, func(ctx context.Context) (*models.TempoResult, error) {
		granules, err := s.cmr.SearchGranules(ctx, bbox, start, end, s.cfg.TempoPageSize)
		if err != nil {
			return nil, err
		}
		return &models.TempoResult{
			Location:   loc,
			SearchBBox: bbox,
			Temporal: models.Temporal{
				Start: start.Format(time.RFC3339),
				End:   end.Format(time.RFC3339),
			},
			GranulesFound: len(granules),
			Granules:      granules,
			FetchedAt:     s.now().UTC(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	v.Stale = stale
	return v, nil
}

// dayWindow returns 00:00:00Z and 23:59:59Z of date, or of today when date is empty.
func (s *AirQualityService) dayWindow(date string) (time.Time, time.Time, error) {
	var day time.Time
	if date == "" {
		now := s.now().UTC()
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		d, err := time.Parse(DateLayout, date)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w %q, expected YYYY-MM-DD", ErrInvalidDate, date)
		}
		day = d
	}
	return day, day.Add(24*time.Hour - time.Second), nil
}

// Combined fetches AirNow and TEMPO concurrently. A failing source is
// reported in its own error field; Combined itself fails only on a bad date.
// With a date, AirNow reads the 00:00 UTC historical slot of that day.
func (s *AirQualityService) Combined(ctx context.Context, loc models.Location, date string) (*models.Combined, error) {
	day, _, err := s.dayWindow(date)
	if err != nil {
		return nil, err
	}
	out := &models.Combined{Location: loc, Date: date}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		var (
			summary *models.AirNowSummary
			err     error
		)
		if date == "" {
			summary, err = s.AirNow(ctx, loc, 0)
		} else {
			summary, err = s.airNowOnDay(ctx, loc, day)
		}
		if err != nil {
			out.AirNowError = &models.SourceError{Error: "AirNow unavailable: " + err.Error()}
			return
		}
		out.AirNow = summary
	}()
	go func() {
		defer wg.Done()
		tempo, err := s.Tempo(ctx, loc, 0, date)
		if err != nil {
			out.TempoError = &models.SourceError{Error: "TEMPO unavailable: " + err.Error()}
			return
		}
		out.Tempo = tempo
	}()
	wg.Wait()

	out.Stale = (out.AirNow != nil && out.AirNow.Stale) || (out.Tempo != nil && out.Tempo.Stale)
	return out, nil
}

// Weather returns current Open-Meteo conditions.
func (s *AirQualityService) Weather(ctx context.Context, loc models.Location) (*models.CurrentWeather, error) {
	v, stale, err := cached(ctx, s, kindWeather, loc.Key(), s.cfg.CacheTTL, func(ctx context.Context) (*models.CurrentWeather, error) {
		wx, err := s.weather.Current(ctx, loc)
		if err != nil {
			return nil, err
		}
		wx.Location = loc
		wx.FetchedAt = s.now().UTC()
		return wx, nil
	})
	if err != nil {
		return nil, err
	}
	v.Stale = stale
	return v, nil
}

// Stations returns the latest OpenAQ measurements near loc.
func (s *AirQualityService) Stations(ctx context.Context, loc models.Location) (*models.StationReadings, error) {
	params := s.cfg.OpenAQParameters
	key := loc.Key() + ":" + strconv.Itoa(s.cfg.OpenAQRadiusMeters) + ":" + strconv.Itoa(s.cfg.OpenAQLimit)
	v, stale, err := cached(ctx, s, kindStations, key, s.cfg.CacheTTL, func(ctx context.Context) (*models.StationReadings, error) {
		ms, err := s.stations.Measurements(ctx, loc, s.cfg.OpenAQRadiusMeters, s.cfg.OpenAQLimit, params)
		if err != nil {
			return nil, err
		}
		return &models.StationReadings{
			Location:     loc,
			RadiusMeters: s.cfg.OpenAQRadiusMeters,
			Measurements: ms,
			FetchedAt:    s.now().UTC(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	v.Stale = stale
	return v, nil
}
