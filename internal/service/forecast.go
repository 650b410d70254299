package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/tempo-air-quality/internal/aqi"
	"github.com/kjstillabower/tempo-air-quality/internal/forecast"
	"github.com/kjstillabower/tempo-air-quality/internal/history"
	"github.com/kjstillabower/tempo-air-quality/internal/models"
	"github.com/kjstillabower/tempo-air-quality/internal/observability"
	"github.com/kjstillabower/tempo-air-quality/internal/reqctx"
)

// NoHistoryMessage is returned in ForecastResult.Error when AirNow has no readings for the last day.
const NoHistoryMessage = "No AirNow history for the last 24h (try a different US location or increase distance)."

// Forecast predicts AQI for the next horizon hours at loc. horizon <= 0 uses
// the configured default. A location without AirNow history yields a result
// with Error set rather than an error.
func (s *AirQualityService) Forecast(ctx context.Context, loc models.Location, horizon int) (*models.ForecastResult, error) {
	if horizon <= 0 {
		horizon = s.cfg.DefaultHorizon
	}
	hour := s.now().UTC().Truncate(time.Hour)
	key := loc.Key() + ":" + strconv.Itoa(horizon) + ":" + strconv.FormatInt(hour.Unix(), 10)
	v, stale, err := cached(ctx, s, kindForecast, key, s.cfg.ForecastCacheTTL, func(ctx context.Context) (*models.ForecastResult, error) {
		return s.runForecast(ctx, loc, horizon)
	})
	if err != nil {
		return nil, err
	}
	v.Stale = stale
	return v, nil
}

func (s *AirQualityService) runForecast(ctx context.Context, loc models.Location, horizon int) (*models.ForecastResult, error) {
	logger := reqctx.Logger(ctx)
	res := &models.ForecastResult{
		Location:    loc,
		History:     []models.HistoryPoint{},
		WeatherUsed: []models.WeatherPoint{},
		Predictions: []models.Prediction{},
		GeneratedAt: s.now().UTC(),
	}

	hist, err := s.collector.Last24h(ctx, loc)
	if err != nil {
		return nil, err
	}
	if len(hist) == 0 {
		res.Error = NoHistoryMessage
		return res, nil
	}
	res.History = hist
	res.HistoryPoints = len(hist)

	weather, err := s.weather.Hourly(ctx, loc, forecast.HistoryHours, horizon)
	if err != nil {
		// The model fills missing weather, so a forecast is still possible.
		logger.Warn("hourly weather unavailable for forecast", zap.String("location", loc.Key()), zap.Error(err))
		weather = nil
	}
	if weather != nil {
		res.WeatherUsed = weather
	}

	out, err := forecast.Predict(hist, weather, horizon, s.cfg.Forecast)
	if err != nil {
		if errors.Is(err, forecast.ErrNoHistory) {
			res.Error = NoHistoryMessage
			return res, nil
		}
		return nil, err
	}
	res.Model = out.Model
	res.Coefficients = out.Coefficients
	res.Predictions = out.Predictions
	observability.ForecastRunsTotal.WithLabelValues(out.Model).Inc()

	var lastPred *float64
	if n := len(out.Predictions); n > 0 {
		last := out.Predictions[n-1].AQIPred
		lastPred = &last
		res.Advisory = aqi.Advisory(last)
		res.Category = aqi.Category(last)
	} else {
		res.Advisory = aqi.NoAdvisory
	}

	res.ID = forecast.NewRunID()
	if s.history != nil {
		run := history.ForecastRun{
			ID:        res.ID,
			Location:  loc,
			CreatedAt: res.GeneratedAt,
			Model:     out.Model,
			Horizon:   horizon,
			LastPred:  lastPred,
		}
		if err := s.history.RecordForecast(ctx, run); err != nil {
			logger.Warn("failed to record forecast run", zap.String("id", res.ID), zap.Error(err))
		}
	}
	logger.Debug("forecast computed",
		zap.String("location", loc.Key()),
		zap.String("model", out.Model),
		zap.Int("history_points", len(hist)),
		zap.Int("horizon", horizon),
	)
	return res, nil
}

// RecentForecasts lists up to n recorded forecast runs for loc, newest first.
func (s *AirQualityService) RecentForecasts(ctx context.Context, loc models.Location, n int) ([]history.ForecastRun, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.RecentForecasts(ctx, loc, n)
}
