// Package forecast builds the short-term AQI forecast: an hourly history
// of AirNow readings joined with Open-Meteo weather, a ridge regression on
// time, temperature, wind and the previous hour's AQI, and a recursive
// multi-hour prediction.
package forecast

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kjstillabower/tempo-air-quality/internal/aqi"
	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

const (
	ModelRidge    = "ridge"
	ModelFallback = "fallback"

	MethodRidge    = "ridge+t,temp,wind,lag1"
	MethodFallback = "moving_average_fallback"
)

// ErrNoHistory is returned when there is nothing to forecast from.
var ErrNoHistory = errors.New("no AQI history")

// Options tunes the model.
type Options struct {
	// Alpha is the ridge penalty.
	Alpha float64
	// MinTrainingRows below which the moving-average fallback is used.
	MinTrainingRows int
	// FallbackAQI is predicted when not even one observation exists.
	FallbackAQI float64
}

// DefaultOptions returns alpha 1.0, 8 training rows and a neutral 50 AQI fallback.
func DefaultOptions() Options {
	return Options{Alpha: 1.0, MinTrainingRows: 8, FallbackAQI: 50.0}
}

// Output is a fitted model and its predictions.
type Output struct {
	Model        string
	Coefficients []float64
	Intercept    float64
	Predictions  []models.Prediction
}

// sample is one joined history hour. temp/wind are NaN when weather is missing.
type sample struct {
	ts   time.Time
	aqi  float64
	temp float64
	wind float64
}

// Predict forecasts horizon hours after the last history point.
// history must be non-empty; weather may be empty.
func Predict(history []models.HistoryPoint, weather []models.WeatherPoint, horizon int, opts Options) (Output, error) {
	if len(history) == 0 {
		return Output{}, ErrNoHistory
	}
	if horizon <= 0 {
		horizon = 6
	}
	if opts.MinTrainingRows <= 0 {
		opts.MinTrainingRows = DefaultOptions().MinTrainingRows
	}

	samples := join(history, weather)
	lastTS := samples[len(samples)-1].ts
	lastAQI := samples[len(samples)-1].aqi

	// Every row but the first has a lag1.
	if len(samples)-1 < opts.MinTrainingRows {
		out := fallback(samples, lastTS, horizon, opts.FallbackAQI)
		setDirections(out.Predictions, lastAQI)
		return out, nil
	}

	x := make([][]float64, 0, len(samples)-1)
	y := make([]float64, 0, len(samples)-1)
	temps := make([]float64, 0, len(samples)-1)
	winds := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		temps = append(temps, samples[i].temp)
		winds = append(winds, samples[i].wind)
		y = append(y, samples[i].aqi)
	}
	fillGaps(temps)
	fillGaps(winds)
	for k, i := 0, 1; i < len(samples); k, i = k+1, i+1 {
		x = append(x, []float64{float64(i), temps[k], winds[k], samples[i-1].aqi})
	}

	model, err := FitRidge(x, y, opts.Alpha)
	if err != nil {
		return Output{}, err
	}

	future := futureWeather(weather, lastTS, horizon, temps[len(temps)-1], winds[len(winds)-1])
	preds := make([]models.Prediction, 0, horizon)
	lag1 := lastAQI
	tBase := float64(len(samples) - 1)
	for i, w := range future {
		yHat := clamp(model.Predict([]float64{tBase + float64(i+1), w.temp, w.wind, lag1}))
		preds = append(preds, models.Prediction{TS: w.ts, AQIPred: yHat, Method: MethodRidge})
		lag1 = yHat
	}
	setDirections(preds, lastAQI)

	return Output{
		Model:        ModelRidge,
		Coefficients: model.Coef,
		Intercept:    model.Intercept,
		Predictions:  preds,
	}, nil
}

// join sorts history by hour and attaches the weather for the same hour.
func join(history []models.HistoryPoint, weather []models.WeatherPoint) []sample {
	byHour := make(map[time.Time]models.WeatherPoint, len(weather))
	for _, w := range weather {
		byHour[w.TS.UTC().Truncate(time.Hour)] = w
	}
	samples := make([]sample, 0, len(history))
	for _, h := range history {
		ts := h.TS.UTC().Truncate(time.Hour)
		s := sample{ts: ts, aqi: float64(h.AQI), temp: math.NaN(), wind: math.NaN()}
		if w, ok := byHour[ts]; ok {
			s.temp = valueOr(w.Temp, math.NaN())
			s.wind = valueOr(w.Wind, math.NaN())
		}
		samples = append(samples, s)
	}
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].ts.Before(samples[j].ts) })
	return samples
}

// fallback predicts the mean of the last three readings (or the last reading) for every hour.
func fallback(samples []sample, lastTS time.Time, horizon int, defaultAQI float64) Output {
	baseline := defaultAQI
	switch n := len(samples); {
	case n >= 3:
		baseline = (samples[n-1].aqi + samples[n-2].aqi + samples[n-3].aqi) / 3
	case n > 0:
		baseline = samples[n-1].aqi
	}
	preds := make([]models.Prediction, 0, horizon)
	for i := 0; i < horizon; i++ {
		preds = append(preds, models.Prediction{
			TS:      lastTS.Add(time.Duration(i+1) * time.Hour),
			AQIPred: baseline,
			Method:  MethodFallback,
		})
	}
	return Output{Model: ModelFallback, Predictions: preds}
}

type futurePoint struct {
	ts   time.Time
	temp float64
	wind float64
}

// futureWeather returns weather for the horizon hours after lastTS. Hours the
// series does not cover reuse the series' last known values, then the last
// training values.
func futureWeather(weather []models.WeatherPoint, lastTS time.Time, horizon int, trainTemp, trainWind float64) []futurePoint {
	byHour := make(map[time.Time]models.WeatherPoint, len(weather))
	lastTemp, lastWind := trainTemp, trainWind
	for _, w := range weather {
		byHour[w.TS.UTC().Truncate(time.Hour)] = w
	}
	if n := len(weather); n > 0 {
		sorted := append([]models.WeatherPoint(nil), weather...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TS.Before(sorted[j].TS) })
		for i := n - 1; i >= 0; i-- {
			if sorted[i].Temp != nil {
				lastTemp = *sorted[i].Temp
				break
			}
		}
		for i := n - 1; i >= 0; i-- {
			if sorted[i].Wind != nil {
				lastWind = *sorted[i].Wind
				break
			}
		}
	}

	out := make([]futurePoint, 0, horizon)
	for i := 0; i < horizon; i++ {
		ts := lastTS.Add(time.Duration(i+1) * time.Hour)
		p := futurePoint{ts: ts, temp: lastTemp, wind: lastWind}
		if w, ok := byHour[ts]; ok {
			p.temp = valueOr(w.Temp, lastTemp)
			p.wind = valueOr(w.Wind, lastWind)
		}
		out = append(out, p)
	}
	return out
}

// fillGaps forward-fills then back-fills NaNs. A column with no values becomes zeros.
func fillGaps(col []float64) {
	last := math.NaN()
	for i, v := range col {
		if math.IsNaN(v) {
			col[i] = last
		} else {
			last = v
		}
	}
	next := math.NaN()
	for i := len(col) - 1; i >= 0; i-- {
		if math.IsNaN(col[i]) {
			col[i] = next
		} else {
			next = col[i]
		}
	}
	for i, v := range col {
		if math.IsNaN(v) {
			col[i] = 0
		}
	}
}

func setDirections(preds []models.Prediction, lastObserved float64) {
	prev := lastObserved
	for i := range preds {
		preds[i].Direction = aqi.Direction(prev, preds[i].AQIPred)
		prev = preds[i].AQIPred
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(aqi.MaxAQI, v))
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// NewRunID returns a time-ordered identifier for a forecast run.
func NewRunID() string {
	return ulid.Make().String()
}
