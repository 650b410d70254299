// Package aqi turns raw AirNow, OpenAQ and TEMPO data into the dashboard's
// derived values: categories, colours, advisories, health tips, heat points
// and trend text. Everything here is pure and safe for concurrent use.
package aqi

import (
	"math"
	"strings"

	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

// MaxAQI is the top of the gauge and heat-map scale.
const MaxAQI = 300.0

const (
	// NoDataColor is used when no AQI is available.
	NoDataColor = "#999"
	// NoDataAdvisory is the dashboard advisory when no AQI is available.
	NoDataAdvisory = "No data available."
	// NoAdvisory is the forecast advisory when there is no prediction.
	NoAdvisory = "No advisory."
)

type band struct {
	max      float64
	category string
	color    string
	advisory string
}

// bands are ordered by upper bound. The advisory and colour of the last
// two bands are shared, matching the five-colour scale.
var bands = []band{
	{50, "Good", "#2ecc71", "Good — outdoor activities are safe."},
	{100, "Moderate", "#f1c40f", "Moderate — sensitive groups should monitor symptoms."},
	{150, "Unhealthy for Sensitive Groups", "#e67e22", "Unhealthy for Sensitive Groups — limit prolonged outdoor exertion."},
	{200, "Unhealthy", "#e74c3c", "Unhealthy — reduce outdoor activity; consider a mask."},
	{300, "Very Unhealthy", "#8e44ad", "Very Unhealthy — avoid outdoor activity; wear a respirator mask."},
	{math.Inf(1), "Hazardous", "#8e44ad", "Very Unhealthy — avoid outdoor activity; wear a respirator mask."},
}

func bandFor(v float64) band {
	for _, b := range bands {
		if v <= b.max {
			return b
		}
	}
	return bands[len(bands)-1]
}

// Category returns the EPA category name for v.
func Category(v float64) string { return bandFor(v).category }

// Color returns the display colour for v.
func Color(v float64) string { return bandFor(v).color }

// Advisory returns the outdoor-activity advisory for v.
func Advisory(v float64) string { return bandFor(v).advisory }

// ColorOf is Color for an optional AQI.
func ColorOf(v *int) string {
	if v == nil {
		return NoDataColor
	}
	return Color(float64(*v))
}

// AdvisoryOf is Advisory for an optional AQI, using the dashboard's no-data text.
func AdvisoryOf(v *int) string {
	if v == nil {
		return NoDataAdvisory
	}
	return Advisory(float64(*v))
}

var healthBands = []struct {
	max    float64
	advice models.HealthAdvice
}{
	{50, models.HealthAdvice{
		Health:    "Air is clean — perfect for deep breathing or meditation.",
		Sport:     "Great time for outdoor runs, cycling, or nature walks.",
		Nutrition: "Stay hydrated and eat fresh fruits & vegetables.",
		Home:      "Open your windows to refresh indoor air.",
	}},
	{100, models.HealthAdvice{
		Health:    "Air quality is moderate — sensitive individuals stay aware.",
		Sport:     "Light outdoor exercise is fine; avoid long intense sessions.",
		Nutrition: "Eat foods rich in vitamin C and E (orange, almonds, spinach).",
		Home:      "Ventilate rooms during morning hours.",
	}},
	{150, models.HealthAdvice{
		Health:    "Unhealthy for sensitive groups — asthma or heart patients should limit outdoor exposure.",
		Sport:     "Prefer indoor workouts: yoga, stretching, or pilates.",
		Nutrition: "Include antioxidant-rich foods (green tea, berries, broccoli).",
		Home:      "Use an air purifier if possible; keep plants indoors.",
	}},
	{200, models.HealthAdvice{
		Health:    "Unhealthy — avoid prolonged outdoor activity.",
		Sport:     "Switch to indoor fitness sessions.",
		Nutrition: "Drink more water, add turmeric or ginger to meals.",
		Home:      "Keep windows closed during peak hours; use HEPA filters.",
	}},
	{math.Inf(1), models.HealthAdvice{
		Health:    "Hazardous! Stay indoors and monitor your health.",
		Sport:     "No outdoor activity recommended.",
		Nutrition: "Consume antioxidant-rich meals; avoid processed food.",
		Home:      "Run an air purifier and keep windows sealed.",
	}},
}

// Health returns wellness tips for v, or nil when v is nil.
func Health(v *int) *models.HealthAdvice {
	if v == nil {
		return nil
	}
	for _, b := range healthBands {
		if float64(*v) <= b.max {
			advice := b.advice
			return &advice
		}
	}
	return nil
}

// Gauge returns the gauge state for v clamped to 0..300.
func Gauge(v float64) models.Gauge {
	c := clamp(v)
	return models.Gauge{Value: c, Fraction: c / MaxAQI, Color: Color(c)}
}

// NormalizeToAQI maps a raw pollutant concentration onto an approximate 0..300
// AQI-like scale. Unknown parameters pass through unscaled.
func NormalizeToAQI(parameter string, value *float64) float64 {
	if value == nil {
		return 0
	}
	v := *value
	switch strings.ToLower(parameter) {
	case "pm25":
		v = v / 35 * 100
	case "pm10":
		v = v / 50 * 100
	case "no2":
		v = v / 100 * 100
	case "o3":
		v = v / 120 * 100
	}
	return clamp(v)
}

// HeatPoints converts station measurements into map circles. Radius grows
// linearly from 10 at intensity 0 to 40 at 300.
func HeatPoints(ms []models.Measurement) []models.HeatPoint {
	out := make([]models.HeatPoint, 0, len(ms))
	for _, m := range ms {
		intensity := NormalizeToAQI(m.Parameter, m.Value)
		out = append(out, models.HeatPoint{
			Lat:       m.Lat,
			Lon:       m.Lon,
			Intensity: intensity,
			Radius:    10 + intensity/MaxAQI*30,
			Color:     Color(intensity),
			Parameter: m.Parameter,
		})
	}
	return out
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > MaxAQI {
		return MaxAQI
	}
	return v
}
