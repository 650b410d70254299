package models

import "time"

// SourceError marks one aggregate section that could not be fetched.
type SourceError struct {
	Error string `json:"error"`
}

// Combined is AirNow and TEMPO for one location, each section failing independently.
type Combined struct {
	Location    Location       `json:"location"`
	Date        string         `json:"date,omitempty"`
	AirNow      *AirNowSummary `json:"airnow,omitempty"`
	AirNowError *SourceError   `json:"airnow_error,omitempty"`
	Tempo       *TempoResult   `json:"tempo,omitempty"`
	TempoError  *SourceError   `json:"tempo_error,omitempty"`
	Stale       bool           `json:"stale,omitempty"`
}

// ParameterValue is one bar/line chart point.
type ParameterValue struct {
	Name     string `json:"name"`
	Value    int    `json:"value"`
	Category string `json:"category,omitempty"`
}

// Trend compares the last and first parameter values.
type Trend struct {
	Delta     int    `json:"delta"`
	Direction string `json:"direction"`
	Message   string `json:"message"`
}

// Insight is the pollutant-driver explanation shown next to the gauge.
type Insight struct {
	Text string `json:"text"`
	Tone string `json:"tone"`
}

// HealthAdvice holds wellness tips for one AQI band.
type HealthAdvice struct {
	Health    string `json:"health"`
	Sport     string `json:"sport"`
	Nutrition string `json:"nutrition"`
	Home      string `json:"home"`
}

// Gauge is the radial AQI gauge state.
type Gauge struct {
	Value    float64 `json:"value"`
	Fraction float64 `json:"fraction"`
	Color    string  `json:"color"`
}

// HeatPoint is one map circle derived from an OpenAQ measurement.
type HeatPoint struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Intensity float64 `json:"intensity"`
	Radius    float64 `json:"radius"`
	Color     string  `json:"color"`
	Parameter string  `json:"parameter"`
}

// TimelineEntry is one TEMPO granule on the timeline slider.
type TimelineEntry struct {
	Index int    `json:"idx"`
	ID    string `json:"id"`
	Title string `json:"title"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Dashboard is the full view model for one location.
type Dashboard struct {
	Location    Location          `json:"location"`
	Date        string            `json:"date,omitempty"`
	BestAQI     *int              `json:"bestAqi"`
	Category    string            `json:"category"`
	Color       string            `json:"color"`
	Advisory    string            `json:"advisory"`
	Gauge       Gauge             `json:"gauge"`
	Trend       *Trend            `json:"trend,omitempty"`
	Insight     Insight           `json:"insight"`
	Health      *HealthAdvice     `json:"health,omitempty"`
	Parameters  []ParameterValue  `json:"parameters"`
	HeatPoints  []HeatPoint       `json:"heatPoints"`
	Timeline    []TimelineEntry   `json:"timeline"`
	Summary     string            `json:"summary"`
	AirNow      *AirNowSummary    `json:"airnow,omitempty"`
	Tempo       *TempoResult      `json:"tempo,omitempty"`
	Weather     *CurrentWeather   `json:"weather,omitempty"`
	Stations    *StationReadings  `json:"stations,omitempty"`
	Errors      map[string]string `json:"errors,omitempty"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Stale       bool              `json:"stale,omitempty"`
}

// Advice is the compact AQI guidance for one location.
type Advice struct {
	Location      Location      `json:"location"`
	ReportingArea string        `json:"reportingArea,omitempty"`
	AQI           *int          `json:"aqi"`
	Category      string        `json:"category,omitempty"`
	Color         string        `json:"color"`
	Advisory      string        `json:"advisory"`
	Gauge         Gauge         `json:"gauge"`
	Health        *HealthAdvice `json:"health,omitempty"`
	Stale         bool          `json:"stale,omitempty"`
}

// AssistantReply is the voice assistant's answer to one utterance.
type AssistantReply struct {
	Query  string `json:"query"`
	Intent string `json:"intent"`
	Reply  string `json:"reply"`
	AQI    *int   `json:"aqi"`
}
