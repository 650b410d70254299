package models

import "time"

// Prediction is one forecast hour.
type Prediction struct {
	TS        time.Time `json:"ts"`
	AQIPred   float64   `json:"aqi_pred"`
	Method    string    `json:"method"`
	Direction string    `json:"direction,omitempty"`
}

// ForecastResult is the short-term AQI forecast for one location.
type ForecastResult struct {
	ID            string         `json:"id,omitempty"`
	Location      Location       `json:"location"`
	HistoryPoints int            `json:"history_points"`
	History       []HistoryPoint `json:"history"`
	WeatherUsed   []WeatherPoint `json:"weather_used"`
	Model         string         `json:"model,omitempty"`
	Coefficients  []float64      `json:"coefficients,omitempty"`
	Predictions   []Prediction   `json:"predictions"`
	Advisory      string         `json:"advisory,omitempty"`
	Category      string         `json:"category,omitempty"`
	Error         string         `json:"error,omitempty"`
	GeneratedAt   time.Time      `json:"generatedAt"`
	Stale         bool           `json:"stale,omitempty"`
}
