package models

import "time"

// AirNowObservation is one row of the AirNow observation endpoints.
type AirNowObservation struct {
	DateObserved  string  `json:"DateObserved"`
	HourObserved  int     `json:"HourObserved"`
	LocalTimeZone string  `json:"LocalTimeZone"`
	ReportingArea string  `json:"ReportingArea"`
	StateCode     string  `json:"StateCode"`
	Latitude      float64 `json:"Latitude"`
	Longitude     float64 `json:"Longitude"`
	ParameterName string  `json:"ParameterName"`
	AQI           *int    `json:"AQI"`
	Category      struct {
		Number int    `json:"Number"`
		Name   string `json:"Name"`
	} `json:"Category"`
}

// AirNowSummary merges AirNow rows for one location: one AQI value per parameter.
type AirNowSummary struct {
	Location      Location          `json:"location"`
	ReportingArea string            `json:"reportingArea,omitempty"`
	StateCode     string            `json:"stateCode,omitempty"`
	ObservedAt    string            `json:"observedAt,omitempty"`
	AQI           map[string]int    `json:"aqi"`
	Category      map[string]string `json:"category"`
	// Parameters preserves the order in which AirNow reported the parameters.
	Parameters []string  `json:"parameters"`
	FetchedAt  time.Time `json:"fetchedAt"`
	Stale      bool      `json:"stale,omitempty"`
}

// Granule is one TEMPO granule found through CMR.
type Granule struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	TimeStart string   `json:"time_start"`
	TimeEnd   string   `json:"time_end"`
	Links     []string `json:"links"`
}

// Temporal is an ISO8601 time window.
type Temporal struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// TempoResult is the TEMPO NO2 granule search result for one location and day.
type TempoResult struct {
	Location      Location  `json:"location"`
	SearchBBox    string    `json:"search_bbox"`
	Temporal      Temporal  `json:"temporal"`
	GranulesFound int       `json:"granules_found"`
	Granules      []Granule `json:"granules"`
	FetchedAt     time.Time `json:"fetchedAt"`
	Stale         bool      `json:"stale,omitempty"`
}

// Measurement is one OpenAQ station reading.
type Measurement struct {
	Location  string    `json:"location"`
	Parameter string    `json:"parameter"`
	Value     *float64  `json:"value"`
	Unit      string    `json:"unit"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Date      time.Time `json:"date"`
}

// StationReadings is the set of OpenAQ measurements near a location.
type StationReadings struct {
	Location     Location      `json:"location"`
	RadiusMeters int           `json:"radiusMeters"`
	Measurements []Measurement `json:"measurements"`
	FetchedAt    time.Time     `json:"fetchedAt"`
	Stale        bool          `json:"stale,omitempty"`
}

// HistoryPoint is one hourly AQI observation used as forecast input.
type HistoryPoint struct {
	TS    time.Time `json:"ts"`
	AQI   int       `json:"aqi"`
	Param string    `json:"param"`
}
