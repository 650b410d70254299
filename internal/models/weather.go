package models

import "time"

// CurrentWeather holds Open-Meteo current conditions.
type CurrentWeather struct {
	Location         Location  `json:"location"`
	Time             string    `json:"time"`
	Temperature2m    float64   `json:"temperature_2m"`
	RelativeHumidity float64   `json:"relative_humidity_2m"`
	WindSpeed10m     float64   `json:"windspeed_10m"`
	FetchedAt        time.Time `json:"fetchedAt"`
	Stale            bool      `json:"stale,omitempty"`
}

// WeatherPoint is one hourly Open-Meteo sample. Nil fields were missing upstream.
type WeatherPoint struct {
	TS   time.Time `json:"ts"`
	Temp *float64  `json:"temp"`
	Wind *float64  `json:"wind"`
}
