package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

const (
	openMeteoProvider   = "openmeteo"
	openMeteoDefaultURL = "https://api.open-meteo.com"

	// openMeteoTimeLayout is the hourly timestamp format Open-Meteo returns.
	openMeteoTimeLayout = "2006-01-02T15:04"
)

// OpenMeteoClient reads current and hourly weather. No key is needed.
type OpenMeteoClient struct {
	*upstream
}

// NewOpenMeteoClient creates an Open-Meteo client.
func NewOpenMeteoClient(opts Options) *OpenMeteoClient {
	return &OpenMeteoClient{upstream: newUpstream(openMeteoProvider, openMeteoDefaultURL, opts)}
}

type openMeteoCurrent struct {
	Current struct {
		Time             string   `json:"time"`
		Temperature2m    *float64 `json:"temperature_2m"`
		RelativeHumidity *float64 `json:"relative_humidity_2m"`
		WindSpeed10m     *float64 `json:"windspeed_10m"`
	} `json:"current"`
}

type openMeteoHourly struct {
	Hourly struct {
		Time          []string   `json:"time"`
		Temperature2m []*float64 `json:"temperature_2m"`
		WindSpeed10m  []*float64 `json:"windspeed_10m"`
	} `json:"hourly"`
}

// Current returns current temperature, humidity and wind at loc in the location's timezone.
func (c *OpenMeteoClient) Current(ctx context.Context, loc models.Location) (*models.CurrentWeather, error) {
	params := url.Values{}
	params.Set("latitude", formatCoord(loc.Lat))
	params.Set("longitude", formatCoord(loc.Lon))
	params.Set("current", "temperature_2m,relative_humidity_2m,windspeed_10m")
	params.Set("timezone", "auto")
	u, err := c.endpoint("/v1/forecast", params)
	if err != nil {
		return nil, err
	}

	var resp openMeteoCurrent
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	if resp.Current.Time == "" {
		return nil, fmt.Errorf("%s parse response: missing current block", openMeteoProvider)
	}
	return &models.CurrentWeather{
		Location:         loc,
		Time:             resp.Current.Time,
		Temperature2m:    deref(resp.Current.Temperature2m),
		RelativeHumidity: deref(resp.Current.RelativeHumidity),
		WindSpeed10m:     deref(resp.Current.WindSpeed10m),
	}, nil
}

// Hourly returns UTC hourly temperature and wind from pastHours back to
// forecastHours ahead, each timestamp floored to the hour.
func (c *OpenMeteoClient) Hourly(ctx context.Context, loc models.Location, pastHours, forecastHours int) ([]models.WeatherPoint, error) {
	params := url.Values{}
	params.Set("latitude", formatCoord(loc.Lat))
	params.Set("longitude", formatCoord(loc.Lon))
	params.Set("hourly", "temperature_2m,windspeed_10m")
	params.Set("past_hours", strconv.Itoa(pastHours))
	params.Set("forecast_hours", strconv.Itoa(forecastHours))
	params.Set("timezone", "UTC")
	u, err := c.endpoint("/v1/forecast", params)
	if err != nil {
		return nil, err
	}

	var resp openMeteoHourly
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}

	h := resp.Hourly
	points := make([]models.WeatherPoint, 0, len(h.Time))
	for i, raw := range h.Time {
		ts, err := time.ParseInLocation(openMeteoTimeLayout, raw, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%s parse response: time %q: %w", openMeteoProvider, raw, err)
		}
		p := models.WeatherPoint{TS: ts.Truncate(time.Hour)}
		if i < len(h.Temperature2m) {
			p.Temp = h.Temperature2m[i]
		}
		if i < len(h.WindSpeed10m) {
			p.Wind = h.WindSpeed10m[i]
		}
		points = append(points, p)
	}
	return points, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
