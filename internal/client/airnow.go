package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

const (
	airNowProvider   = "airnow"
	airNowDefaultURL = "https://www.airnowapi.org"
)

// AirNowClient fetches observations from the AirNow observation-by-lat/long API.
type AirNowClient struct {
	*upstream
	apiKey string
}

// NewAirNowClient creates an AirNow client. apiKey is sent as the API_KEY query parameter.
func NewAirNowClient(apiKey string, opts Options) *AirNowClient {
	return &AirNowClient{
		upstream: newUpstream(airNowProvider, airNowDefaultURL, opts),
		apiKey:   apiKey,
	}
}

// Current returns current observations within distanceKm of loc.
func (c *AirNowClient) Current(ctx context.Context, loc models.Location, distanceKm int) ([]models.AirNowObservation, error) {
	params := c.baseParams(loc, distanceKm)
	u, err := c.endpoint("/aq/observation/latLong/current/", params)
	if err != nil {
		return nil, err
	}
	var out []models.AirNowObservation
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Historical returns observations for the UTC hour slot of day.
func (c *AirNowClient) Historical(ctx context.Context, loc models.Location, day time.Time, hour int, distanceKm int) ([]models.AirNowObservation, error) {
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("invalid hour %d", hour)
	}
	params := c.baseParams(loc, distanceKm)
	params.Set("date", HistoricalSlot(day, hour))
	u, err := c.endpoint("/aq/observation/latLong/historical/", params)
	if err != nil {
		return nil, err
	}
	var out []models.AirNowObservation
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateAPIKey performs a lightweight current-observation call. Only an
// authentication failure is reported; other upstream errors are not the key's fault.
func (c *AirNowClient) ValidateAPIKey(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("%s: %w: key not configured", airNowProvider, ErrInvalidAPIKey)
	}
	_, err := c.Current(ctx, models.Location{Lat: 40.7128, Lon: -74.006}, 25)
	if errors.Is(err, ErrInvalidAPIKey) {
		return err
	}
	return nil
}

func (c *AirNowClient) baseParams(loc models.Location, distanceKm int) url.Values {
	params := url.Values{}
	params.Set("format", "application/json")
	params.Set("latitude", formatCoord(loc.Lat))
	params.Set("longitude", formatCoord(loc.Lon))
	params.Set("distance", strconv.Itoa(distanceKm))
	params.Set("API_KEY", c.apiKey)
	return params
}

// HistoricalSlot formats day and hour as AirNow's YYYY-MM-DDTHH-0000 date parameter.
func HistoricalSlot(day time.Time, hour int) string {
	return fmt.Sprintf("%sT%02d-0000", day.UTC().Format("2006-01-02"), hour)
}
