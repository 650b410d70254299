package client

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

const (
	openAQProvider   = "openaq"
	openAQDefaultURL = "https://api.openaq.org"
)

// DefaultOpenAQParameters are the pollutants requested for the station heat map.
var DefaultOpenAQParameters = []string{"pm25", "pm10", "no2", "o3"}

// OpenAQClient reads ground-station measurements from OpenAQ.
type OpenAQClient struct {
	*upstream
}

// NewOpenAQClient creates an OpenAQ client. A non-empty apiKey is sent as X-API-Key.
func NewOpenAQClient(apiKey string, opts Options) *OpenAQClient {
	c := &OpenAQClient{upstream: newUpstream(openAQProvider, openAQDefaultURL, opts)}
	if apiKey != "" {
		c.header.Set("X-API-Key", apiKey)
	}
	return c
}

type openAQResponse struct {
	Results []struct {
		Location    string   `json:"location"`
		Parameter   string   `json:"parameter"`
		Value       *float64 `json:"value"`
		Unit        string   `json:"unit"`
		Coordinates *struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"coordinates"`
		Date struct {
			UTC string `json:"utc"`
		} `json:"date"`
	} `json:"results"`
}

// Measurements returns the newest measurements within radiusMeters of loc.
// Results without coordinates are dropped since they cannot be mapped.
func (c *OpenAQClient) Measurements(ctx context.Context, loc models.Location, radiusMeters, limit int, parameters []string) ([]models.Measurement, error) {
	if len(parameters) == 0 {
		parameters = DefaultOpenAQParameters
	}
	params := url.Values{}
	params.Set("coordinates", formatCoord(loc.Lat)+","+formatCoord(loc.Lon))
	params.Set("radius", strconv.Itoa(radiusMeters))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("parameter", strings.Join(parameters, ","))
	params.Set("order_by", "datetime")
	params.Set("sort", "desc")
	u, err := c.endpoint("/v2/measurements", params)
	if err != nil {
		return nil, err
	}

	var resp openAQResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}

	out := make([]models.Measurement, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Coordinates == nil {
			continue
		}
		m := models.Measurement{
			Location:  r.Location,
			Parameter: r.Parameter,
			Value:     r.Value,
			Unit:      r.Unit,
			Lat:       r.Coordinates.Latitude,
			Lon:       r.Coordinates.Longitude,
		}
		if ts, err := time.Parse(time.RFC3339, r.Date.UTC); err == nil {
			m.Date = ts.UTC()
		}
		out = append(out, m)
	}
	return out, nil
}
