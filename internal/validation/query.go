// Package validation parses and checks request parameters.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

// ErrInvalidParameter is wrapped by every query validation error.
var ErrInvalidParameter = errors.New("invalid parameter")

var validate = validator.New()

// Defaults fill parameters the caller leaves out.
type Defaults struct {
	Lat        float64
	Lon        float64
	Horizon    int
	MaxHorizon int
	DistanceKm int
	Delta      float64
}

// DefaultDefaults centres on New York City, the location the dashboard opens on.
func DefaultDefaults() Defaults {
	return Defaults{Lat: 40.7128, Lon: -74.0060, Horizon: 6, MaxHorizon: 24, DistanceKm: 50, Delta: 0.2}
}

// Query is a parsed and validated set of query parameters.
type Query struct {
	Lat        float64 `validate:"gte=-90,lte=90"`
	Lon        float64 `validate:"gte=-180,lte=180"`
	Date       string  `validate:"omitempty,datetime=2006-01-02"`
	Horizon    int     `validate:"gte=1"`
	DistanceKm int     `validate:"gte=1,lte=500"`
	Delta      float64 `validate:"gt=0,lte=5"`
}

// Location returns the queried point.
func (q Query) Location() models.Location {
	return models.Location{Lat: q.Lat, Lon: q.Lon}
}

// FieldError names the offending parameter.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Message }

func (e *FieldError) Unwrap() error { return ErrInvalidParameter }

// ParseQuery reads lat, lon, date, horizon, distance and delta from values,
// applying d for absent parameters.
func ParseQuery(values url.Values, d Defaults) (Query, error) {
	q := Query{Lat: d.Lat, Lon: d.Lon, Horizon: d.Horizon, DistanceKm: d.DistanceKm, Delta: d.Delta}
	var err error
	if q.Lat, err = floatParam(values, "lat", q.Lat); err != nil {
		return Query{}, err
	}
	if q.Lon, err = floatParam(values, "lon", q.Lon); err != nil {
		return Query{}, err
	}
	if q.Horizon, err = intParam(values, "horizon", q.Horizon); err != nil {
		return Query{}, err
	}
	if q.DistanceKm, err = intParam(values, "distance", q.DistanceKm); err != nil {
		return Query{}, err
	}
	if q.Delta, err = floatParam(values, "delta", q.Delta); err != nil {
		return Query{}, err
	}
	q.Date = strings.TrimSpace(values.Get("date"))

	if err := validate.Struct(q); err != nil {
		return Query{}, translate(err)
	}
	maxHorizon := d.MaxHorizon
	if maxHorizon <= 0 {
		maxHorizon = 24
	}
	if q.Horizon > maxHorizon {
		return Query{}, &FieldError{Field: "horizon", Message: fmt.Sprintf("must be between 1 and %d", maxHorizon)}
	}
	return q, nil
}

func floatParam(values url.Values, name string, def float64) (float64, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &FieldError{Field: name, Message: "must be a number"}
	}
	return v, nil
}

func intParam(values url.Values, name string, def int) (int, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &FieldError{Field: name, Message: "must be an integer"}
	}
	return v, nil
}

var fieldNames = map[string]string{
	"Lat":        "lat",
	"Lon":        "lon",
	"Date":       "date",
	"Horizon":    "horizon",
	"DistanceKm": "distance",
	"Delta":      "delta",
}

var fieldRules = map[string]string{
	"lat":      "must be between -90 and 90",
	"lon":      "must be between -180 and 180",
	"date":     "must be YYYY-MM-DD",
	"horizon":  "must be at least 1",
	"distance": "must be between 1 and 500",
	"delta":    "must be greater than 0 and at most 5",
}

// translate reports the first failing field in query-parameter terms.
func translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	name, ok := fieldNames[verrs[0].StructField()]
	if !ok {
		name = strings.ToLower(verrs[0].StructField())
	}
	return &FieldError{Field: name, Message: fieldRules[name]}
}
