package models

import (
	"fmt"
	"math"
)

// Location is a WGS84 point.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Key returns a stable cache key for the location rounded to four decimals (~11m).
func (l Location) Key() string {
	return fmt.Sprintf("%.4f,%.4f", round4(l.Lat), round4(l.Lon))
}

// BoundingBox returns the CMR bounding box "W,S,E,N" for a square of half-width delta degrees.
func (l Location) BoundingBox(delta float64) string {
	return fmt.Sprintf("%s,%s,%s,%s",
		trimFloat(l.Lon-delta), trimFloat(l.Lat-delta),
		trimFloat(l.Lon+delta), trimFloat(l.Lat+delta))
}

func round4(v float64) float64 {
	r := math.Round(v*1e4) / 1e4
	if r == 0 {
		return 0 // avoid "-0.0000"
	}
	return r
}

func trimFloat(v float64) string {
	return fmt.Sprintf("%g", math.Round(v*1e6)/1e6)
}
