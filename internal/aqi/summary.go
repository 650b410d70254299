package aqi

import (
	"fmt"
	"strings"

	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

// NormalizeAirNow merges per-parameter AirNow rows into one summary. The
// first row supplies the reporting area, state and observation time.
// Rows without an AQI keep their category but are left out of the AQI map.
func NormalizeAirNow(rows []models.AirNowObservation, loc models.Location) *models.AirNowSummary {
	s := &models.AirNowSummary{
		Location:   loc,
		AQI:        map[string]int{},
		Category:   map[string]string{},
		Parameters: []string{},
	}
	seen := map[string]bool{}
	for i, r := range rows {
		if i == 0 {
			s.ReportingArea = r.ReportingArea
			s.StateCode = r.StateCode
			s.ObservedAt = fmt.Sprintf("%s %d:00", strings.TrimSpace(r.DateObserved), r.HourObserved)
		}
		p := r.ParameterName
		if p == "" {
			continue
		}
		if !seen[p] {
			seen[p] = true
			s.Parameters = append(s.Parameters, p)
		}
		if r.AQI != nil {
			s.AQI[p] = *r.AQI
		}
		if r.Category.Name != "" {
			s.Category[p] = r.Category.Name
		}
	}
	return s
}

// BestAQI returns the lowest reported AQI, or nil when none is reported.
func BestAQI(s *models.AirNowSummary) *int {
	if s == nil {
		return nil
	}
	var best *int
	for _, p := range s.Parameters {
		v, ok := s.AQI[p]
		if !ok {
			continue
		}
		if best == nil || v < *best {
			vv := v
			best = &vv
		}
	}
	return best
}

// ParameterSeries returns the AirNow AQI values in reporting order.
func ParameterSeries(s *models.AirNowSummary) []models.ParameterValue {
	if s == nil {
		return []models.ParameterValue{}
	}
	out := make([]models.ParameterValue, 0, len(s.Parameters))
	for _, p := range s.Parameters {
		v, ok := s.AQI[p]
		if !ok {
			continue
		}
		out = append(out, models.ParameterValue{Name: p, Value: v, Category: s.Category[p]})
	}
	return out
}

// Trend compares the last and first values of series. Nil with fewer than two points.
func Trend(series []models.ParameterValue) *models.Trend {
	if len(series) < 2 {
		return nil
	}
	delta := series[len(series)-1].Value - series[0].Value
	switch {
	case delta < 0:
		return &models.Trend{Delta: delta, Direction: "improved",
			Message: fmt.Sprintf("AQI improved by %d points since yesterday.", -delta)}
	case delta > 0:
		return &models.Trend{Delta: delta, Direction: "worsened",
			Message: fmt.Sprintf("AQI increased by %d points since yesterday.", delta)}
	default:
		return &models.Trend{Delta: 0, Direction: "stable",
			Message: "AQI remains stable compared to yesterday."}
	}
}

// Insight explains which pollutants drive the current reading.
func Insight(s *models.AirNowSummary, wx *models.CurrentWeather, best *int) models.Insight {
	return models.Insight{Text: insightText(s, wx), Tone: tone(best)}
}

func insightText(s *models.AirNowSummary, wx *models.CurrentWeather) string {
	if s == nil || len(s.AQI) == 0 {
		return "Insufficient data to explain conditions."
	}
	pm25, hasPM25 := s.AQI["PM2.5"]
	no2, hasNO2 := lookup(s.AQI, "NO2", "NO₂")
	o3, hasO3 := lookup(s.AQI, "O3", "O₃")

	var triggers []string
	if hasPM25 && pm25 > 100 {
		triggers = append(triggers, "PM2.5 levels are high, likely from local combustion or stagnant air.")
	}
	if hasNO2 && no2 > 80 {
		triggers = append(triggers, "NO₂ is elevated — traffic or industrial emissions may be influencing air quality.")
	}
	if hasO3 && o3 > 100 {
		triggers = append(triggers, "O₃ is high — sunny, warm conditions can intensify ozone formation.")
	}
	if wx != nil && wx.WindSpeed10m > 6 && hasPM25 && pm25 > 75 {
		triggers = append(triggers, "Despite stronger winds, particulate levels remain elevated — possible regional transport.")
	}
	if len(triggers) == 0 {
		return "Air quality is generally stable with no strong pollutant drivers detected."
	}
	return strings.Join(triggers, " ")
}

func lookup(m map[string]int, keys ...string) (int, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != 0 {
			return v, true
		}
	}
	return 0, false
}

// tone is ok up to 100, warn up to 150, alert above. Unknown AQI reads as ok.
func tone(v *int) string {
	switch {
	case v == nil || *v <= 100:
		return "ok"
	case *v <= 150:
		return "warn"
	default:
		return "alert"
	}
}

// Timeline indexes TEMPO granules for the timeline slider.
func Timeline(granules []models.Granule) []models.TimelineEntry {
	out := make([]models.TimelineEntry, 0, len(granules))
	for i, g := range granules {
		out = append(out, models.TimelineEntry{Index: i, ID: g.ID, Title: g.Title, Start: g.TimeStart, End: g.TimeEnd})
	}
	return out
}

// Direction compares a prediction against the previous one.
func Direction(prev, cur float64) string {
	switch {
	case cur > prev:
		return "up"
	case cur < prev:
		return "down"
	default:
		return "flat"
	}
}
