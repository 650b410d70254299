package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kjstillabower/tempo-air-quality/internal/aqi"
	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

var (
	mutedColor = lipgloss.Color("#7f8c8d")
	errorColor = lipgloss.Color("#e74c3c")

	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(mutedColor).Width(12)
	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
	errorStyle = lipgloss.NewStyle().Foreground(errorColor)
)

// aqiStyle colours text with the AQI band colour the service reports.
func aqiStyle(hex string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(hex)).Bold(true)
}

func aqiBox(hex string) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(hex)).
		Padding(0, 2)
}

func formatAQI(v *int) string {
	if v == nil {
		return "--"
	}
	return fmt.Sprintf("%d", *v)
}

func row(label, value string) string {
	return labelStyle.Render(label) + " " + value
}

func locationLine(l models.Location, area string) string {
	coords := fmt.Sprintf("(%.4f, %.4f)", l.Lat, l.Lon)
	if area == "" {
		return titleStyle.Render(coords)
	}
	return titleStyle.Render(area) + " " + mutedStyle.Render(coords)
}

func renderDashboard(w io.Writer, d models.Dashboard) {
	area := ""
	if d.AirNow != nil {
		area = d.AirNow.ReportingArea
	}
	lines := []string{locationLine(d.Location, area)}

	headline := aqiStyle(d.Color).Render("AQI " + formatAQI(d.BestAQI))
	if d.Category != "" {
		headline += "  " + aqiStyle(d.Color).Render(d.Category)
	}
	lines = append(lines, aqiBox(d.Color).Render(headline), d.Advisory)

	if d.Trend != nil {
		lines = append(lines, row("Trend", d.Trend.Message))
	}
	if d.Insight.Text != "" {
		lines = append(lines, row("Insight", d.Insight.Text))
	}
	if d.Health != nil {
		lines = append(lines, row("Health", d.Health.Health), row("Sport", d.Health.Sport))
	}

	if len(d.Parameters) > 0 {
		lines = append(lines, "", titleStyle.Render("Pollutants"))
		for _, p := range d.Parameters {
			value := aqiStyle(aqi.Color(float64(p.Value))).Render(fmt.Sprintf("%3d", p.Value))
			lines = append(lines, row(p.Name, value+"  "+p.Category))
		}
	}

	if wx := d.Weather; wx != nil {
		lines = append(lines, "", row("Weather", fmt.Sprintf("%.1f°C  %.0f%% RH  wind %.1f km/h",
			wx.Temperature2m, wx.RelativeHumidity, wx.WindSpeed10m)))
	}
	if d.Tempo != nil {
		lines = append(lines, row("TEMPO", fmt.Sprintf("%d granules", d.Tempo.GranulesFound)))
	}
	if d.Stations != nil {
		lines = append(lines, row("Stations", fmt.Sprintf("%d measurements within %d m",
			len(d.Stations.Measurements), d.Stations.RadiusMeters)))
	}

	if len(d.Errors) > 0 {
		sources := make([]string, 0, len(d.Errors))
		for s := range d.Errors {
			sources = append(sources, s)
		}
		sort.Strings(sources)
		lines = append(lines, "")
		for _, s := range sources {
			lines = append(lines, errorStyle.Render(s+": "+d.Errors[s]))
		}
	}
	if d.Stale {
		lines = append(lines, mutedStyle.Render("served from stale cache"))
	}
	fmt.Fprintln(w, strings.Join(lines, "\n"))
}

func renderForecast(w io.Writer, f models.ForecastResult) {
	lines := []string{locationLine(f.Location, "")}
	if f.Error != "" {
		lines = append(lines, mutedStyle.Render(f.Error))
		fmt.Fprintln(w, strings.Join(lines, "\n"))
		return
	}

	model := f.Model
	if model == "" {
		model = "unknown"
	}
	lines = append(lines, row("Model", fmt.Sprintf("%s, %d history points", model, f.HistoryPoints)))
	if f.Category != "" {
		lines = append(lines, row("Outlook", f.Category+": "+f.Advisory))
	}
	lines = append(lines, "")
	for _, p := range f.Predictions {
		value := aqiStyle(aqi.Color(p.AQIPred)).Render(fmt.Sprintf("%5.0f", p.AQIPred))
		lines = append(lines, fmt.Sprintf("%s %s  %s %s",
			p.TS.UTC().Format("Jan 02 15:04"), value, arrow(p.Direction), mutedStyle.Render(p.Method)))
	}
	if f.Stale {
		lines = append(lines, mutedStyle.Render("served from stale cache"))
	}
	fmt.Fprintln(w, strings.Join(lines, "\n"))
}

func arrow(direction string) string {
	switch direction {
	case "up":
		return "↑"
	case "down":
		return "↓"
	default:
		return "→"
	}
}

func renderAdvice(w io.Writer, a models.Advice) {
	headline := aqiStyle(a.Color).Render("AQI " + formatAQI(a.AQI))
	if a.Category != "" {
		headline += "  " + aqiStyle(a.Color).Render(a.Category)
	}
	lines := []string{
		locationLine(a.Location, a.ReportingArea),
		aqiBox(a.Color).Render(headline),
		a.Advisory,
	}
	if h := a.Health; h != nil {
		lines = append(lines, "",
			row("Health", h.Health),
			row("Sport", h.Sport),
			row("Nutrition", h.Nutrition),
			row("Home", h.Home))
	}
	if a.Stale {
		lines = append(lines, mutedStyle.Render("served from stale cache"))
	}
	fmt.Fprintln(w, strings.Join(lines, "\n"))
}
