package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

func intPtr(v int) *int { return &v }

// newTestServer serves body for path and records the last query string.
func newTestServer(t *testing.T, path string, status int, body any) (*httptest.Server, *string) {
	t.Helper()
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &query
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestDashboardCommand(t *testing.T) {
	dash := models.Dashboard{
		Location: models.Location{Lat: 40.7128, Lon: -74.006},
		BestAQI:  intPtr(61),
		Category: "Moderate",
		Color:    "#f1c40f",
		Advisory: "Unusually sensitive people should consider reducing prolonged outdoor exertion.",
		Trend:    &models.Trend{Delta: 5, Direction: "up", Message: "AQI rose by 5 since the last reading"},
		Insight:  models.Insight{Text: "PM2.5 is the main pollutant right now", Tone: "caution"},
		Parameters: []models.ParameterValue{
			{Name: "O3", Value: 35, Category: "Good"},
			{Name: "PM2.5", Value: 61, Category: "Moderate"},
		},
		AirNow:  &models.AirNowSummary{ReportingArea: "New York City"},
		Weather: &models.CurrentWeather{Temperature2m: 4, RelativeHumidity: 55, WindSpeed10m: 12.5},
		Tempo:   &models.TempoResult{GranulesFound: 3},
		Errors:  map[string]string{"stations": "openaq: timeout"},
	}
	srv, query := newTestServer(t, "/api/v1/dashboard", http.StatusOK, dash)

	out, err := execute(t, "--server", srv.URL, "--lat", "40.7128", "--lon", "-74.006", "dashboard", "--date", "2025-01-15")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	for _, want := range []string{
		"New York City", "AQI 61", "Moderate", "AQI rose by 5", "PM2.5", "O3",
		"4.0°C", "3 granules", "stations: openaq: timeout",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	for _, want := range []string{"lat=40.7128", "lon=-74.006", "date=2025-01-15"} {
		if !strings.Contains(*query, want) {
			t.Errorf("query %q missing %q", *query, want)
		}
	}
}

func TestDashboardCommand_NoData(t *testing.T) {
	srv, _ := newTestServer(t, "/api/v1/dashboard", http.StatusOK, models.Dashboard{
		Color:    "#95a5a6",
		Advisory: "No AQI data available.",
	})

	out, err := execute(t, "--server", srv.URL, "dashboard")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "AQI --") {
		t.Errorf("output should show missing AQI:\n%s", out)
	}
}

func TestForecastCommand(t *testing.T) {
	ts := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	srv, query := newTestServer(t, "/api/v1/forecast", http.StatusOK, models.ForecastResult{
		HistoryPoints: 24,
		Model:         "ridge",
		Category:      "Good",
		Advisory:      "Air quality is satisfactory.",
		Predictions: []models.Prediction{
			{TS: ts, AQIPred: 42, Method: "ridge", Direction: "up"},
			{TS: ts.Add(time.Hour), AQIPred: 38, Method: "ridge", Direction: "down"},
		},
	})

	out, err := execute(t, "--server", srv.URL, "forecast", "--horizon", "2")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, want := range []string{"ridge, 24 history points", "Jan 15 10:00", "42", "↑", "Jan 15 11:00", "↓"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(*query, "horizon=2") {
		t.Errorf("query %q missing horizon", *query)
	}
}

func TestForecastCommand_NoHistory(t *testing.T) {
	srv, query := newTestServer(t, "/api/v1/forecast", http.StatusOK, models.ForecastResult{
		Error:       "No historical AQI data available for this location",
		Predictions: []models.Prediction{},
	})

	out, err := execute(t, "--server", srv.URL, "forecast")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "No historical AQI data") {
		t.Errorf("output missing no-history message:\n%s", out)
	}
	if strings.Contains(*query, "horizon") {
		t.Errorf("horizon should be left to the server, query = %q", *query)
	}
}

func TestAdviceCommand(t *testing.T) {
	srv, _ := newTestServer(t, "/api/v1/advice", http.StatusOK, models.Advice{
		ReportingArea: "Los Angeles",
		AQI:           intPtr(120),
		Category:      "Unhealthy for Sensitive Groups",
		Color:         "#e67e22",
		Advisory:      "Sensitive groups should reduce outdoor exertion.",
		Health: &models.HealthAdvice{
			Health:    "Limit time outside",
			Sport:     "Move workouts indoors",
			Nutrition: "Stay hydrated",
			Home:      "Keep windows closed",
		},
		Stale: true,
	})

	out, err := execute(t, "--server", srv.URL, "advice")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, want := range []string{"Los Angeles", "AQI 120", "Unhealthy for Sensitive Groups", "Move workouts indoors", "Keep windows closed", "stale cache"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestJSONFlag(t *testing.T) {
	srv, _ := newTestServer(t, "/api/v1/advice", http.StatusOK, models.Advice{AQI: intPtr(12), Color: "#2ecc71"})

	out, err := execute(t, "--server", srv.URL, "--json", "advice")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var got models.Advice
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got.AQI == nil || *got.AQI != 12 {
		t.Errorf("AQI = %v, want 12", got.AQI)
	}
}

func TestAPIError(t *testing.T) {
	body := map[string]any{"error": map[string]string{"code": "INVALID_PARAMETER", "message": "lat: must be between -90 and 90"}}
	srv, _ := newTestServer(t, "/api/v1/advice", http.StatusBadRequest, body)

	_, err := execute(t, "--server", srv.URL, "--lat", "91", "advice")
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "INVALID_PARAMETER") || !strings.Contains(err.Error(), "HTTP 400") {
		t.Errorf("error = %v", err)
	}
}

func TestAPIError_NonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := execute(t, "--server", srv.URL, "dashboard")
	if err == nil || !strings.Contains(err.Error(), "unexpected status 502") {
		t.Errorf("error = %v, want unexpected status 502", err)
	}
}

func TestServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := execute(t, "--server", url, "--timeout", "1s", "advice")
	if err == nil || !strings.Contains(err.Error(), "request /api/v1/advice") {
		t.Errorf("error = %v", err)
	}
}

func TestServerFlagDefaultFromEnv(t *testing.T) {
	t.Setenv("TEMPO_SERVER", "http://tempo.internal:9090")

	flag := newRootCmd().PersistentFlags().Lookup("server")
	if flag == nil || flag.DefValue != "http://tempo.internal:9090" {
		t.Errorf("server default = %v", flag)
	}
}

func TestArrow(t *testing.T) {
	tests := map[string]string{"up": "↑", "down": "↓", "flat": "→", "": "→"}
	for in, want := range tests {
		if got := arrow(in); got != want {
			t.Errorf("arrow(%q) = %q, want %q", in, got, want)
		}
	}
}
