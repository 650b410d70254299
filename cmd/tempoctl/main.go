// Command tempoctl queries a running air quality service and prints
// AQI-coloured summaries in the terminal.
package main

import (
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

// options holds the persistent flags shared by every sub-command.
type options struct {
	server  string
	lat     float64
	lon     float64
	timeout time.Duration
	json    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "tempoctl",
		Short: "Query the TEMPO air quality service",
		Long: `tempoctl calls the air quality service HTTP API and renders the result.

Available subcommands:
  dashboard - AQI, trend, pollutant breakdown, weather and data sources
  forecast  - short-term AQI forecast
  advice    - compact health guidance for the current AQI`,
		SilenceUsage: true,
	}

	server := os.Getenv("TEMPO_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", server, "service base URL (env TEMPO_SERVER)")
	flags.Float64Var(&opts.lat, "lat", 40.7128, "latitude")
	flags.Float64Var(&opts.lon, "lon", -74.0060, "longitude")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	flags.BoolVar(&opts.json, "json", false, "print the raw JSON response")

	root.AddCommand(newDashboardCmd(opts), newForecastCmd(opts), newAdviceCmd(opts))
	return root
}

func newDashboardCmd(opts *options) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show the air quality dashboard for a location",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := opts.location()
			if date != "" {
				params["date"] = date
			}
			var d models.Dashboard
			raw, err := newAPIClient(opts).get(cmd.Context(), "/api/v1/dashboard", params, &d)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), raw)
			}
			renderDashboard(cmd.OutOrStdout(), d)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "TEMPO day, YYYY-MM-DD (default today UTC)")
	return cmd
}

func newForecastCmd(opts *options) *cobra.Command {
	var horizon int
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Forecast the AQI for the next hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := opts.location()
			if horizon > 0 {
				params["horizon"] = strconv.Itoa(horizon)
			}
			var f models.ForecastResult
			raw, err := newAPIClient(opts).get(cmd.Context(), "/api/v1/forecast", params, &f)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), raw)
			}
			renderForecast(cmd.OutOrStdout(), f)
			return nil
		},
	}
	cmd.Flags().IntVar(&horizon, "horizon", 0, "forecast hours (default: server default)")
	return cmd
}

func newAdviceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "advice",
		Short: "Show health advice for the current AQI",
		RunE: func(cmd *cobra.Command, args []string) error {
			var a models.Advice
			raw, err := newAPIClient(opts).get(cmd.Context(), "/api/v1/advice", opts.location(), &a)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), raw)
			}
			renderAdvice(cmd.OutOrStdout(), a)
			return nil
		},
	}
}

func (o *options) location() map[string]string {
	return map[string]string{
		"lat": strconv.FormatFloat(o.lat, 'f', -1, 64),
		"lon": strconv.FormatFloat(o.lon, 'f', -1, 64),
	}
}
