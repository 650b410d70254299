// Package history persists hourly AQI observations and forecast runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS observations (
	location TEXT NOT NULL,
	lat REAL NOT NULL,
	lon REAL NOT NULL,
	ts INTEGER NOT NULL,
	aqi INTEGER NOT NULL,
	param TEXT NOT NULL,
	PRIMARY KEY (location, ts)
);

CREATE TABLE IF NOT EXISTS forecast_runs (
	id TEXT PRIMARY KEY,
	location TEXT NOT NULL,
	lat REAL NOT NULL,
	lon REAL NOT NULL,
	created_at INTEGER NOT NULL,
	model TEXT NOT NULL,
	horizon INTEGER NOT NULL,
	last_pred REAL
);

CREATE INDEX IF NOT EXISTS idx_forecast_runs_location ON forecast_runs(location, created_at);
`

// ForecastRun is one recorded forecast.
type ForecastRun struct {
	ID        string          `json:"id"`
	Location  models.Location `json:"location"`
	CreatedAt time.Time       `json:"createdAt"`
	Model     string          `json:"model"`
	Horizon   int             `json:"horizon"`
	LastPred  *float64        `json:"lastPred,omitempty"`
}

// Store is a SQLite-backed history store. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history database path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveObservations upserts hourly points for loc. A newer reading for the same hour replaces the old one.
func (s *Store) SaveObservations(ctx context.Context, loc models.Location, points []models.HistoryPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (location, lat, lon, ts, aqi, param)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(location, ts) DO UPDATE SET aqi = excluded.aqi, param = excluded.param`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	key := loc.Key()
	for _, p := range points {
		ts := p.TS.UTC().Truncate(time.Hour).Unix()
		if _, err := stmt.ExecContext(ctx, key, loc.Lat, loc.Lon, ts, p.AQI, p.Param); err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
	}
	return tx.Commit()
}

// Observations returns stored points for loc with from <= ts <= to, ascending.
func (s *Store) Observations(ctx context.Context, loc models.Location, from, to time.Time) ([]models.HistoryPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, aqi, param FROM observations
		WHERE location = ? AND ts >= ? AND ts <= ?
		ORDER BY ts`,
		loc.Key(), from.UTC().Unix(), to.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []models.HistoryPoint
	for rows.Next() {
		var (
			ts int64
			p  models.HistoryPoint
		)
		if err := rows.Scan(&ts, &p.AQI, &p.Param); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		p.TS = time.Unix(ts, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordForecast stores a forecast run. Runs without an id are rejected.
func (s *Store) RecordForecast(ctx context.Context, run ForecastRun) error {
	if run.ID == "" {
		return errors.New("forecast run id required")
	}
	var lastPred sql.NullFloat64
	if run.LastPred != nil {
		lastPred = sql.NullFloat64{Float64: *run.LastPred, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forecast_runs (id, location, lat, lon, created_at, model, horizon, last_pred)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Location.Key(), run.Location.Lat, run.Location.Lon,
		run.CreatedAt.UTC().UnixMilli(), run.Model, run.Horizon, lastPred)
	if err != nil {
		return fmt.Errorf("insert forecast run: %w", err)
	}
	return nil
}

// RecentForecasts returns up to n runs for loc, newest first.
func (s *Store) RecentForecasts(ctx context.Context, loc models.Location, n int) ([]ForecastRun, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lat, lon, created_at, model, horizon, last_pred FROM forecast_runs
		WHERE location = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		loc.Key(), n)
	if err != nil {
		return nil, fmt.Errorf("query forecast runs: %w", err)
	}
	defer rows.Close()

	var out []ForecastRun
	for rows.Next() {
		var (
			r        ForecastRun
			created  int64
			lastPred sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.Location.Lat, &r.Location.Lon, &created, &r.Model, &r.Horizon, &lastPred); err != nil {
			return nil, fmt.Errorf("scan forecast run: %w", err)
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		if lastPred.Valid {
			v := lastPred.Float64
			r.LastPred = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
