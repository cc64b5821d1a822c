package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"gassentry/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:gassentry.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	return s.init(ctx, []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TIMESTAMP NOT NULL,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			co INTEGER NOT NULL,
			methane INTEGER NOT NULL,
			temp REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings(ts)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts TIMESTAMP NOT NULL,
			kind TEXT NOT NULL,
			methane_forecast REAL NOT NULL,
			co_forecast REAL NOT NULL,
			temp_forecast REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	})
}

func (s *sqliteStore) SaveReading(ctx context.Context, r model.Reading) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (ts, lat, lon, co, methane, temp) VALUES (?, ?, ?, ?, ?, ?)`,
		readingTime(r), r.Latitude, r.Longitude, r.CO, r.Methane, r.Temperature,
	)
	return err
}

func (s *sqliteStore) SaveAlert(ctx context.Context, a model.AlertRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, ts, kind, methane_forecast, co_forecast, temp_forecast) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Time.UTC(), a.Kind, a.MethaneForecast, a.COForecast, a.TemperatureForecast,
	)
	return err
}

func (s *sqliteStore) RecentAlerts(ctx context.Context, limit int) ([]model.AlertRecord, error) {
	return s.recentAlerts(ctx,
		`SELECT id, ts, kind, methane_forecast, co_forecast, temp_forecast FROM alerts ORDER BY ts DESC LIMIT ?`,
		limit)
}
