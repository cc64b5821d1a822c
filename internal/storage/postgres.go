package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gassentry/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/gassentry?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	return s.init(ctx, []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lon DOUBLE PRECISION NOT NULL,
			co INTEGER NOT NULL,
			methane INTEGER NOT NULL,
			temp DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings(ts)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id UUID PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			kind TEXT NOT NULL,
			methane_forecast DOUBLE PRECISION NOT NULL,
			co_forecast DOUBLE PRECISION NOT NULL,
			temp_forecast DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	})
}

func (s *postgresStore) SaveReading(ctx context.Context, r model.Reading) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (ts, lat, lon, co, methane, temp) VALUES ($1, $2, $3, $4, $5, $6)`,
		readingTime(r), r.Latitude, r.Longitude, r.CO, r.Methane, r.Temperature,
	)
	return err
}

func (s *postgresStore) SaveAlert(ctx context.Context, a model.AlertRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, ts, kind, methane_forecast, co_forecast, temp_forecast) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.Time.UTC(), a.Kind, a.MethaneForecast, a.COForecast, a.TemperatureForecast,
	)
	return err
}

func (s *postgresStore) RecentAlerts(ctx context.Context, limit int) ([]model.AlertRecord, error) {
	return s.recentAlerts(ctx,
		`SELECT id, ts, kind, methane_forecast, co_forecast, temp_forecast FROM alerts ORDER BY ts DESC LIMIT $1`,
		limit)
}
