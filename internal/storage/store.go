// Package storage mirrors readings and alerts into a SQL database. The CSV
// log stays the system of record; the mirror is optional.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"gassentry/internal/config"
	"gassentry/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveReading(ctx context.Context, r model.Reading) error
	SaveAlert(ctx context.Context, a model.AlertRecord) error
	RecentAlerts(ctx context.Context, limit int) ([]model.AlertRecord, error)
}

// NewStore returns nil, nil when storage is disabled.
func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) init(ctx context.Context, stmts []string) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) recentAlerts(ctx context.Context, query string, limit int) ([]model.AlertRecord, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AlertRecord
	for rows.Next() {
		var a model.AlertRecord
		if err := rows.Scan(&a.ID, &a.Time, &a.Kind, &a.MethaneForecast, &a.COForecast, &a.TemperatureForecast); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func readingTime(r model.Reading) time.Time {
	if r.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return r.Timestamp.UTC()
}
