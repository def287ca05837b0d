// Package sqlstore is the sqlx-backed note store and durable result cache.
// It runs on Postgres (lib/pq) or embedded SQLite (modernc).
package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"notechart/internal/migration"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// tsLayout is fixed-width UTC so text order equals time order
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Open connects, and for SQLite pins in-memory databases to one connection
// so every query sees the same database
func Open(ctx context.Context, driver, url string) (*sqlx.DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sqlx.ConnectContext(ctx, driver, url)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		if strings.Contains(url, ":memory:") || strings.Contains(url, "mode=memory") {
			db.SetMaxOpenConns(1)
		}
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	return db, nil
}

// OpenAndMigrate opens the database and applies pending migrations
func OpenAndMigrate(ctx context.Context, driver, url string) (*sqlx.DB, error) {
	db, err := Open(ctx, driver, url)
	if err != nil {
		return nil, err
	}
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(tsLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
