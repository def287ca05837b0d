package migration

import (
	"context"
	"time"

	"notechart/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// step is one schema change, applied at most once
type step struct {
	version    string
	statements []string
}

// The DDL sticks to types and syntax Postgres and SQLite share. Timestamps
// are fixed-width UTC text so they sort the same on both.
var steps = []step{
	{
		version: "001_notebooks",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS notebooks (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				scene TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS notebook_fields (
				notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
				position INTEGER NOT NULL,
				name TEXT NOT NULL,
				data_type TEXT NOT NULL,
				role TEXT NOT NULL DEFAULT '',
				example TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (notebook_id, name)
			)`,
		},
	},
	{
		version: "002_notes",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS notes (
				id TEXT PRIMARY KEY,
				notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
				title TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				source TEXT NOT NULL DEFAULT '',
				author TEXT NOT NULL DEFAULT '',
				values_json TEXT NOT NULL DEFAULT '{}'
			)`,
			`CREATE INDEX IF NOT EXISTS idx_notes_notebook_created ON notes(notebook_id, created_at)`,
		},
	},
	{
		version: "003_analysis_results",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS analysis_results (
				fingerprint TEXT PRIMARY KEY,
				payload TEXT NOT NULL,
				expires_at TEXT,
				created_at TEXT NOT NULL
			)`,
		},
	},
}

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{version: steps[len(steps)-1].version}
}

// Version returns the newest schema version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run applies every pending step in order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return errors.DatabaseError("failed to create schema_migrations table", err)
	}

	applied, err := r.Applied(ctx, db)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, s := range steps {
		if done[s.version] {
			continue
		}
		if err := r.apply(ctx, db, s); err != nil {
			return errors.Wrapf(err, "failed to apply migration %s", s.version)
		}
	}
	return nil
}

func (r *MigrationRunner) apply(ctx context.Context, db *sqlx.DB, s step) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("begin migration", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range s.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.DatabaseError("migration statement failed", err)
		}
	}
	insert := tx.Rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`)
	if _, err := tx.ExecContext(ctx, insert, s.version, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return errors.DatabaseError("record migration", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("commit migration", err)
	}
	return nil
}

// Applied lists applied versions in order
func (r *MigrationRunner) Applied(ctx context.Context, db *sqlx.DB) ([]string, error) {
	var versions []string
	if err := db.SelectContext(ctx, &versions, `SELECT version FROM schema_migrations ORDER BY version`); err != nil {
		return nil, errors.DatabaseError("failed to read applied migrations", err)
	}
	return versions, nil
}
