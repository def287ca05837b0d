package sqlstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/jmoiron/sqlx"

	"notechart/domain/core"
	"notechart/internal/errors"
	"notechart/ports"
)

// ResultStore persists analysis results in the analysis_results table
type ResultStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewResultStore creates a durable result cache on db
func NewResultStore(db *sqlx.DB) *ResultStore {
	return &ResultStore{db: db, now: time.Now}
}

var _ ports.ResultCache = (*ResultStore)(nil)

type resultRow struct {
	Payload   string         `db:"payload"`
	ExpiresAt sql.NullString `db:"expires_at"`
}

// Get returns the stored payload unless it has expired
func (s *ResultStore) Get(ctx context.Context, fp core.Fingerprint) ([]byte, bool, error) {
	var row resultRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT payload, expires_at FROM analysis_results WHERE fingerprint = ?`), fp.String())
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.DatabaseError("failed to read analysis result", err)
	}
	if row.ExpiresAt.Valid && row.ExpiresAt.String != "" {
		expires, err := parseTime(row.ExpiresAt.String)
		if err != nil || !s.now().Before(expires) {
			return nil, false, nil
		}
	}
	return []byte(row.Payload), true, nil
}

// Put upserts the payload; the last writer wins
func (s *ResultStore) Put(ctx context.Context, fp core.Fingerprint, data []byte, ttl time.Duration) error {
	now := s.now()
	var expires sql.NullString
	if ttl > 0 {
		expires = sql.NullString{String: formatTime(now.Add(ttl)), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO analysis_results (fingerprint, payload, expires_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO UPDATE SET payload = excluded.payload,
			expires_at = excluded.expires_at, created_at = excluded.created_at`),
		fp.String(), string(data), expires, formatTime(now))
	if err != nil {
		return errors.DatabaseError("failed to store analysis result", err)
	}
	return nil
}

// Purge deletes expired results and returns how many were removed
func (s *ResultStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM analysis_results WHERE expires_at IS NOT NULL AND expires_at <= ?`),
		formatTime(s.now()))
	if err != nil {
		return 0, errors.DatabaseError("failed to purge analysis results", err)
	}
	return res.RowsAffected()
}
