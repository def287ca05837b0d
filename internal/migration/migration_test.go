package migration

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func memoryDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRunAppliesAllSteps(t *testing.T) {
	ctx := context.Background()
	db := memoryDB(t)
	r := NewRunner()

	require.NoError(t, r.Run(ctx, db))

	applied, err := r.Applied(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_notebooks", "002_notes", "003_analysis_results"}, applied)
	assert.Equal(t, "003_analysis_results", r.Version())

	for _, table := range []string{"notebooks", "notebook_fields", "notes", "analysis_results"} {
		var n int
		require.NoError(t, db.GetContext(ctx, &n, `SELECT COUNT(*) FROM `+table))
		assert.Zero(t, n, table)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := memoryDB(t)
	r := NewRunner()

	require.NoError(t, r.Run(ctx, db))
	require.NoError(t, r.Run(ctx, db))

	applied, err := r.Applied(ctx, db)
	require.NoError(t, err)
	assert.Len(t, applied, len(steps))
}

func TestAppliedBeforeRunFails(t *testing.T) {
	_, err := NewRunner().Applied(context.Background(), memoryDB(t))
	assert.Error(t, err)
}
