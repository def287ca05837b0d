package sqlstore

import (
	"context"
	"testing"
	"time"

	"notechart/domain/core"
	"notechart/domain/note"
	apperrors "notechart/internal/errors"
	"notechart/ports"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := OpenAndMigrate(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func day(d int) time.Time {
	return time.Date(2026, 3, d, 9, 30, 0, 0, time.UTC)
}

func workLog() *note.Snapshot {
	return &note.Snapshot{
		NotebookID: "nb-work",
		Name:       "Work log",
		Scene:      "work",
		Template: []note.TemplateField{
			{Name: "project", DataType: "category", Role: "dimension", Example: "apollo"},
			{Name: "hours", DataType: "number", Role: "metric"},
		},
		Notes: []note.Note{
			{ID: "n3", Title: "review", CreatedAt: day(3), UpdatedAt: day(3), Source: "app", Values: map[string]any{"project": "apollo", "hours": 2.5}},
			{ID: "n1", Title: "kickoff", CreatedAt: day(1), UpdatedAt: day(2), Source: "app", Author: "kim", Values: map[string]any{"project": "apollo", "hours": 1.0}},
			{ID: "n2", Title: "design", CreatedAt: day(2), UpdatedAt: day(2), Source: "import", Values: map[string]any{"project": "zeus", "hours": "3"}},
		},
	}
}

func TestImportAndSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewNoteStore(openTestDB(t))
	require.NoError(t, store.Import(ctx, workLog()))

	snap, err := store.Snapshot(ctx, ports.SnapshotQuery{NotebookID: "nb-work"})
	require.NoError(t, err)

	assert.Equal(t, "Work log", snap.Name)
	assert.Equal(t, "work", snap.Scene)
	require.Len(t, snap.Template, 2)
	assert.Equal(t, "project", snap.Template[0].Name)
	assert.Equal(t, "apollo", snap.Template[0].Example)
	assert.Equal(t, []string{"n1", "n2", "n3"}, snap.NoteIDs())

	first := snap.Notes[0]
	assert.Equal(t, "nb-work", first.NotebookID)
	assert.Equal(t, "kim", first.Author)
	assert.True(t, first.CreatedAt.Equal(day(1)))
	assert.True(t, first.UpdatedAt.Equal(day(2)))
	assert.Equal(t, 1.0, first.Values["hours"])
	assert.Equal(t, "3", snap.Notes[1].Values["hours"])
}

func TestSnapshotFilters(t *testing.T) {
	ctx := context.Background()
	store := NewNoteStore(openTestDB(t))
	require.NoError(t, store.Import(ctx, workLog()))

	byIDs, err := store.Snapshot(ctx, ports.SnapshotQuery{NotebookID: "nb-work", NoteIDs: []string{"n3", "n1", "other"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n3"}, byIDs.NoteIDs())

	byRange, err := store.Snapshot(ctx, ports.SnapshotQuery{
		NotebookID: "nb-work",
		Range:      core.TimeRange{From: day(2), To: day(3)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"n2"}, byRange.NoteIDs())

	openEnded, err := store.Snapshot(ctx, ports.SnapshotQuery{NotebookID: "nb-work", Range: core.TimeRange{From: day(2)}})
	require.NoError(t, err)
	assert.Equal(t, []string{"n2", "n3"}, openEnded.NoteIDs())
}

func TestSnapshotUnknownNotebook(t *testing.T) {
	store := NewNoteStore(openTestDB(t))

	_, err := store.Snapshot(context.Background(), ports.SnapshotQuery{NotebookID: "missing"})

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotebookNotFound)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetCode(err))
}

func TestEmptyNotebookHasNoNotes(t *testing.T) {
	ctx := context.Background()
	store := NewNoteStore(openTestDB(t))
	snap := workLog()
	snap.Notes = nil
	require.NoError(t, store.Import(ctx, snap))

	got, err := store.Snapshot(ctx, ports.SnapshotQuery{NotebookID: "nb-work"})
	require.NoError(t, err)
	assert.Empty(t, got.Notes)
	assert.Len(t, got.Template, 2)
}

func TestReimportReplacesTemplateAndNotes(t *testing.T) {
	ctx := context.Background()
	store := NewNoteStore(openTestDB(t))
	require.NoError(t, store.Import(ctx, workLog()))

	again := workLog()
	again.Template = again.Template[:1]
	again.Notes = again.Notes[:1]
	again.Notes[0].Values = map[string]any{"project": "hermes"}
	require.NoError(t, store.Import(ctx, again))

	snap, err := store.Snapshot(ctx, ports.SnapshotQuery{NotebookID: "nb-work"})
	require.NoError(t, err)
	assert.Len(t, snap.Template, 1)
	require.Len(t, snap.Notes, 3)
	assert.Equal(t, "hermes", snap.Notes[2].Values["project"])
}

func TestResultStore(t *testing.T) {
	ctx := context.Background()
	rs := NewResultStore(openTestDB(t))
	now := day(1)
	rs.now = func() time.Time { return now }

	_, ok, err := rs.Get(ctx, "fp")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, rs.Put(ctx, "fp", []byte(`{"v":1}`), time.Hour))
	require.NoError(t, rs.Put(ctx, "fp", []byte(`{"v":2}`), time.Hour))
	require.NoError(t, rs.Put(ctx, "forever", []byte(`{}`), 0))

	got, ok, err := rs.Get(ctx, "fp")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"v":2}`, string(got))

	now = now.Add(2 * time.Hour)
	_, ok, err = rs.Get(ctx, "fp")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, _ = rs.Get(ctx, "forever")
	assert.True(t, ok)

	n, err := rs.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	assert.Error(t, err)
}

func TestTimeRoundTrip(t *testing.T) {
	in := time.Date(2026, 1, 2, 3, 4, 5, 6, time.FixedZone("x", 3600))
	out, err := parseTime(formatTime(in))
	require.NoError(t, err)
	assert.True(t, in.Equal(out))

	legacy, err := parseTime("2026-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, legacy.Year())
}
