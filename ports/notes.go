package ports

import (
	"context"

	"notechart/domain/core"
	"notechart/domain/note"
)

// SnapshotQuery selects the notes an analysis reads
type SnapshotQuery struct {
	NotebookID string
	NoteIDs    []string       // empty means every note in Range
	Range      core.TimeRange // zero means unbounded
}

// NoteSource provides read-only access to notebooks.
// Analyses never write notes back.
type NoteSource interface {
	Snapshot(ctx context.Context, q SnapshotQuery) (*note.Snapshot, error)
}
