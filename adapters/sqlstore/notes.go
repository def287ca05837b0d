package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"notechart/domain/core"
	"notechart/domain/note"
	"notechart/internal/errors"
	"notechart/ports"
)

type notebookRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	Scene     string `db:"scene"`
	CreatedAt string `db:"created_at"`
}

type noteRow struct {
	ID         string `db:"id"`
	NotebookID string `db:"notebook_id"`
	Title      string `db:"title"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
	Source     string `db:"source"`
	Author     string `db:"author"`
	ValuesJSON string `db:"values_json"`
}

func (r noteRow) toNote() (note.Note, error) {
	n := note.Note{
		ID:         r.ID,
		NotebookID: r.NotebookID,
		Title:      r.Title,
		Source:     r.Source,
		Author:     r.Author,
	}
	var err error
	if n.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return n, fmt.Errorf("note %s created_at: %w", r.ID, err)
	}
	if n.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return n, fmt.Errorf("note %s updated_at: %w", r.ID, err)
	}
	if r.ValuesJSON != "" {
		if err := json.Unmarshal([]byte(r.ValuesJSON), &n.Values); err != nil {
			return n, fmt.Errorf("note %s values: %w", r.ID, err)
		}
	}
	return n, nil
}

// NoteStore reads notebook snapshots
type NoteStore struct {
	db *sqlx.DB
}

// NewNoteStore creates a note store on db
func NewNoteStore(db *sqlx.DB) *NoteStore {
	return &NoteStore{db: db}
}

var _ ports.NoteSource = (*NoteStore)(nil)

// Snapshot loads the notebook template and the notes selected by q, oldest first
func (s *NoteStore) Snapshot(ctx context.Context, q ports.SnapshotQuery) (*note.Snapshot, error) {
	var nb notebookRow
	err := s.db.GetContext(ctx, &nb, s.db.Rebind(`SELECT id, name, scene, created_at FROM notebooks WHERE id = ?`), q.NotebookID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(core.ErrNotebookNotFound, "notebook %s", q.NotebookID)
	}
	if err != nil {
		return nil, errors.DatabaseError("failed to load notebook", err)
	}

	snap := &note.Snapshot{NotebookID: nb.ID, Name: nb.Name, Scene: nb.Scene}
	err = s.db.SelectContext(ctx, &snap.Template, s.db.Rebind(
		`SELECT name, data_type, role, example FROM notebook_fields WHERE notebook_id = ? ORDER BY position`), nb.ID)
	if err != nil {
		return nil, errors.DatabaseError("failed to load notebook fields", err)
	}

	query := `SELECT id, notebook_id, title, created_at, updated_at, source, author, values_json
		FROM notes WHERE notebook_id = ?`
	args := []any{nb.ID}
	if !q.Range.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(q.Range.From))
	}
	if !q.Range.To.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, formatTime(q.Range.To))
	}
	if len(q.NoteIDs) > 0 {
		query += ` AND id IN (?)`
		args = append(args, q.NoteIDs)
		if query, args, err = sqlx.In(query, args...); err != nil {
			return nil, errors.DatabaseError("failed to expand note ids", err)
		}
	}
	query += ` ORDER BY created_at, id`

	var rows []noteRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, errors.DatabaseError("failed to load notes", err)
	}
	snap.Notes = make([]note.Note, 0, len(rows))
	for _, r := range rows {
		n, err := r.toNote()
		if err != nil {
			return nil, errors.DatabaseError("corrupt note row", err)
		}
		snap.Notes = append(snap.Notes, n)
	}
	return snap, nil
}

// Import writes a snapshot, replacing the notebook's template and any notes
// with the same ids
func (s *NoteStore) Import(ctx context.Context, snap *note.Snapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("begin import", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := formatTime(timeOrNow(snap))
	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO notebooks (id, name, scene, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, scene = excluded.scene`),
		snap.NotebookID, snap.Name, snap.Scene, created); err != nil {
		return errors.DatabaseError("failed to upsert notebook", err)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM notebook_fields WHERE notebook_id = ?`), snap.NotebookID); err != nil {
		return errors.DatabaseError("failed to clear notebook fields", err)
	}
	for i, f := range snap.Template {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO notebook_fields (notebook_id, position, name, data_type, role, example)
			VALUES (?, ?, ?, ?, ?, ?)`), snap.NotebookID, i, f.Name, f.DataType, f.Role, f.Example); err != nil {
			return errors.DatabaseError("failed to insert notebook field", err)
		}
	}

	upsert := tx.Rebind(`INSERT INTO notes (id, notebook_id, title, created_at, updated_at, source, author, values_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title, created_at = excluded.created_at,
			updated_at = excluded.updated_at, source = excluded.source, author = excluded.author,
			values_json = excluded.values_json`)
	for _, n := range snap.Notes {
		values, err := json.Marshal(n.Values)
		if err != nil {
			return errors.Wrapf(err, "failed to encode note %s", n.ID)
		}
		if n.Values == nil {
			values = []byte("{}")
		}
		if _, err := tx.ExecContext(ctx, upsert, n.ID, snap.NotebookID, n.Title,
			formatTime(n.CreatedAt), formatTime(n.UpdatedAt), n.Source, n.Author, string(values)); err != nil {
			return errors.DatabaseError("failed to upsert note", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("commit import", err)
	}
	return nil
}

func timeOrNow(snap *note.Snapshot) time.Time {
	if len(snap.Notes) > 0 && !snap.Notes[0].CreatedAt.IsZero() {
		return snap.Notes[0].CreatedAt
	}
	return time.Now()
}
