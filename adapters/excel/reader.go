package excel

import (
	"context"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"notechart/domain/chart"
	"notechart/domain/core"
	"notechart/domain/note"
	"notechart/internal/errors"
	"notechart/internal/logger"
	"notechart/ports"
)

// Workbook reads notebooks from an xlsx export, one sheet per notebook.
// The sheet name is the notebook id and the first row holds field names.
type Workbook struct {
	cfg Config
	log *logger.Logger
}

// NewWorkbook creates a workbook note source
func NewWorkbook(cfg Config, log *logger.Logger) *Workbook {
	if cfg.CategoryMaxDistinct <= 0 {
		cfg.CategoryMaxDistinct = DefaultConfig("").CategoryMaxDistinct
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Workbook{cfg: cfg, log: log.Component("excel")}
}

var _ ports.NoteSource = (*Workbook)(nil)

func (w *Workbook) open() (*excelize.File, error) {
	if _, err := os.Stat(w.cfg.FilePath); err != nil {
		return nil, errors.Wrapf(err, "workbook %s", w.cfg.FilePath)
	}
	f, err := excelize.OpenFile(w.cfg.FilePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open workbook %s", w.cfg.FilePath)
	}
	return f, nil
}

// Sheets lists the notebooks in the workbook
func (w *Workbook) Sheets() ([]string, error) {
	f, err := w.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// Snapshot reads one sheet into a notebook snapshot, oldest note first
func (w *Workbook) Snapshot(ctx context.Context, q ports.SnapshotQuery) (*note.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := w.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := w.readSheet(f, q.NotebookID)
	if err != nil {
		return nil, err
	}
	types := w.InferColumnTypes(data)

	snap := &note.Snapshot{NotebookID: data.Name, Name: data.Name}
	for _, h := range data.Headers {
		if h == "" || isHeaderColumn(h) {
			continue
		}
		snap.Template = append(snap.Template, note.TemplateField{Name: h, DataType: string(types[h])})
	}

	wanted := make(map[string]bool, len(q.NoteIDs))
	for _, id := range q.NoteIDs {
		wanted[id] = true
	}
	for i, row := range data.Rows {
		n := w.toNote(data.Name, data.Lines[i], row, types)
		if len(wanted) > 0 && !wanted[n.ID] {
			continue
		}
		if !q.Range.IsZero() && (n.CreatedAt.IsZero() || !q.Range.Contains(n.CreatedAt)) {
			continue
		}
		snap.Notes = append(snap.Notes, n)
	}
	sortNotes(snap.Notes)

	w.log.Debug("sheet read", "sheet", data.Name, "fields", len(snap.Template), "notes", len(snap.Notes))
	return snap, nil
}

func (w *Workbook) readSheet(f *excelize.File, sheet string) (*SheetData, error) {
	idx, err := f.GetSheetIndex(sheet)
	if err != nil || idx < 0 {
		return nil, errors.Wrapf(core.ErrNotebookNotFound, "sheet %q", sheet)
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read sheet %s", sheet)
	}
	data := &SheetData{Name: sheet}
	if len(rows) == 0 {
		return data, nil
	}

	data.Headers = make([]string, len(rows[0]))
	for i, h := range rows[0] {
		data.Headers[i] = strings.ToLower(strings.TrimSpace(h))
	}
	for r, row := range rows[1:] {
		raw := make(RawRowData, len(row))
		empty := true
		for j, cell := range row {
			if j >= len(data.Headers) || data.Headers[j] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			raw[data.Headers[j]] = cell
			if cell != "" {
				empty = false
			}
		}
		if !empty {
			data.Rows = append(data.Rows, raw)
			data.Lines = append(data.Lines, r+2)
		}
	}
	return data, nil
}

// InferColumnTypes assigns a data type to every template column.
// Numbers win over dates, and text with few distinct labels is a category.
func (w *Workbook) InferColumnTypes(data *SheetData) map[string]chart.DataType {
	types := make(map[string]chart.DataType, len(data.Headers))
	for _, h := range data.Headers {
		if h == "" || isHeaderColumn(h) {
			continue
		}
		types[h] = w.inferType(data, h)
	}
	return types
}

func (w *Workbook) inferType(data *SheetData, column string) chart.DataType {
	distinct := make(map[string]bool)
	numeric, dated, filled := 0, 0, 0
	for _, row := range data.Rows {
		v := row[column]
		if v == "" {
			continue
		}
		filled++
		distinct[v] = true
		if _, ok := note.AsFloat(v); ok {
			numeric++
		}
		if _, ok := note.AsTime(v); ok {
			dated++
		}
	}
	switch {
	case filled == 0:
		return chart.TypeText
	case numeric == filled:
		return chart.TypeNumber
	case dated == filled:
		return chart.TypeDate
	case len(distinct) <= w.cfg.CategoryMaxDistinct:
		return chart.TypeCategory
	}
	return chart.TypeText
}

func (w *Workbook) toNote(sheet string, line int, row RawRowData, types map[string]chart.DataType) note.Note {
	n := note.Note{
		ID:         row[ColumnID],
		NotebookID: sheet,
		Title:      row[ColumnTitle],
		CreatedAt:  parseCellTime(row[note.FieldCreatedAt]),
		UpdatedAt:  parseCellTime(row[note.FieldUpdatedAt]),
		Source:     row[note.FieldSource],
		Author:     row[note.FieldAuthor],
		Values:     make(map[string]any),
	}
	if n.ID == "" {
		n.ID = sheet + "-" + strconv.Itoa(line)
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	for name, dt := range types {
		raw := row[name]
		if raw == "" {
			continue
		}
		switch dt {
		case chart.TypeNumber:
			if f, ok := note.AsFloat(raw); ok {
				n.Values[name] = f
			}
		case chart.TypeDate:
			if t, ok := note.AsTime(raw); ok {
				n.Values[name] = t.UTC()
			}
		default:
			n.Values[name] = raw
		}
	}
	return n
}

// parseCellTime accepts text timestamps and Excel date serials
func parseCellTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if t, ok := note.AsTime(raw); ok {
		return t.UTC()
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial > 0 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func sortNotes(notes []note.Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		a, b := notes[i], notes[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
