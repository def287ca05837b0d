package excel

import (
	"time"

	"github.com/xuri/excelize/v2"

	"notechart/domain/note"
	"notechart/internal/errors"
)

// Export writes snapshots to an xlsx file in the layout Workbook reads.
// Timestamps are written as RFC 3339 text.
func Export(path string, snaps ...*note.Snapshot) error {
	if len(snaps) == 0 {
		return errors.InvalidInput("no notebooks to export")
	}
	f := excelize.NewFile()
	defer f.Close()

	for i, snap := range snaps {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), snap.NotebookID); err != nil {
				return errors.Wrapf(err, "failed to name sheet %s", snap.NotebookID)
			}
		} else if _, err := f.NewSheet(snap.NotebookID); err != nil {
			return errors.Wrapf(err, "failed to add sheet %s", snap.NotebookID)
		}
		if err := writeSheet(f, snap); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return errors.Wrapf(err, "failed to save workbook %s", path)
	}
	return nil
}

func writeSheet(f *excelize.File, snap *note.Snapshot) error {
	header := make([]any, 0, len(headerColumns)+len(snap.Template))
	for _, c := range headerColumns {
		header = append(header, c)
	}
	for _, tf := range snap.Template {
		header = append(header, tf.Name)
	}
	if err := setRow(f, snap.NotebookID, 1, header); err != nil {
		return err
	}

	for i, n := range snap.Notes {
		row := []any{n.ID, n.Title, stamp(n.CreatedAt), stamp(n.UpdatedAt), n.Source, n.Author}
		for _, tf := range snap.Template {
			row = append(row, cellValue(n.Values[tf.Name]))
		}
		if err := setRow(f, snap.NotebookID, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, line int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, line)
	if err != nil {
		return errors.Wrapf(err, "row %d", line)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return errors.Wrapf(err, "failed to write row %d of %s", line, sheet)
	}
	return nil
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return stamp(t)
	case bool:
		return note.AsString(t)
	case float64, float32, int, int64, string:
		return t
	}
	return note.AsString(v)
}
