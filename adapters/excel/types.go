package excel

import "notechart/domain/note"

// RawRowData is one sheet row keyed by header
type RawRowData map[string]string

// SheetData is a parsed notebook sheet
type SheetData struct {
	Name    string
	Headers []string
	Rows    []RawRowData
	Lines   []int // 1-based sheet row of each entry in Rows
}

// Columns every sheet may carry in addition to its template fields
const (
	ColumnID    = "id"
	ColumnTitle = "title"
)

var headerColumns = []string{
	ColumnID,
	ColumnTitle,
	note.FieldCreatedAt,
	note.FieldUpdatedAt,
	note.FieldSource,
	note.FieldAuthor,
}

func isHeaderColumn(name string) bool {
	for _, c := range headerColumns {
		if c == name {
			return true
		}
	}
	return false
}
