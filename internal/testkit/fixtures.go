package testkit

import (
	"fmt"
	"time"

	"notechart/domain/note"
)

// Base is a Monday morning all fixtures count from
var Base = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

// Notes builds n notes created step apart from Base, with values from fn
func Notes(n int, step time.Duration, fn func(i int) map[string]any) []note.Note {
	out := make([]note.Note, 0, n)
	for i := 0; i < n; i++ {
		created := Base.Add(time.Duration(i) * step)
		var values map[string]any
		if fn != nil {
			values = fn(i)
		}
		out = append(out, note.Note{
			ID:         fmt.Sprintf("n%03d", i+1),
			NotebookID: "nb-test",
			CreatedAt:  created,
			UpdatedAt:  created,
			Source:     "manual",
			Values:     values,
		})
	}
	return out
}

// Snapshot wraps notes into a snapshot of the test notebook
func Snapshot(template []note.TemplateField, notes []note.Note) *note.Snapshot {
	return &note.Snapshot{
		NotebookID: "nb-test",
		Name:       "Test notebook",
		Template:   template,
		Notes:      notes,
	}
}

// Cycle picks values round-robin
func Cycle(values ...string) func(i int) string {
	return func(i int) string { return values[i%len(values)] }
}
