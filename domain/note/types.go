package note

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// System field names every note carries regardless of its notebook template
const (
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldSource    = "source"
	FieldAuthor    = "author"
)

// TemplateField is a field declared by a notebook template
type TemplateField struct {
	Name     string `json:"name" db:"name"`
	DataType string `json:"data_type" db:"data_type"`
	Role     string `json:"role,omitempty" db:"role"`
	Example  string `json:"example,omitempty" db:"example"`
}

// Note is a read-only record from the notebook store
type Note struct {
	ID         string         `json:"id"`
	NotebookID string         `json:"notebook_id"`
	Title      string         `json:"title,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Source     string         `json:"source,omitempty"`
	Author     string         `json:"author,omitempty"`
	Values     map[string]any `json:"values,omitempty"`
}

// Value looks up a field value, resolving system fields from the note header
func (n Note) Value(field string) (any, bool) {
	switch field {
	case FieldCreatedAt:
		return n.CreatedAt, !n.CreatedAt.IsZero()
	case FieldUpdatedAt:
		return n.UpdatedAt, !n.UpdatedAt.IsZero()
	case FieldSource:
		return n.Source, strings.TrimSpace(n.Source) != ""
	case FieldAuthor:
		return n.Author, strings.TrimSpace(n.Author) != ""
	}
	v, ok := n.Values[field]
	if !ok || IsMissing(v) {
		return nil, false
	}
	return v, true
}

// WithValues returns a copy of n with extra values layered on top. n is unchanged.
func (n Note) WithValues(extra map[string]any) Note {
	if len(extra) == 0 {
		return n
	}
	merged := make(map[string]any, len(n.Values)+len(extra))
	for k, v := range n.Values {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	n.Values = merged
	return n
}

// Snapshot is the read-only view of one notebook handed to an analysis
type Snapshot struct {
	NotebookID string          `json:"notebook_id"`
	Name       string          `json:"name"`
	Scene      string          `json:"scene,omitempty"`
	Template   []TemplateField `json:"template"`
	Notes      []Note          `json:"notes"`
}

// NoteIDs returns the ids of all notes in the snapshot
func (s *Snapshot) NoteIDs() []string {
	ids := make([]string, 0, len(s.Notes))
	for _, n := range s.Notes {
		ids = append(ids, n.ID)
	}
	return ids
}

// IsMissing reports whether v counts as an absent value
func IsMissing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case time.Time:
		return t.IsZero()
	}
	return false
}

// AsString renders a scalar value as a category label
func AsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format("2006-01-02")
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// AsFloat converts a scalar value to a number
func AsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", ""))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
}

// AsTime converts a scalar value to a timestamp
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
	case float64:
		// epoch seconds
		if t > 0 {
			return time.Unix(int64(t), 0).UTC(), true
		}
	case int64:
		if t > 0 {
			return time.Unix(t, 0).UTC(), true
		}
	}
	return time.Time{}, false
}
