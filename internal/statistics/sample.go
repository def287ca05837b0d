package statistics

import (
	"sort"
	"time"

	"notechart/domain/chart"
	"notechart/domain/core"
	"notechart/domain/note"
)

// DefaultSampleLimit bounds how many notes one analysis looks at
const DefaultSampleLimit = 500

// Sample is the bounded, time-ordered note window one analysis runs on.
// It is never modified after construction.
type Sample struct {
	notes  []note.Note
	window core.TimeRange
}

// NewSample keeps the most recent limit notes inside window, ordered oldest first
func NewSample(notes []note.Note, window core.TimeRange, limit int) *Sample {
	if limit <= 0 {
		limit = DefaultSampleLimit
	}
	kept := make([]note.Note, 0, len(notes))
	for _, n := range notes {
		if !window.IsZero() && !n.CreatedAt.IsZero() && !window.Contains(n.CreatedAt) {
			continue
		}
		kept = append(kept, n)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if !kept[i].CreatedAt.Equal(kept[j].CreatedAt) {
			return kept[i].CreatedAt.After(kept[j].CreatedAt)
		}
		return kept[i].ID < kept[j].ID
	})
	if len(kept) > limit {
		kept = kept[:limit]
	}
	// reverse into chronological order
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return &Sample{notes: kept, window: window}
}

// Notes returns the sampled notes. Callers must not modify the slice.
func (s *Sample) Notes() []note.Note { return s.notes }

// Len returns the number of sampled notes
func (s *Sample) Len() int { return len(s.notes) }

// Window returns the requested time window
func (s *Sample) Window() core.TimeRange { return s.window }

// IDs returns the note ids in sample order
func (s *Sample) IDs() []string {
	ids := make([]string, 0, len(s.notes))
	for _, n := range s.notes {
		ids = append(ids, n.ID)
	}
	return ids
}

// Has reports whether a note id is part of the sample
func (s *Sample) Has(noteID string) bool {
	for _, n := range s.notes {
		if n.ID == noteID {
			return true
		}
	}
	return false
}

// WithDerived returns a new sample whose notes carry extra values keyed by
// note id then field name. The receiver is left untouched.
func (s *Sample) WithDerived(values map[string]map[string]any) *Sample {
	if len(values) == 0 {
		return s
	}
	notes := make([]note.Note, len(s.notes))
	for i, n := range s.notes {
		notes[i] = n.WithValues(values[n.ID])
	}
	return &Sample{notes: notes, window: s.window}
}

// Span returns the earliest and latest creation times in the sample
func (s *Sample) Span() (time.Time, time.Time) {
	var first, last time.Time
	for _, n := range s.notes {
		if n.CreatedAt.IsZero() {
			continue
		}
		if first.IsZero() || n.CreatedAt.Before(first) {
			first = n.CreatedAt
		}
		if last.IsZero() || n.CreatedAt.After(last) {
			last = n.CreatedAt
		}
	}
	return first, last
}

// DefaultGranularity picks a bucket width from the sample (or window) span
func (s *Sample) DefaultGranularity() chart.Granularity {
	span := s.window.Span()
	if span == 0 {
		first, last := s.Span()
		span = last.Sub(first)
	}
	switch {
	case span <= 31*24*time.Hour:
		return chart.GranularityDay
	case span <= 180*24*time.Hour:
		return chart.GranularityWeek
	default:
		return chart.GranularityMonth
	}
}
