package core

import (
	"time"
)

// TimeRange is a half-open [From, To) window. A zero bound is unbounded.
type TimeRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// IsZero reports whether neither bound is set
func (r TimeRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Contains reports whether t falls inside the range
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// Span returns the duration between the bounds, or zero when either is open
func (r TimeRange) Span() time.Duration {
	if r.From.IsZero() || r.To.IsZero() {
		return 0
	}
	return r.To.Sub(r.From)
}
