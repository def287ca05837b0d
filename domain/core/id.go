package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	AnalysisID ID
	NotebookID ID
	NoteID     ID
)

func (id AnalysisID) String() string { return ID(id).String() }
func (id NotebookID) String() string { return ID(id).String() }
func (id NoteID) String() string     { return ID(id).String() }

// ParseNotebookID parses a string into NotebookID
func ParseNotebookID(s string) (NotebookID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: notebook ID cannot be empty", ErrInvalidRequest)
	}
	return NotebookID(strings.TrimSpace(s)), nil
}

// ParseNoteID parses a string into NoteID
func ParseNoteID(s string) (NoteID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: note ID cannot be empty", ErrInvalidRequest)
	}
	return NoteID(strings.TrimSpace(s)), nil
}

// NewAnalysisID returns a fresh time-ordered analysis identifier.
func NewAnalysisID() AnalysisID {
	return AnalysisID(NewID())
}
