package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Fingerprint identifies one analysis result in the cache.
type Fingerprint Hash

func (f Fingerprint) String() string { return string(f) }

// FingerprintInput is the content an analysis result is keyed by.
type FingerprintInput struct {
	NotebookID    string     `json:"notebook_id"`
	NoteIDs       []string   `json:"note_ids,omitempty"`
	Range         *TimeRange `json:"range,omitempty"`
	PolicyVersion string     `json:"policy_version"`
	Mode          string     `json:"mode"`
	SelectedType  string     `json:"selected_type,omitempty"`
	MissingFields []string   `json:"missing_fields,omitempty"`
}

// ComputeFingerprint hashes the RFC 8785 canonical form of the input so that
// key order and note-id order never change the result.
func ComputeFingerprint(in FingerprintInput) (Fingerprint, error) {
	ids := append([]string(nil), in.NoteIDs...)
	sort.Strings(ids)
	in.NoteIDs = ids

	missing := append([]string(nil), in.MissingFields...)
	sort.Strings(missing)
	in.MissingFields = missing

	raw, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint input: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize fingerprint input: %w", err)
	}
	return Fingerprint(NewHash(canonical)), nil
}
