package policy

import (
	"sync/atomic"
)

// Store holds the current policy. Readers take a snapshot with Current and keep
// using it for the whole request; Swap replaces the document wholesale.
type Store struct {
	current atomic.Pointer[Policy]
}

// NewStore creates a store seeded with p, or the default policy when p is nil
func NewStore(p *Policy) *Store {
	if p == nil {
		p = Default()
	}
	s := &Store{}
	s.current.Store(p)
	return s
}

// Current returns the active policy
func (s *Store) Current() *Policy {
	return s.current.Load()
}

// Swap installs p and returns the previous policy
func (s *Store) Swap(p *Policy) *Policy {
	if p == nil {
		return s.current.Load()
	}
	return s.current.Swap(p)
}

// ReloadFile parses path and swaps it in. On error the current policy stays active.
func (s *Store) ReloadFile(path string) (*Policy, error) {
	p, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	s.Swap(p)
	return p, nil
}
