// Package cache holds the analysis-result cache backends
package cache

import (
	"context"
	"sync"
	"time"

	"notechart/domain/core"
)

type entry struct {
	data    []byte
	expires time.Time
}

// Memory is a process-local TTL cache
type Memory struct {
	mu      sync.Mutex
	entries map[core.Fingerprint]entry
	now     func() time.Time
}

// NewMemory creates an empty cache
func NewMemory() *Memory {
	return &Memory{entries: make(map[core.Fingerprint]entry), now: time.Now}
}

// Get returns the cached bytes. Expired entries are dropped on read.
func (m *Memory) Get(_ context.Context, fp core.Fingerprint) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[fp]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, fp)
		return nil, false, nil
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, true, nil
}

// Put stores data. ttl <= 0 keeps the entry until it is overwritten.
func (m *Memory) Put(_ context.Context, fp core.Fingerprint, data []byte, ttl time.Duration) error {
	e := entry{data: append([]byte(nil), data...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[fp] = e
	m.mu.Unlock()
	return nil
}

// Sweep removes expired entries and returns how many were removed
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for fp, e := range m.entries {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(m.entries, fp)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
