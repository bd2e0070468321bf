package memory

import (
	"context"
	"sync"
)

// Snapshot holds the latest template snapshot bytes.
type Snapshot struct {
	mu    sync.RWMutex
	data  []byte
	saves int
	// FailSave, when set, is returned by Save without storing anything.
	FailSave error
}

// NewSnapshot returns an empty in-memory snapshot, optionally seeded.
func NewSnapshot(seed []byte) *Snapshot {
	return &Snapshot{data: append([]byte(nil), seed...)}
}

// Load returns a copy of the stored snapshot, or nil when nothing was saved.
func (s *Snapshot) Load(context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.data) == 0 {
		return nil, nil
	}
	return append([]byte(nil), s.data...), nil
}

// Save replaces the stored snapshot.
func (s *Snapshot) Save(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		return s.FailSave
	}
	s.data = append([]byte(nil), data...)
	s.saves++
	return nil
}

// Saves reports how many snapshots were written.
func (s *Snapshot) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Name identifies the backend in logs.
func (s *Snapshot) Name() string { return "memory" }
