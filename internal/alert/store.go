// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownAlert indicates a reference to an alert that was never
// emitted (or already rotated out of the store).
var ErrUnknownAlert = errors.New("unknown alert")

// Store persists emitted alerts. Implementations must treat stored
// alerts as immutable; there is no update operation.
type Store interface {
	Save(ctx context.Context, a *Alert) error
	Get(ctx context.Context, id string) (*Alert, error)
	Recent(ctx context.Context, limit int) ([]*Alert, error)
}

// MemoryStore is the bounded in-memory reference Store. Persistent
// storage is an external collaborator; this is the default backend and
// the test double.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*Alert
	order []string
	cap   int
}

// NewMemoryStore creates a memory store retaining at most capacity
// alerts, oldest evicted first. Zero capacity selects 10000.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryStore{byID: make(map[string]*Alert), cap: capacity}
}

// Save stores the alert, evicting the oldest when full.
func (s *MemoryStore) Save(_ context.Context, a *Alert) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("alert store: missing alert ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[a.ID]; exists {
		return fmt.Errorf("alert store: duplicate alert %s", a.ID)
	}
	if len(s.order) >= s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.byID, oldest)
	}
	s.byID[a.ID] = a
	s.order = append(s.order, a.ID)
	return nil
}

// Get returns the alert by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlert, id)
	}
	return a, nil
}

// Recent returns up to limit alerts, newest first.
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	out := make([]*Alert, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.byID[s.order[i]])
	}
	return out, nil
}

// Len returns the number of stored alerts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
