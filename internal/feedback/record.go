// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// VerdictType is an operator verdict on an emitted alert.
type VerdictType string

const (
	// VerdictAcknowledged confirms the alert as a true positive.
	VerdictAcknowledged VerdictType = "ACKNOWLEDGED"

	// VerdictFalsePositive marks the alert as wrong.
	VerdictFalsePositive VerdictType = "FALSE_POSITIVE"

	// VerdictMissed back-fills an attack the pipeline failed to flag; it
	// references the closest emitted alert or a manually created one.
	VerdictMissed VerdictType = "MISSED"
)

// Valid reports whether v is a known verdict.
func (v VerdictType) Valid() bool {
	switch v {
	case VerdictAcknowledged, VerdictFalsePositive, VerdictMissed:
		return true
	}
	return false
}

// ErrInvalidVerdict indicates an unrecognized verdict type.
var ErrInvalidVerdict = errors.New("invalid feedback verdict")

// Record is one append-only feedback entry. Records are immutable and
// deduplicated on (AlertID, Verdict), which makes Submit idempotent
// under replay.
type Record struct {
	ID        string      `json:"id"`
	AlertID   string      `json:"alert_id"`
	Verdict   VerdictType `json:"verdict"`
	Operator  string      `json:"operator"`
	CreatedAt time.Time   `json:"created_at"`
}

// dedupKey is the record identity for idempotence.
func (r *Record) dedupKey() string {
	return r.AlertID + "|" + string(r.Verdict)
}

// Store persists feedback records append-only.
type Store interface {
	// Append stores the record unless an identical (AlertID, Verdict)
	// record exists; in that case it returns the existing record and
	// false.
	Append(ctx context.Context, r *Record) (*Record, bool, error)

	// List returns all records in insertion order.
	List(ctx context.Context) ([]*Record, error)
}

// MemoryStore is the in-memory reference Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
	byKey   map[string]*Record
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]*Record)}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, r *Record) (*Record, bool, error) {
	if r == nil || r.AlertID == "" {
		return nil, false, fmt.Errorf("feedback store: missing alert reference")
	}
	if !r.Verdict.Valid() {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidVerdict, r.Verdict)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byKey[r.dedupKey()]; ok {
		return existing, false, nil
	}
	s.records = append(s.records, r)
	s.byKey[r.dedupKey()] = r
	return r, true, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, len(s.records))
	copy(out, s.records)
	return out, nil
}
