// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package alert

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMemoryStoreSaveGet(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	a := &Alert{ID: "a-1", Source: "host-1"}
	if err := s.Save(ctx, a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Get(ctx, "a-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Source != "host-1" {
		t.Errorf("Source = %s", got.Source)
	}

	if err := s.Save(ctx, a); err == nil {
		t.Error("duplicate Save succeeded")
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrUnknownAlert) {
		t.Errorf("Get missing: err = %v, want ErrUnknownAlert", err)
	}
}

func TestMemoryStoreBoundedEviction(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.Save(ctx, &Alert{ID: fmt.Sprintf("a-%d", i)}); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
	if s.Len() != 3 {
		t.Errorf("Len = %d, want 3", s.Len())
	}
	if _, err := s.Get(ctx, "a-0"); !errors.Is(err, ErrUnknownAlert) {
		t.Error("oldest alert not evicted")
	}
	if _, err := s.Get(ctx, "a-4"); err != nil {
		t.Errorf("newest alert missing: %v", err)
	}
}

func TestMemoryStoreRecentOrder(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		s.Save(ctx, &Alert{ID: fmt.Sprintf("a-%d", i)})
	}
	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "a-3" || recent[1].ID != "a-2" {
		t.Errorf("Recent = %v, want newest first", recent)
	}
}
