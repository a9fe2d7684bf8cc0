// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package baseline

import (
	"math"
	"testing"
	"time"

	"github.com/kestrelsec/kestrel/internal/feature"
)

var testSchema = feature.Schema{"a", "b", "c"}

func vec(t *testing.T, values ...float64) *feature.Vector {
	t.Helper()
	return feature.NewVector("src-1", time.Now(), values)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestStoreWelfordStats(t *testing.T) {
	s := NewStore(testSchema, Config{WindowSize: 100, MinSamples: 2, SnapshotEvery: 1})

	samples := [][]float64{
		{2, 10, 0},
		{4, 20, 0},
		{6, 30, 0},
		{8, 40, 0},
	}
	for _, row := range samples {
		if err := s.Update(vec(t, row...)); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	p := s.Snapshot()
	if p.InsufficientData {
		t.Fatal("expected sufficient data after 4 samples with MinSamples=2")
	}
	if p.SampleCount != 4 {
		t.Fatalf("SampleCount = %d, want 4", p.SampleCount)
	}

	st, ok := p.Get("a")
	if !ok {
		t.Fatal("feature a missing from profile")
	}
	if !almostEqual(st.Mean, 5) {
		t.Errorf("mean = %v, want 5", st.Mean)
	}
	// Sample std of {2,4,6,8} is sqrt(20/3).
	if !almostEqual(st.Std, math.Sqrt(20.0/3.0)) {
		t.Errorf("std = %v, want %v", st.Std, math.Sqrt(20.0/3.0))
	}
	if !almostEqual(st.Median, 5) {
		t.Errorf("median = %v, want 5", st.Median)
	}
	// Absolute deviations from 5 are {3,1,1,3}; median is 2.
	if !almostEqual(st.MAD, 2) {
		t.Errorf("MAD = %v, want 2", st.MAD)
	}
}

func TestStoreInsufficientDataFlag(t *testing.T) {
	s := NewStore(testSchema, Config{WindowSize: 100, MinSamples: 10, SnapshotEvery: 1})

	if !s.Snapshot().InsufficientData {
		t.Fatal("fresh store must report insufficient data")
	}

	for i := 0; i < 9; i++ {
		if err := s.Update(vec(t, 1, 1, 1)); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	if !s.Snapshot().InsufficientData {
		t.Fatal("9 of 10 samples must still be insufficient")
	}

	if err := s.Update(vec(t, 1, 1, 1)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if s.Snapshot().InsufficientData {
		t.Fatal("10 samples must satisfy MinSamples=10")
	}
}

func TestStoreRejectsMalformedVectors(t *testing.T) {
	s := NewStore(testSchema, DefaultConfig())

	tests := []struct {
		name string
		v    *feature.Vector
	}{
		{"wrong dimensionality", vec(t, 1, 2)},
		{"NaN value", vec(t, 1, math.NaN(), 3)},
		{"Inf value", vec(t, 1, 2, math.Inf(1))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Update(tt.v); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestStoreWindowBoundsMedian(t *testing.T) {
	s := NewStore(testSchema, Config{WindowSize: 4, MinSamples: 1, SnapshotEvery: 1})

	// Fill beyond the window; only the last 4 samples {100,100,100,100}
	// should contribute to the median.
	for i := 0; i < 8; i++ {
		val := 1.0
		if i >= 4 {
			val = 100.0
		}
		if err := s.Update(vec(t, val, 0, 0)); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	st, _ := s.Snapshot().Get("a")
	if !almostEqual(st.Median, 100) {
		t.Errorf("median = %v, want 100 (window-bounded)", st.Median)
	}

	m := s.WindowMatrix()
	if len(m) != 4 {
		t.Fatalf("WindowMatrix rows = %d, want 4", len(m))
	}
}

func TestStageAndPromote(t *testing.T) {
	s := NewStore(testSchema, Config{WindowSize: 100, MinSamples: 1, SnapshotEvery: 1})
	for i := 0; i < 5; i++ {
		if err := s.Update(vec(t, 10, 10, 10)); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	before := s.Snapshot()

	batch := make([]*feature.Vector, 0, 5)
	for i := 0; i < 5; i++ {
		batch = append(batch, vec(t, 50, 50, 50))
	}
	if err := s.Stage(batch); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if !s.HasStaged() {
		t.Fatal("expected staged state")
	}

	// Staging must not disturb the active profile.
	mid := s.Snapshot()
	if mid.Version != before.Version {
		t.Fatal("staging mutated the active profile")
	}
	st, _ := mid.Get("a")
	if !almostEqual(st.Mean, 10) {
		t.Fatalf("active mean changed during staging: %v", st.Mean)
	}

	if !s.Promote() {
		t.Fatal("Promote returned false with staged state present")
	}
	after := s.Snapshot()
	st, _ = after.Get("a")
	if !almostEqual(st.Mean, 50) {
		t.Errorf("promoted mean = %v, want 50", st.Mean)
	}
	if after.Version <= before.Version {
		t.Errorf("promotion must bump version: before %d, after %d", before.Version, after.Version)
	}

	// Retroactive immutability: the pre-promotion pointer is unchanged.
	st, _ = before.Get("a")
	if !almostEqual(st.Mean, 10) {
		t.Error("promotion mutated a previously returned profile")
	}

	if s.Promote() {
		t.Error("second Promote must be a no-op")
	}
}

func TestDiscardStagedState(t *testing.T) {
	s := NewStore(testSchema, Config{WindowSize: 100, MinSamples: 1, SnapshotEvery: 1})
	if err := s.Stage([]*feature.Vector{vec(t, 1, 2, 3)}); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	s.Discard()
	if s.HasStaged() {
		t.Fatal("Discard left staged state behind")
	}
	if s.Promote() {
		t.Fatal("Promote after Discard must be a no-op")
	}
}

func TestSetMinSamplesRepublishes(t *testing.T) {
	s := NewStore(testSchema, Config{WindowSize: 50, MinSamples: 10, SnapshotEvery: 1})
	for i := 0; i < 20; i++ {
		if err := s.Update(vec(t, float64(i), float64(i)*2, 1)); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	if s.Snapshot().InsufficientData {
		t.Fatal("20 samples over a floor of 10 flagged insufficient")
	}

	if err := s.SetMinSamples(40); err != nil {
		t.Fatalf("SetMinSamples: %v", err)
	}
	if !s.Snapshot().InsufficientData {
		t.Error("raised floor not reflected in the republished profile")
	}

	if err := s.SetMinSamples(0); err == nil {
		t.Error("zero floor accepted")
	}
	if err := s.SetMinSamples(51); err == nil {
		t.Error("floor above the window accepted")
	}
}
