// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package detect

import (
	"context"
	"testing"
	"time"

	"github.com/kestrelsec/kestrel/internal/baseline"
	"github.com/kestrelsec/kestrel/internal/feature"
)

func testProfile(insufficient bool) *baseline.Profile {
	return &baseline.Profile{
		Schema: testSchema(),
		Features: []baseline.Stats{
			{Mean: 10, Std: 2, Median: 10, MAD: 1.5},
			{Mean: 100, Std: 20, Median: 100, MAD: 15},
			{Mean: 0.5, Std: 0.1, Median: 0.5, MAD: 0.08},
		},
		SampleCount:      500,
		InsufficientData: insufficient,
	}
}

func TestStatisticalScore(t *testing.T) {
	d := NewStatisticalDetector(testSchema(), StatisticalConfig{})
	sc := &Context{Profile: testProfile(false)}

	tests := []struct {
		name    string
		values  []float64
		anomaly bool
	}{
		{"at_median", []float64{10, 100, 0.5}, false},
		{"mild_deviation", []float64{12, 110, 0.55}, false},
		{"one_feature_extreme", []float64{10, 100, 5.0}, true},
		{"all_features_extreme", []float64{100, 900, 8.0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := feature.NewVector("host-1", time.Now(), tt.values)
			s, err := d.Score(context.Background(), v, sc)
			if err != nil {
				t.Fatalf("Score: %v", err)
			}
			if s.Normalized < 0 || s.Normalized >= 1 {
				t.Errorf("score %.4f outside [0,1)", s.Normalized)
			}
			got := s.Normalized > d.Threshold()
			if got != tt.anomaly {
				t.Errorf("score %.4f: anomalous = %v, want %v", s.Normalized, got, tt.anomaly)
			}
		})
	}
}

func TestStatisticalInsufficientBaseline(t *testing.T) {
	d := NewStatisticalDetector(testSchema(), StatisticalConfig{})
	sc := &Context{Profile: testProfile(true)}
	v := feature.NewVector("host-1", time.Now(), []float64{9999, 9999, 9999})

	s, err := d.Score(context.Background(), v, sc)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if s.Normalized != 0.5 {
		t.Errorf("score with insufficient baseline = %.4f, want conservative 0.5", s.Normalized)
	}
}

func TestStatisticalMissingProfile(t *testing.T) {
	d := NewStatisticalDetector(testSchema(), StatisticalConfig{})
	v := feature.NewVector("host-1", time.Now(), []float64{1, 2, 3})
	if _, err := d.Score(context.Background(), v, &Context{}); err == nil {
		t.Error("Score with nil profile succeeded, want error")
	}
}

func TestStatisticalConstantFeature(t *testing.T) {
	// A feature with zero MAD and zero Std was constant in the window;
	// any change must register as maximal deviation.
	p := testProfile(false)
	p.Features[1] = baseline.Stats{Mean: 7, Std: 0, Median: 7, MAD: 0}
	d := NewStatisticalDetector(testSchema(), StatisticalConfig{})
	sc := &Context{Profile: p}

	same := feature.NewVector("h", time.Now(), []float64{10, 7, 0.5})
	changed := feature.NewVector("h", time.Now(), []float64{10, 8, 0.5})

	s1, _ := d.Score(context.Background(), same, sc)
	s2, _ := d.Score(context.Background(), changed, sc)
	if s2.Normalized <= s1.Normalized {
		t.Errorf("changed constant feature scored %.4f, want above %.4f", s2.Normalized, s1.Normalized)
	}
	if s2.Normalized <= 0.5 {
		t.Errorf("changed constant feature scored %.4f, want > 0.5", s2.Normalized)
	}
}

func TestStatisticalMADFallbackToStd(t *testing.T) {
	// MAD of zero with non-zero Std must fall back to the classic z-score.
	p := testProfile(false)
	p.Features[0] = baseline.Stats{Mean: 10, Std: 2, Median: 10, MAD: 0}
	d := NewStatisticalDetector(testSchema(), StatisticalConfig{})
	sc := &Context{Profile: p}

	// (16-10)/2 = 3 sigmas on feature a; others at median.
	v := feature.NewVector("h", time.Now(), []float64{16, 100, 0.5})
	s, err := d.Score(context.Background(), v, sc)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	// z = 3, normalized = 3/(3+3) = 0.5.
	if s.Normalized < 0.49 || s.Normalized > 0.51 {
		t.Errorf("score = %.4f, want ~0.5 for a 3-sigma deviation", s.Normalized)
	}
}

func TestStatisticalTopDimensions(t *testing.T) {
	d := NewStatisticalDetector(testSchema(), StatisticalConfig{})
	sc := &Context{Profile: testProfile(false)}
	// Feature c deviates hardest relative to its MAD.
	v := feature.NewVector("h", time.Now(), []float64{12, 110, 5.0})

	dims := d.TopDimensions(v, sc, 2)
	if len(dims) != 2 {
		t.Fatalf("TopDimensions returned %d names, want 2", len(dims))
	}
	if dims[0] != "c" {
		t.Errorf("top dimension = %q, want %q", dims[0], "c")
	}
}
