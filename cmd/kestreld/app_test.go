// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package main

import (
	"context"
	"testing"
	"time"

	"github.com/kestrelsec/kestrel/internal/config"
	"github.com/kestrelsec/kestrel/internal/feature"
)

func TestBuildAppFromDefaults(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	a, err := buildApp(cfg)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.bus.Close()

	if a.pipe == nil || a.correlator == nil || a.retrainer == nil {
		t.Fatal("buildApp left components nil")
	}
	if a.ready() {
		t.Error("fresh app reports ready before any baseline samples")
	}

	// The wired pipeline accepts a vector end to end.
	v := feature.NewVector("wiring-check", time.Now(), make([]float64, len(a.schema)))
	if _, err := a.pipe.Process(context.Background(), v); err != nil {
		t.Errorf("Process through freshly built app: %v", err)
	}
}

func TestApplyConfigPushesTunables(t *testing.T) {
	cfg := config.Default()
	a, err := buildApp(cfg)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.bus.Close()

	updated := config.Default()
	updated.Ensemble.Threshold = 0.85
	updated.Classify.ConfidenceFloor = 0.5
	a.applyConfig(updated)

	if got := a.ensemble.Threshold(); got != 0.85 {
		t.Errorf("ensemble threshold = %v, want 0.85 after reload", got)
	}
	if got := a.classifier.ConfidenceFloor(); got != 0.5 {
		t.Errorf("confidence floor = %v, want 0.5 after reload", got)
	}
}
