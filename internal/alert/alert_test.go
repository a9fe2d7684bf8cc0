// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package alert

import (
	"testing"
	"time"

	"github.com/kestrelsec/kestrel/internal/classify"
	"github.com/kestrelsec/kestrel/internal/detect"
	"github.com/kestrelsec/kestrel/internal/explain"
	"github.com/kestrelsec/kestrel/internal/feature"
)

func TestThresholdsFor(t *testing.T) {
	tiers := DefaultThresholds()
	tests := []struct {
		score float64
		want  Severity
	}{
		{0.95, SeverityCritical},
		{0.9, SeverityCritical},
		{0.89, SeverityWarning},
		{0.7, SeverityWarning},
		{0.69, SeverityInfo},
		{0.0, SeverityInfo},
	}
	for _, tt := range tests {
		if got := tiers.For(tt.score); got != tt.want {
			t.Errorf("For(%.2f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestSeverityRankOrdering(t *testing.T) {
	if !(SeverityCritical.Rank() > SeverityWarning.Rank() &&
		SeverityWarning.Rank() > SeverityInfo.Rank()) {
		t.Error("severity ranks not strictly ordered")
	}
}

func TestNewAlert(t *testing.T) {
	verdict := &detect.Verdict{
		Source:        "host-9",
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		EnsembleScore: 0.93,
		Decision:      detect.DecisionAnomalous,
	}
	cls := classify.Result{Type: classify.AttackBruteForce, Confidence: 0.85}
	v := feature.NewVector("host-9", verdict.Timestamp, []float64{1, 2, 3})
	a := New(v, verdict, cls, explain.Explanation{Summary: "s"}, DefaultThresholds())

	if a.ID == "" {
		t.Error("alert ID not assigned")
	}
	if a.Severity != SeverityCritical {
		t.Errorf("Severity = %s, want critical at score 0.93", a.Severity)
	}
	if a.Source != "host-9" || a.Score != 0.93 {
		t.Errorf("alert fields not carried over: %+v", a)
	}
	if len(a.Vector) != 3 {
		t.Errorf("Vector = %v, want captured values", a.Vector)
	}

	b := New(v, verdict, cls, explain.Explanation{}, DefaultThresholds())
	if b.ID == a.ID {
		t.Error("alert IDs collide")
	}
}
