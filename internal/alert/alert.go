// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

// Package alert defines the alert record emitted for every anomalous
// vector and the score-based severity tiers attached to it.
package alert

import (
	"time"

	"github.com/google/uuid"

	"github.com/kestrelsec/kestrel/internal/classify"
	"github.com/kestrelsec/kestrel/internal/detect"
	"github.com/kestrelsec/kestrel/internal/explain"
	"github.com/kestrelsec/kestrel/internal/feature"
)

// Severity grades an alert by ensemble score.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for max-aggregation, higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Thresholds are the score cutoffs for the severity tiers.
type Thresholds struct {
	Critical float64 `json:"critical" koanf:"critical"`
	Warning  float64 `json:"warning" koanf:"warning"`
}

// DefaultThresholds returns the default tiers: critical at 0.9, warning
// at 0.7.
func DefaultThresholds() Thresholds {
	return Thresholds{Critical: 0.9, Warning: 0.7}
}

// For grades an ensemble score.
func (t Thresholds) For(score float64) Severity {
	switch {
	case score >= t.Critical:
		return SeverityCritical
	case score >= t.Warning:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Alert is the immutable record of one anomalous vector. Historical
// alerts are never mutated after emission; feedback and retraining only
// reference them.
type Alert struct {
	ID          string              `json:"id"`
	Source      string              `json:"source"`
	Timestamp   time.Time           `json:"timestamp"`
	Score       float64             `json:"score"`
	Severity    Severity            `json:"severity"`
	Vector      []float64           `json:"vector,omitempty"`
	Models      []detect.ModelScore `json:"model_scores,omitempty"`
	Attack      classify.Result     `json:"attack"`
	Explanation explain.Explanation `json:"explanation"`
	CreatedAt   time.Time           `json:"created_at"`
}

// New assembles an alert from the pipeline stages' outputs. The triggering
// vector's values are captured so feedback can label them later.
func New(v *feature.Vector, verdict *detect.Verdict, cls classify.Result, exp explain.Explanation, tiers Thresholds) *Alert {
	var values []float64
	if v != nil {
		values = append(values, v.Values...)
	}
	return &Alert{
		ID:          uuid.NewString(),
		Source:      verdict.Source,
		Timestamp:   verdict.Timestamp,
		Score:       verdict.EnsembleScore,
		Severity:    tiers.For(verdict.EnsembleScore),
		Vector:      values,
		Models:      verdict.Models,
		Attack:      cls,
		Explanation: exp,
		CreatedAt:   time.Now().UTC(),
	}
}
