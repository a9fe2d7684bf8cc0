// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package detect

import (
	"context"
	"errors"
	"time"

	"github.com/kestrelsec/kestrel/internal/baseline"
	"github.com/kestrelsec/kestrel/internal/feature"
)

// ModelID identifies one sub-detector of the ensemble.
type ModelID string

const (
	// ModelStructural is the isolation-forest style structural-outlier detector.
	ModelStructural ModelID = "structural"

	// ModelStatistical is the per-feature robust z-score detector.
	ModelStatistical ModelID = "statistical"

	// ModelTemporal is the sequence-reconstruction detector.
	ModelTemporal ModelID = "temporal"
)

// ErrUnscoreable indicates that every sub-detector failed (or timed out) for
// a vector. Unscoreable vectors are surfaced as operational errors, distinct
// from security alerts; they are never silently dropped or scored zero.
var ErrUnscoreable = errors.New("vector unscoreable: all sub-detectors failed")

// ErrNotTrained indicates a detector that has not been fitted yet. The
// ensemble excludes untrained detectors and renormalizes the remaining
// weights.
var ErrNotTrained = errors.New("detector not trained")

// ModelScore is one sub-detector's contribution to a verdict. Never
// persisted beyond the scoring of one vector.
type ModelScore struct {
	Model      ModelID `json:"model_id"`
	Raw        float64 `json:"raw_score"`
	Normalized float64 `json:"normalized_score"` // in [0,1]
	Weight     float64 `json:"weight"`           // effective (renormalized) weight
}

// Context carries the read-only state shared by sub-detectors during the
// scoring of one vector. The profile is an immutable snapshot; detectors
// never touch the baseline accumulator.
type Context struct {
	Profile *baseline.Profile
}

// Detector is the capability interface every sub-detector implements. The
// ensemble depends only on this interface, so any implementation satisfying
// the normalized-score contract can be substituted (the temporal detector's
// internal sequence model in particular).
type Detector interface {
	// Model returns the detector's identity.
	Model() ModelID

	// Score evaluates one vector and returns a normalized score in [0,1],
	// higher meaning more anomalous. Errors exclude the detector from the
	// ensemble for this vector only.
	Score(ctx context.Context, v *feature.Vector, sc *Context) (ModelScore, error)

	// Threshold is the detector's individual anomaly threshold, used by the
	// ensemble's near-threshold agreement policy.
	Threshold() float64
}

// Attributor is implemented by detectors that can report their top
// contributing feature dimensions for explanation purposes.
type Attributor interface {
	// TopDimensions returns up to k feature names ranked by contribution to
	// the detector's score for this vector, most contributing first.
	TopDimensions(v *feature.Vector, sc *Context, k int) []string
}

// Decision is the binary outcome of ensemble scoring.
type Decision string

const (
	DecisionNormal    Decision = "NORMAL"
	DecisionAnomalous Decision = "ANOMALOUS"
)

// Verdict is the terminal scoring result for one vector.
type Verdict struct {
	Source        string       `json:"source"`
	Timestamp     time.Time    `json:"timestamp"`
	EnsembleScore float64      `json:"ensemble_score"`
	Models        []ModelScore `json:"model_scores"`
	Decision      Decision     `json:"decision"`
}

// MaxModel returns the sub-detector that contributed the highest weighted
// normalized score, used by the feedback loop to pick the down-weighting
// target for a false positive.
func (v *Verdict) MaxModel() (ModelID, bool) {
	best := ModelID("")
	bestContribution := -1.0
	for _, m := range v.Models {
		c := m.Normalized * m.Weight
		if c > bestContribution {
			bestContribution = c
			best = m.Model
		}
	}
	return best, best != ""
}
