// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package detect

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/kestrelsec/kestrel/internal/baseline"
	"github.com/kestrelsec/kestrel/internal/feature"
)

// madToStd rescales a median-absolute-deviation to a standard-deviation
// equivalent for normally distributed data (1/Φ⁻¹(3/4)).
const madToStd = 1.4826

// StatisticalConfig configures the statistical-deviation detector.
type StatisticalConfig struct {
	// ZScale maps the aggregated z-score onto [0,1): normalized = z/(z+ZScale).
	// A z of ZScale therefore lands exactly at 0.5. Default: 3.
	ZScale float64 `json:"z_scale"`

	// ConservativeScore is returned when the baseline has insufficient data.
	// Deliberately non-zero: an empty baseline is never "no deviation".
	// Default: 0.5.
	ConservativeScore float64 `json:"conservative_score"`

	// Threshold is the detector's individual anomaly threshold. Default: 0.5
	// (equivalent to z == ZScale, the classic three-sigma rule).
	Threshold float64 `json:"threshold"`
}

// DefaultStatisticalConfig returns sensible defaults.
func DefaultStatisticalConfig() StatisticalConfig {
	return StatisticalConfig{
		ZScale:            3.0,
		ConservativeScore: 0.5,
		Threshold:         0.5,
	}
}

// Deviation is one feature's robust z-score against the baseline, retained
// for the explanation generator.
type Deviation struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
	ZScore  float64 `json:"z_score"`
}

// StatisticalDetector scores per-feature deviation from the baseline
// profile: a MAD-based robust z-score per feature (falling back to the
// Welford standard deviation when the MAD degenerates to zero), aggregated
// by taking the maximum across features. The detector is stateless; all
// state lives in the immutable profile snapshot it is handed.
type StatisticalDetector struct {
	schema feature.Schema
	cfg    StatisticalConfig
}

// NewStatisticalDetector creates a statistical-deviation detector.
func NewStatisticalDetector(schema feature.Schema, cfg StatisticalConfig) *StatisticalDetector {
	def := DefaultStatisticalConfig()
	if cfg.ZScale <= 0 {
		cfg.ZScale = def.ZScale
	}
	if cfg.ConservativeScore <= 0 {
		cfg.ConservativeScore = def.ConservativeScore
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	return &StatisticalDetector{schema: schema, cfg: cfg}
}

// Model returns the detector identity.
func (d *StatisticalDetector) Model() ModelID { return ModelStatistical }

// Threshold returns the individual anomaly threshold.
func (d *StatisticalDetector) Threshold() float64 { return d.cfg.Threshold }

// Score aggregates per-feature robust z-scores into one normalized score.
// With an insufficient baseline it falls back to the conservative default
// rather than fabricating confidence either way.
func (d *StatisticalDetector) Score(_ context.Context, v *feature.Vector, sc *Context) (ModelScore, error) {
	if sc == nil || sc.Profile == nil {
		return ModelScore{}, fmt.Errorf("statistical score: no baseline profile")
	}
	if sc.Profile.InsufficientData {
		return ModelScore{
			Model:      ModelStatistical,
			Normalized: d.cfg.ConservativeScore,
		}, nil
	}

	maxZ := 0.0
	for _, dev := range d.Deviations(v, sc.Profile) {
		if dev.ZScore > maxZ {
			maxZ = dev.ZScore
		}
	}

	return ModelScore{
		Model:      ModelStatistical,
		Raw:        maxZ,
		Normalized: maxZ / (maxZ + d.cfg.ZScale),
	}, nil
}

// Deviations computes the robust z-score of every feature against the
// profile. Exported for the explanation generator, which attributes these
// directly.
func (d *StatisticalDetector) Deviations(v *feature.Vector, p *baseline.Profile) []Deviation {
	out := make([]Deviation, 0, len(d.schema))
	for i, name := range d.schema {
		st := p.Features[i]
		x := v.Values[i]

		var z float64
		switch {
		case st.MAD > 1e-8:
			z = math.Abs(x-st.Median) / (st.MAD * madToStd)
		case st.Std > 1e-8:
			z = math.Abs(x-st.Mean) / st.Std
		default:
			// Feature was constant in the window; any change is maximal.
			if math.Abs(x-st.Mean) > 1e-8 {
				z = 2 * d.cfg.ZScale
			}
		}
		out = append(out, Deviation{Feature: name, Value: x, ZScore: z})
	}
	return out
}

// TopDimensions ranks features by z-score, most deviant first.
func (d *StatisticalDetector) TopDimensions(v *feature.Vector, sc *Context, k int) []string {
	if sc == nil || sc.Profile == nil || sc.Profile.InsufficientData {
		return nil
	}
	devs := d.Deviations(v, sc.Profile)
	sort.Slice(devs, func(a, b int) bool {
		if devs[a].ZScore != devs[b].ZScore {
			return devs[a].ZScore > devs[b].ZScore
		}
		return devs[a].Feature < devs[b].Feature
	})
	if k > len(devs) {
		k = len(devs)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = devs[i].Feature
	}
	return out
}
