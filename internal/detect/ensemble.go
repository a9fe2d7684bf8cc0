// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package detect

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kestrelsec/kestrel/internal/feature"
	"github.com/kestrelsec/kestrel/internal/logging"
)

// EnsembleConfig configures the ensemble scorer.
type EnsembleConfig struct {
	// Threshold is the ensemble anomaly threshold. Default: 0.7.
	Threshold float64 `json:"threshold"`

	// AgreementBand is the half-width of the near-threshold band: a score
	// within (Threshold, Threshold+AgreementBand] only counts as anomalous
	// when at least two sub-detectors individually agree. Default: 0.05.
	AgreementBand float64 `json:"agreement_band"`

	// Weights maps detector model IDs to ensemble weights. Missing models
	// get the defaults. Weights are renormalized at scoring time over the
	// detectors that actually produced a score.
	Weights map[ModelID]float64 `json:"weights"`
}

// DefaultEnsembleConfig returns the default weighting: the structural
// model carries the most weight, the statistical and temporal models
// split the remainder.
func DefaultEnsembleConfig() EnsembleConfig {
	return EnsembleConfig{
		Threshold:     0.7,
		AgreementBand: 0.05,
		Weights: map[ModelID]float64{
			ModelStructural:  0.4,
			ModelStatistical: 0.3,
			ModelTemporal:    0.3,
		},
	}
}

// ensembleState is the immutable unit the ensemble swaps atomically.
// Weight updates and detector replacement always install a whole new
// state, so a concurrent Score sees either the old or the new ensemble,
// never a mix.
type ensembleState struct {
	detectors []Detector
	weights   map[ModelID]float64
	threshold float64
	band      float64
}

// Ensemble combines the sub-detectors into one weighted anomaly verdict.
// Sub-detectors run concurrently per vector; a failing detector is
// excluded from that vector's score and the surviving weights are
// renormalized. All state is published through an atomic pointer; reads
// never lock, writers serialize behind mu so concurrent updates cannot
// overwrite each other's swap.
type Ensemble struct {
	mu    sync.Mutex
	state atomic.Pointer[ensembleState]
}

// NewEnsemble creates an ensemble over the given detectors.
func NewEnsemble(cfg EnsembleConfig, detectors ...Detector) (*Ensemble, error) {
	if len(detectors) == 0 {
		return nil, fmt.Errorf("ensemble: no detectors")
	}
	def := DefaultEnsembleConfig()
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		cfg.Threshold = def.Threshold
	}
	if cfg.AgreementBand < 0 {
		cfg.AgreementBand = def.AgreementBand
	}
	weights := make(map[ModelID]float64, len(detectors))
	for _, d := range detectors {
		w, ok := cfg.Weights[d.Model()]
		if !ok {
			w = def.Weights[d.Model()]
		}
		if w <= 0 {
			w = 1.0 / float64(len(detectors))
		}
		weights[d.Model()] = w
	}

	e := &Ensemble{}
	e.state.Store(&ensembleState{
		detectors: detectors,
		weights:   weights,
		threshold: cfg.Threshold,
		band:      cfg.AgreementBand,
	})
	return e, nil
}

// Score runs every sub-detector against the vector and combines the
// results. Detectors that return an error are logged and excluded; if
// every detector fails the vector is unscoreable and ErrUnscoreable is
// returned so the caller can flag it rather than silently pass it.
// When ctx expires before all detectors report, the laggards are
// abandoned and the vector is unscoreable: a hung pluggable model must
// never stall the hot path.
func (e *Ensemble) Score(ctx context.Context, v *feature.Vector, sc *Context) (*Verdict, error) {
	st := e.state.Load()

	type result struct {
		model ModelID
		score ModelScore
		err   error
	}
	// Buffered so abandoned goroutines can still send and exit.
	resultCh := make(chan result, len(st.detectors))
	for _, d := range st.detectors {
		go func(d Detector) {
			score, err := d.Score(ctx, v, sc)
			resultCh <- result{model: d.Model(), score: score, err: err}
		}(d)
	}

	results := make([]result, 0, len(st.detectors))
	for range st.detectors {
		select {
		case r := <-resultCh:
			results = append(results, r)
		case <-ctx.Done():
			logging.Ctx(ctx).Error().
				Err(ctx.Err()).
				Str("source", v.Source).
				Int("reported", len(results)).
				Int("expected", len(st.detectors)).
				Msg("scoring deadline expired, abandoning unfinished sub-detectors")
			return nil, fmt.Errorf("ensemble score: %w: %w", ErrUnscoreable, ctx.Err())
		}
	}

	scores := make([]ModelScore, 0, len(st.detectors))
	totalWeight := 0.0
	for _, r := range results {
		if r.err != nil {
			logging.Ctx(ctx).Warn().
				Err(r.err).
				Str("model", string(r.model)).
				Str("source", v.Source).
				Msg("sub-detector failed, excluding from ensemble")
			continue
		}
		s := r.score
		s.Weight = st.weights[s.Model]
		totalWeight += s.Weight
		scores = append(scores, s)
	}
	if len(scores) == 0 || totalWeight <= 0 {
		return nil, ErrUnscoreable
	}

	ensembleScore := 0.0
	for i := range scores {
		scores[i].Weight /= totalWeight
		ensembleScore += scores[i].Normalized * scores[i].Weight
	}

	decision := DecisionNormal
	if ensembleScore > st.threshold {
		if ensembleScore-st.threshold <= st.band {
			// Near the threshold a single loud detector is not enough;
			// require two sub-detectors over their own thresholds.
			if e.agreementCount(st, scores) >= 2 {
				decision = DecisionAnomalous
			}
		} else {
			decision = DecisionAnomalous
		}
	}

	sort.Slice(scores, func(a, b int) bool { return scores[a].Model < scores[b].Model })

	return &Verdict{
		Source:        v.Source,
		Timestamp:     v.Timestamp,
		EnsembleScore: ensembleScore,
		Models:        scores,
		Decision:      decision,
	}, nil
}

func (e *Ensemble) agreementCount(st *ensembleState, scores []ModelScore) int {
	thresholds := make(map[ModelID]float64, len(st.detectors))
	for _, d := range st.detectors {
		thresholds[d.Model()] = d.Threshold()
	}
	n := 0
	for _, s := range scores {
		if s.Normalized > thresholds[s.Model] {
			n++
		}
	}
	return n
}

// Threshold returns the current ensemble threshold.
func (e *Ensemble) Threshold() float64 { return e.state.Load().threshold }

// SetThreshold installs a new decision threshold and agreement band.
func (e *Ensemble) SetThreshold(threshold, band float64) error {
	if threshold <= 0 || threshold >= 1 || band < 0 {
		return fmt.Errorf("ensemble: invalid threshold %v band %v", threshold, band)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state.Load()
	e.state.Store(&ensembleState{
		detectors: st.detectors,
		weights:   st.weights,
		threshold: threshold,
		band:      band,
	})
	return nil
}

// Weights returns a copy of the current configured weights.
func (e *Ensemble) Weights() map[ModelID]float64 {
	st := e.state.Load()
	out := make(map[ModelID]float64, len(st.weights))
	for k, v := range st.weights {
		out[k] = v
	}
	return out
}

// SetWeights installs a new weight map atomically. Weights must be
// positive; they are normalized to sum to one before installation.
func (e *Ensemble) SetWeights(weights map[ModelID]float64) error {
	if weights == nil {
		return fmt.Errorf("ensemble: nil weights")
	}
	return e.Promote(nil, weights)
}

// ReplaceDetector swaps one sub-detector for a retrained replacement of
// the same model identity, keeping weights and threshold. The swap is a
// single atomic store; in-flight scores finish against the old detector.
func (e *Ensemble) ReplaceDetector(d Detector) error {
	if d == nil {
		return fmt.Errorf("ensemble: nil detector")
	}
	return e.Promote(d, nil)
}

// Promote installs a retrained detector and a new weight map in one
// atomic swap, so no score ever combines the new forest with the old
// weights or vice versa. Either argument may be nil to keep the current
// value.
func (e *Ensemble) Promote(d Detector, weights map[ModelID]float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state.Load()

	detectors := st.detectors
	if d != nil {
		detectors = make([]Detector, len(st.detectors))
		found := false
		for i, cur := range st.detectors {
			if cur.Model() == d.Model() {
				detectors[i] = d
				found = true
			} else {
				detectors[i] = cur
			}
		}
		if !found {
			return fmt.Errorf("ensemble: no detector with model %q to replace", d.Model())
		}
	}

	next := st.weights
	if weights != nil {
		total := 0.0
		next = make(map[ModelID]float64, len(weights))
		for _, cur := range detectors {
			w, ok := weights[cur.Model()]
			if !ok || w <= 0 {
				return fmt.Errorf("ensemble: missing or non-positive weight for model %q", cur.Model())
			}
			next[cur.Model()] = w
			total += w
		}
		for k := range next {
			next[k] /= total
		}
	}

	e.state.Store(&ensembleState{
		detectors: detectors,
		weights:   next,
		threshold: st.threshold,
		band:      st.band,
	})
	return nil
}

// Detectors returns the current detector set for inspection.
func (e *Ensemble) Detectors() []Detector {
	st := e.state.Load()
	out := make([]Detector, len(st.detectors))
	copy(out, st.detectors)
	return out
}
