// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package feedback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelsec/kestrel/internal/alert"
	"github.com/kestrelsec/kestrel/internal/baseline"
	"github.com/kestrelsec/kestrel/internal/detect"
	"github.com/kestrelsec/kestrel/internal/feature"
	"github.com/kestrelsec/kestrel/internal/logging"
	"github.com/kestrelsec/kestrel/internal/metrics"
)

// Config configures the adaptation loop.
type Config struct {
	// DownWeight is the multiplicative penalty applied to the model that
	// contributed most to a false positive. Default: 0.9.
	DownWeight float64 `json:"down_weight" koanf:"down_weight"`

	// CorpusSize bounds the labeled corpora. Default: 1000.
	CorpusSize int `json:"corpus_size" koanf:"corpus_size"`

	// MinRetrainSamples is the smallest baseline window that supports a
	// forest rebuild. Default: 30.
	MinRetrainSamples int `json:"min_retrain_samples" koanf:"min_retrain_samples"`

	// Structural configures rebuilt structural detectors.
	Structural detect.StructuralConfig `json:"structural" koanf:"structural"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DownWeight:        0.9,
		CorpusSize:        1000,
		MinRetrainSamples: 30,
		Structural:        detect.DefaultStructuralConfig(),
	}
}

// Loop ingests operator verdicts and adapts the detectors off the hot
// path. Submissions only append records and stage artifacts; nothing
// live changes until Retrain promotes the staged state atomically.
type Loop struct {
	cfg       Config
	schema    feature.Schema
	alerts    alert.Store
	records   Store
	ensemble  *detect.Ensemble
	baselines *baseline.Store

	mu sync.Mutex
	// stagedPenalty holds multiplicative down-weight factors per model.
	// Kept as factors rather than absolute weights so a config hot-reload
	// between submission and retrain is not overwritten by a stale
	// snapshot; Retrain applies the factors to the live weights.
	stagedPenalty map[detect.ModelID]float64
	negatives     [][]float64
	positives     [][]float64
	missed        int
}

// NewLoop creates the adaptation loop.
func NewLoop(cfg Config, schema feature.Schema, alerts alert.Store, records Store, ensemble *detect.Ensemble, baselines *baseline.Store) *Loop {
	def := DefaultConfig()
	if cfg.DownWeight <= 0 || cfg.DownWeight >= 1 {
		cfg.DownWeight = def.DownWeight
	}
	if cfg.CorpusSize <= 0 {
		cfg.CorpusSize = def.CorpusSize
	}
	if cfg.MinRetrainSamples <= 0 {
		cfg.MinRetrainSamples = def.MinRetrainSamples
	}
	return &Loop{
		cfg:       cfg,
		schema:    schema,
		alerts:    alerts,
		records:   records,
		ensemble:  ensemble,
		baselines: baselines,
	}
}

// Submit records an operator verdict for an existing alert. Replaying
// the same (alert, verdict) pair returns the original record with no
// further side effects. The referenced alert is never mutated.
func (l *Loop) Submit(ctx context.Context, alertID string, verdict VerdictType, operator string) (*Record, error) {
	if !verdict.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVerdict, verdict)
	}
	a, err := l.alerts.Get(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("feedback submit: %w", err)
	}

	rec := &Record{
		ID:        uuid.NewString(),
		AlertID:   alertID,
		Verdict:   verdict,
		Operator:  operator,
		CreatedAt: time.Now().UTC(),
	}
	stored, added, err := l.records.Append(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("feedback submit: %w", err)
	}
	if !added {
		return stored, nil
	}

	switch verdict {
	case VerdictFalsePositive:
		l.addCorpus(&l.negatives, a.Vector)
		l.stageDownWeight(a)
	case VerdictAcknowledged:
		l.addCorpus(&l.positives, a.Vector)
	case VerdictMissed:
		l.addCorpus(&l.positives, a.Vector)
		l.noteMissed(a)
	}

	logging.Ctx(ctx).Info().
		Str("alert_id", alertID).
		Str("verdict", string(verdict)).
		Str("operator", operator).
		Msg("feedback recorded")
	return stored, nil
}

func (l *Loop) addCorpus(corpus *[][]float64, values []float64) {
	if len(values) == 0 {
		return
	}
	cp := make([]float64, len(values))
	copy(cp, values)
	l.mu.Lock()
	defer l.mu.Unlock()
	*corpus = append(*corpus, cp)
	if len(*corpus) > l.cfg.CorpusSize {
		*corpus = (*corpus)[len(*corpus)-l.cfg.CorpusSize:]
	}
}

// stageDownWeight penalizes the sub-detector that contributed most to
// the false positive. The change is staged; Retrain promotes it.
func (l *Loop) stageDownWeight(a *alert.Alert) {
	v := &detect.Verdict{Models: a.Models}
	model, ok := v.MaxModel()
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stagedPenalty == nil {
		l.stagedPenalty = make(map[detect.ModelID]float64)
	}
	factor, ok := l.stagedPenalty[model]
	if !ok {
		factor = 1
	}
	l.stagedPenalty[model] = factor * l.cfg.DownWeight
}

// noteMissed flags a detection gap for threshold sensitivity review.
// The threshold itself is an operator decision, not auto-tuned.
func (l *Loop) noteMissed(a *alert.Alert) {
	l.mu.Lock()
	l.missed++
	n := l.missed
	l.mu.Unlock()
	logging.Warn().
		Str("alert_id", a.ID).
		Float64("score", a.Score).
		Float64("threshold", l.ensemble.Threshold()).
		Int("missed_total", n).
		Msg("missed detection reported, review threshold sensitivity")
}

// StagedWeights returns the weight map a retrain would promote right now:
// the live ensemble weights with the staged penalties applied. Nil when
// nothing is staged.
func (l *Loop) StagedWeights() map[detect.ModelID]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingWeightsLocked()
}

// pendingWeightsLocked rebases the staged penalty factors on the current
// live weights. Callers hold l.mu.
func (l *Loop) pendingWeightsLocked() map[detect.ModelID]float64 {
	if l.stagedPenalty == nil {
		return nil
	}
	out := l.ensemble.Weights()
	for model, factor := range l.stagedPenalty {
		out[model] *= factor
	}
	return out
}

// Negatives returns the size of the false-positive corpus.
func (l *Loop) Negatives() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.negatives)
}

// Positives returns the size of the labeled-positive corpus.
func (l *Loop) Positives() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positives)
}

// Retrain rebuilds the structural detector and the baseline profile from
// the current window plus the operator-confirmed false positives,
// validates the candidate forest against that corpus and promotes the
// forest, the rebased weights and the staged baseline in one pass. On
// any failure every staged artifact is discarded; the next scheduled run
// starts fresh.
func (l *Loop) Retrain(ctx context.Context) error {
	matrix := l.baselines.WindowMatrix()
	if len(matrix) < l.cfg.MinRetrainSamples {
		return fmt.Errorf("retrain: %d window samples, need %d", len(matrix), l.cfg.MinRetrainSamples)
	}

	l.mu.Lock()
	negatives := make([][]float64, len(l.negatives))
	copy(negatives, l.negatives)
	l.mu.Unlock()

	// False positives are operator-confirmed benign traffic; folding them
	// into the training corpus teaches both the forest and the baseline
	// that such windows are normal.
	training := matrix
	if len(negatives) > 0 {
		training = make([][]float64, 0, len(matrix)+len(negatives))
		training = append(training, matrix...)
		training = append(training, negatives...)
	}

	candidate := detect.NewStructuralDetector(l.schema, l.cfg.Structural)
	if err := candidate.Fit(training); err != nil {
		l.discardStaged()
		return fmt.Errorf("retrain: %w", err)
	}
	if err := l.validate(ctx, candidate); err != nil {
		l.discardStaged()
		return fmt.Errorf("retrain: %w", err)
	}

	// Stage a baseline rebuilt from the same corpus the forest was fitted
	// on, so the profile the detectors read matches the trained forest.
	batch := make([]*feature.Vector, len(training))
	now := time.Now()
	for i, values := range training {
		batch[i] = feature.NewVector("retrain", now, values)
	}
	if err := l.baselines.Stage(batch); err != nil {
		l.discardStaged()
		return fmt.Errorf("retrain stage baseline: %w", err)
	}

	// Weights are rebased on the live map here, not on a snapshot taken
	// at submission time, so a hot-reload in between survives.
	l.mu.Lock()
	weights := l.pendingWeightsLocked()
	l.mu.Unlock()

	if err := l.ensemble.Promote(candidate, weights); err != nil {
		l.discardStaged()
		return fmt.Errorf("retrain promote: %w", err)
	}
	l.baselines.Promote()
	l.mu.Lock()
	l.stagedPenalty = nil
	l.mu.Unlock()
	metrics.RecordPromotion(true)

	logging.Ctx(ctx).Info().
		Int("window_samples", len(matrix)).
		Int("false_positives", len(negatives)).
		Bool("weights_updated", weights != nil).
		Msg("retrain promoted")
	return nil
}

// validate rejects a candidate forest that scores the known false
// positives higher than the live one does.
func (l *Loop) validate(ctx context.Context, candidate *detect.StructuralDetector) error {
	l.mu.Lock()
	negatives := make([][]float64, len(l.negatives))
	copy(negatives, l.negatives)
	l.mu.Unlock()
	if len(negatives) == 0 {
		return nil
	}

	var current detect.Detector
	for _, d := range l.ensemble.Detectors() {
		if d.Model() == detect.ModelStructural {
			current = d
		}
	}

	const tolerance = 0.01
	now := time.Now()
	candSum, curSum := 0.0, 0.0
	n := 0
	for _, values := range negatives {
		v := feature.NewVector("feedback-validation", now, values)
		cand, err := candidate.Score(ctx, v, nil)
		if err != nil {
			return fmt.Errorf("candidate validation: %w", err)
		}
		candSum += cand.Normalized
		if current != nil {
			if cur, err := current.Score(ctx, v, nil); err == nil {
				curSum += cur.Normalized
				n++
			}
		}
	}
	if n == 0 {
		return nil
	}
	candMean := candSum / float64(len(negatives))
	curMean := curSum / float64(n)
	if candMean > curMean+tolerance {
		return fmt.Errorf("candidate scores false positives higher (%.3f > %.3f)", candMean, curMean)
	}
	return nil
}

func (l *Loop) discardStaged() {
	if l.baselines.HasStaged() {
		l.baselines.Discard()
	}
	l.mu.Lock()
	l.stagedPenalty = nil
	l.mu.Unlock()
	metrics.RecordPromotion(false)
	logging.Warn().Msg("retrain failed, staged artifacts discarded")
}
