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
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kestrelsec/kestrel/internal/feature"
)

// SequenceModel predicts the next vector from a recent window of vectors.
// The reconstruction error between prediction and observation drives the
// temporal score. Implementations must be safe for concurrent use or be
// used by a single detector instance only.
type SequenceModel interface {
	// Reconstruct predicts the next vector given the history, oldest first.
	// The returned slice has the same dimensionality as the history rows.
	Reconstruct(history [][]float64) []float64
}

// EWMAModel is the default sequence model: an exponentially weighted
// moving average per dimension. Cheap, dependency-free and good enough
// to flag step changes in per-source behavior.
type EWMAModel struct {
	// Alpha is the smoothing factor in (0,1]. Higher weights recent samples.
	Alpha float64
}

// Reconstruct folds the history into one EWMA prediction per dimension.
func (m EWMAModel) Reconstruct(history [][]float64) []float64 {
	alpha := m.Alpha
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	if len(history) == 0 {
		return nil
	}
	pred := make([]float64, len(history[0]))
	copy(pred, history[0])
	for _, row := range history[1:] {
		for i, x := range row {
			pred[i] = alpha*x + (1-alpha)*pred[i]
		}
	}
	return pred
}

// TemporalConfig configures the temporal-reconstruction detector.
type TemporalConfig struct {
	// HistorySize is the per-source window length. Default: 20.
	HistorySize int `json:"history_size"`

	// MinHistory is the minimum window length before the model is consulted;
	// below it the neutral score is returned. Default: 5.
	MinHistory int `json:"min_history"`

	// MaxSources bounds the number of tracked sources; beyond it the least
	// recently observed source is evicted. Default: 10000.
	MaxSources int `json:"max_sources"`

	// ErrScale maps the normalized reconstruction error onto [0,1):
	// score = err/(err+ErrScale). Default: 1.
	ErrScale float64 `json:"err_scale"`

	// NeutralScore is returned when history is insufficient or the model
	// breaker is open. Default: 0.5.
	NeutralScore float64 `json:"neutral_score"`

	// Threshold is the detector's individual anomaly threshold. Default: 0.6.
	Threshold float64 `json:"threshold"`

	// BreakerFailures trips the model circuit breaker after this many
	// consecutive model failures. Default: 5.
	BreakerFailures uint32 `json:"breaker_failures"`

	// BreakerTimeout is how long the breaker stays open. Default: 30s.
	BreakerTimeout time.Duration `json:"breaker_timeout"`
}

// DefaultTemporalConfig returns sensible defaults.
func DefaultTemporalConfig() TemporalConfig {
	return TemporalConfig{
		HistorySize:     20,
		MinHistory:      5,
		MaxSources:      10000,
		ErrScale:        1.0,
		NeutralScore:    0.5,
		Threshold:       0.6,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// sourceHistory is a bounded ring of recent vectors for one source.
type sourceHistory struct {
	rows [][]float64
	pos  int
	full bool
	seen time.Time
}

func (h *sourceHistory) push(row []float64, now time.Time) {
	cp := make([]float64, len(row))
	copy(cp, row)
	if h.full {
		h.rows[h.pos] = cp
		h.pos = (h.pos + 1) % len(h.rows)
	} else {
		h.rows = append(h.rows, cp)
		if len(h.rows) == cap(h.rows) {
			h.full = true
		}
	}
	h.seen = now
}

// ordered returns the window oldest first.
func (h *sourceHistory) ordered() [][]float64 {
	if !h.full {
		out := make([][]float64, len(h.rows))
		copy(out, h.rows)
		return out
	}
	out := make([][]float64, 0, len(h.rows))
	for i := 0; i < len(h.rows); i++ {
		out = append(out, h.rows[(h.pos+i)%len(h.rows)])
	}
	return out
}

// TemporalDetector scores how far a vector falls from its own source's
// recent trajectory. Each source gets an independent bounded history, so
// a chatty host does not mask a quiet one. The sequence model is wrapped
// in a circuit breaker; while the breaker is open the detector degrades
// to its neutral score instead of failing the ensemble.
type TemporalDetector struct {
	schema  feature.Schema
	cfg     TemporalConfig
	model   SequenceModel
	breaker *gobreaker.CircuitBreaker[[]float64]

	mu      sync.Mutex
	history map[string]*sourceHistory
}

// NewTemporalDetector creates a temporal-reconstruction detector. A nil
// model selects the default EWMA model.
func NewTemporalDetector(schema feature.Schema, cfg TemporalConfig, model SequenceModel) *TemporalDetector {
	def := DefaultTemporalConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = def.MinHistory
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = def.MaxSources
	}
	if cfg.ErrScale <= 0 {
		cfg.ErrScale = def.ErrScale
	}
	if cfg.NeutralScore <= 0 {
		cfg.NeutralScore = def.NeutralScore
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if model == nil {
		model = EWMAModel{Alpha: 0.3}
	}

	cb := gobreaker.NewCircuitBreaker[[]float64](gobreaker.Settings{
		Name:    "temporal-sequence-model",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
	})

	return &TemporalDetector{
		schema:  schema,
		cfg:     cfg,
		model:   model,
		breaker: cb,
		history: make(map[string]*sourceHistory),
	}
}

// Model returns the detector identity.
func (d *TemporalDetector) Model() ModelID { return ModelTemporal }

// Threshold returns the individual anomaly threshold.
func (d *TemporalDetector) Threshold() float64 { return d.cfg.Threshold }

// Score compares the vector against the sequence model's prediction from
// the source's history. It never consumes the vector into the history;
// call Observe after scoring so the window only advances once per vector.
func (d *TemporalDetector) Score(_ context.Context, v *feature.Vector, sc *Context) (ModelScore, error) {
	hist := d.snapshotHistory(v.Source)
	if len(hist) < d.cfg.MinHistory {
		return ModelScore{Model: ModelTemporal, Normalized: d.cfg.NeutralScore}, nil
	}

	pred, err := d.breaker.Execute(func() ([]float64, error) {
		p := d.model.Reconstruct(hist)
		if len(p) != len(v.Values) {
			return nil, fmt.Errorf("sequence model returned %d dims, want %d", len(p), len(v.Values))
		}
		for _, x := range p {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, fmt.Errorf("sequence model returned non-finite prediction")
			}
		}
		return p, nil
	})
	if err != nil {
		// Open breaker or a failing model both degrade to neutral rather
		// than knocking the whole ensemble over.
		return ModelScore{Model: ModelTemporal, Normalized: d.cfg.NeutralScore}, nil
	}

	recErr := d.reconstructionError(v.Values, pred, hist)
	return ModelScore{
		Model:      ModelTemporal,
		Raw:        recErr,
		Normalized: recErr / (recErr + d.cfg.ErrScale),
	}, nil
}

// Observe appends the vector to its source's history. Every scored vector
// is observed, anomalous ones included: an attacker that becomes the new
// normal is the baseline store's problem, not the window's.
func (d *TemporalDetector) Observe(v *feature.Vector) {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.history[v.Source]
	if !ok {
		if len(d.history) >= d.cfg.MaxSources {
			d.evictOldestLocked()
		}
		h = &sourceHistory{rows: make([][]float64, 0, d.cfg.HistorySize)}
		d.history[v.Source] = h
	}
	h.push(v.Values, now)
}

// TopDimensions ranks features by per-dimension reconstruction error.
func (d *TemporalDetector) TopDimensions(v *feature.Vector, _ *Context, k int) []string {
	hist := d.snapshotHistory(v.Source)
	if len(hist) < d.cfg.MinHistory {
		return nil
	}
	pred := d.model.Reconstruct(hist)
	if len(pred) != len(v.Values) {
		return nil
	}

	scale := columnScales(hist)
	type dimErr struct {
		name string
		err  float64
	}
	errs := make([]dimErr, len(d.schema))
	for i, name := range d.schema {
		errs[i] = dimErr{name: name, err: math.Abs(v.Values[i]-pred[i]) / scale[i]}
	}
	sort.Slice(errs, func(a, b int) bool {
		if errs[a].err != errs[b].err {
			return errs[a].err > errs[b].err
		}
		return errs[a].name < errs[b].name
	})
	if k > len(errs) {
		k = len(errs)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = errs[i].name
	}
	return out
}

// BreakerState reports the model circuit breaker state for monitoring.
func (d *TemporalDetector) BreakerState() string {
	return d.breaker.State().String()
}

func (d *TemporalDetector) snapshotHistory(source string) [][]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.history[source]
	if !ok {
		return nil
	}
	return h.ordered()
}

func (d *TemporalDetector) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, h := range d.history {
		if first || h.seen.Before(oldest) {
			oldestKey, oldest, first = k, h.seen, false
		}
	}
	if oldestKey != "" {
		delete(d.history, oldestKey)
	}
}

// reconstructionError is the mean per-dimension absolute error, each
// dimension scaled by its spread in the history window so one big-valued
// feature cannot dominate.
func (d *TemporalDetector) reconstructionError(obs, pred []float64, hist [][]float64) float64 {
	scale := columnScales(hist)
	sum := 0.0
	for i := range obs {
		sum += math.Abs(obs[i]-pred[i]) / scale[i]
	}
	return sum / float64(len(obs))
}

// columnScales returns max(range, 1) per column of the history window.
func columnScales(hist [][]float64) []float64 {
	dims := len(hist[0])
	lo := make([]float64, dims)
	hi := make([]float64, dims)
	copy(lo, hist[0])
	copy(hi, hist[0])
	for _, row := range hist[1:] {
		for i, x := range row {
			if x < lo[i] {
				lo[i] = x
			}
			if x > hi[i] {
				hi[i] = x
			}
		}
	}
	out := make([]float64, dims)
	for i := range out {
		r := hi[i] - lo[i]
		if r < 1 {
			r = 1
		}
		out[i] = r
	}
	return out
}
