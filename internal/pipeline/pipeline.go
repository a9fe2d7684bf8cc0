// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelsec/kestrel/internal/alert"
	"github.com/kestrelsec/kestrel/internal/baseline"
	"github.com/kestrelsec/kestrel/internal/bus"
	"github.com/kestrelsec/kestrel/internal/classify"
	"github.com/kestrelsec/kestrel/internal/correlate"
	"github.com/kestrelsec/kestrel/internal/detect"
	"github.com/kestrelsec/kestrel/internal/explain"
	"github.com/kestrelsec/kestrel/internal/feature"
	"github.com/kestrelsec/kestrel/internal/feedback"
	"github.com/kestrelsec/kestrel/internal/logging"
	"github.com/kestrelsec/kestrel/internal/metrics"
)

// Config bounds per-vector processing.
type Config struct {
	// ScoreTimeout caps one vector's scoring. A timed-out vector surfaces
	// as unscoreable, never as a silent drop. Default: 2s.
	ScoreTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{ScoreTimeout: 2 * time.Second}
}

// Result is the outcome of processing one vector. Alert and Incident are
// nil for normal vectors.
type Result struct {
	Verdict  *detect.Verdict
	Alert    *alert.Alert
	Incident *correlate.Incident

	// Debounced is true when the alert merged into its incident inside
	// the debounce interval; no incident notification was published.
	Debounced bool
}

// Pipeline wires the detection stages end to end: validation, baseline
// snapshot, ensemble scoring, classification, explanation, alerting,
// correlation and publication. One Pipeline serves all sources.
type Pipeline struct {
	schema     feature.Schema
	cfg        Config
	baselines  *baseline.Store
	ensemble   *detect.Ensemble
	temporal   *detect.TemporalDetector
	classifier *classify.Classifier
	explainer  *explain.Generator
	alerts     alert.Store
	tiers      alert.Thresholds
	correlator *correlate.Engine
	loop       *feedback.Loop
	bus        *bus.Bus
}

// Deps carries the pipeline's collaborators. All fields are required
// except Bus, which may be nil to disable publication (used by tests that
// only exercise scoring).
type Deps struct {
	Baselines  *baseline.Store
	Ensemble   *detect.Ensemble
	Temporal   *detect.TemporalDetector
	Classifier *classify.Classifier
	Explainer  *explain.Generator
	Alerts     alert.Store
	Tiers      alert.Thresholds
	Correlator *correlate.Engine
	Feedback   *feedback.Loop
	Bus        *bus.Bus
}

// New creates a pipeline over the schema.
func New(schema feature.Schema, cfg Config, deps Deps) (*Pipeline, error) {
	if cfg.ScoreTimeout <= 0 {
		cfg.ScoreTimeout = DefaultConfig().ScoreTimeout
	}
	if deps.Baselines == nil || deps.Ensemble == nil || deps.Temporal == nil ||
		deps.Classifier == nil || deps.Explainer == nil || deps.Alerts == nil ||
		deps.Correlator == nil || deps.Feedback == nil {
		return nil, fmt.Errorf("pipeline: missing required dependency")
	}
	return &Pipeline{
		schema:     schema,
		cfg:        cfg,
		baselines:  deps.Baselines,
		ensemble:   deps.Ensemble,
		temporal:   deps.Temporal,
		classifier: deps.Classifier,
		explainer:  deps.Explainer,
		alerts:     deps.Alerts,
		tiers:      deps.Tiers,
		correlator: deps.Correlator,
		loop:       deps.Feedback,
		bus:        deps.Bus,
	}, nil
}

// Process scores one vector and runs the full downstream path for
// anomalies. Malformed vectors are rejected before scoring; unscoreable
// vectors return an error without touching baseline or temporal state.
func (p *Pipeline) Process(ctx context.Context, v *feature.Vector) (*Result, error) {
	start := time.Now()

	if err := v.Validate(p.schema); err != nil {
		metrics.DataQualityRejects.Inc()
		logging.Ctx(ctx).Warn().Err(err).Msg("Rejected malformed vector")
		return nil, err
	}

	profile := p.baselines.Snapshot()
	sc := &detect.Context{Profile: profile}

	scoreCtx, cancel := context.WithTimeout(ctx, p.cfg.ScoreTimeout)
	verdict, err := p.ensemble.Score(scoreCtx, v, sc)
	cancel()
	if err != nil {
		metrics.ObserveScoring("unscoreable", time.Since(start))
		logging.Ctx(ctx).Error().Err(err).Str("source", v.Source).Msg("Vector unscoreable")
		return nil, fmt.Errorf("score %s: %w", v.Source, err)
	}
	p.recordExclusions(verdict)

	// Every scored vector advances the temporal window; an attacker that
	// becomes the new normal is the baseline store's problem, and the
	// baseline only folds vectors judged normal below.
	p.temporal.Observe(v)

	if verdict.Decision == detect.DecisionNormal {
		if uerr := p.baselines.Update(v); uerr != nil {
			logging.Ctx(ctx).Warn().Err(uerr).Str("source", v.Source).Msg("Baseline update failed")
		}
		metrics.BaselineSamples.Set(float64(p.baselines.SampleCount()))
		metrics.ObserveScoring("normal", time.Since(start))
		return &Result{Verdict: verdict}, nil
	}

	res, err := p.emit(ctx, v, profile, verdict)
	metrics.ObserveScoring("anomalous", time.Since(start))
	return res, err
}

// emit runs classification, explanation, alerting and correlation for an
// anomalous verdict.
func (p *Pipeline) emit(ctx context.Context, v *feature.Vector, profile *baseline.Profile, verdict *detect.Verdict) (*Result, error) {
	cls := p.classifier.Classify(v)
	exp := p.explainer.Explain(v, profile, verdict, cls)
	a := alert.New(v, verdict, cls, exp, p.tiers)

	if err := p.alerts.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("save alert %s: %w", a.ID, err)
	}
	metrics.RecordAlert(string(cls.Type), string(a.Severity))

	if p.bus != nil {
		if err := p.bus.PublishAlert(a); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("alert_id", a.ID).Msg("Alert publish failed")
		}
	}

	outcome, err := p.correlator.Ingest(a)
	if err != nil {
		return nil, fmt.Errorf("correlate alert %s: %w", a.ID, err)
	}
	if outcome.Created {
		metrics.IncidentsCreated.Inc()
	}
	metrics.IncidentsOpen.Set(float64(p.correlator.OpenCount()))

	if p.bus != nil && !outcome.Debounced {
		if err := p.bus.PublishIncident(outcome.Incident); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("incident_id", outcome.Incident.ID).Msg("Incident publish failed")
		}
	}

	logging.Ctx(ctx).Info().
		Str("alert_id", a.ID).
		Str("source", a.Source).
		Str("attack", string(cls.Type)).
		Str("severity", string(a.Severity)).
		Float64("score", a.Score).
		Str("incident_id", outcome.Incident.ID).
		Bool("debounced", outcome.Debounced).
		Msg("Anomaly detected")

	return &Result{
		Verdict:   verdict,
		Alert:     a,
		Incident:  outcome.Incident,
		Debounced: outcome.Debounced,
	}, nil
}

// recordExclusions counts sub-detectors that failed to contribute to the
// verdict.
func (p *Pipeline) recordExclusions(verdict *detect.Verdict) {
	contributed := make(map[detect.ModelID]bool, len(verdict.Models))
	for _, m := range verdict.Models {
		contributed[m.Model] = true
	}
	for _, d := range p.ensemble.Detectors() {
		if !contributed[d.Model()] {
			metrics.RecordDetectorError(string(d.Model()))
		}
	}
}

// SubmitFeedback records an operator verdict for an alert and publishes
// it. Replayed submissions return the stored record without side effects.
func (p *Pipeline) SubmitFeedback(ctx context.Context, alertID string, verdict feedback.VerdictType, operator string) (*feedback.Record, error) {
	rec, err := p.loop.Submit(ctx, alertID, verdict, operator)
	if err != nil {
		return nil, err
	}
	metrics.RecordFeedback(string(rec.Verdict))

	if p.bus != nil {
		if perr := p.bus.PublishFeedback(rec); perr != nil {
			logging.Ctx(ctx).Error().Err(perr).Str("alert_id", alertID).Msg("Feedback publish failed")
		}
	}
	return rec, nil
}

// Incidents returns the n highest-priority incidents.
func (p *Pipeline) Incidents(n int) []*correlate.Incident {
	return p.correlator.Top(n)
}

// RecentAlerts returns the most recent alerts, newest first.
func (p *Pipeline) RecentAlerts(ctx context.Context, limit int) ([]*alert.Alert, error) {
	return p.alerts.Recent(ctx, limit)
}
