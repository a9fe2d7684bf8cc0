// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package main

import (
	"fmt"

	"github.com/kestrelsec/kestrel/internal/alert"
	"github.com/kestrelsec/kestrel/internal/baseline"
	"github.com/kestrelsec/kestrel/internal/bus"
	"github.com/kestrelsec/kestrel/internal/classify"
	"github.com/kestrelsec/kestrel/internal/config"
	"github.com/kestrelsec/kestrel/internal/correlate"
	"github.com/kestrelsec/kestrel/internal/detect"
	"github.com/kestrelsec/kestrel/internal/explain"
	"github.com/kestrelsec/kestrel/internal/feature"
	"github.com/kestrelsec/kestrel/internal/feedback"
	"github.com/kestrelsec/kestrel/internal/logging"
	"github.com/kestrelsec/kestrel/internal/metrics"
	"github.com/kestrelsec/kestrel/internal/pipeline"
)

// app is the assembled detection stack: every stage built from one Config,
// wired together and ready to hang off the supervisor tree.
type app struct {
	schema     feature.Schema
	baselines  *baseline.Store
	ensemble   *detect.Ensemble
	classifier *classify.Classifier
	correlator *correlate.Engine
	loop       *feedback.Loop
	retrainer  *feedback.Retrainer
	bus        *bus.Bus
	pipe       *pipeline.Pipeline
}

// buildApp constructs the full pipeline from configuration.
func buildApp(cfg *config.Config) (*app, error) {
	schema := feature.DefaultSchema()

	baselines := baseline.NewStore(schema, baseline.Config{
		WindowSize:    cfg.Baseline.WindowSize,
		MinSamples:    cfg.Baseline.MinSamples,
		SnapshotEvery: cfg.Baseline.SnapshotEvery,
	})

	structural := detect.NewStructuralDetector(schema, detect.StructuralConfig{
		NumTrees:   cfg.Structural.NumTrees,
		SampleSize: cfg.Structural.SampleSize,
		Seed:       cfg.Structural.Seed,
	})
	statistical := detect.NewStatisticalDetector(schema, detect.StatisticalConfig{
		ZScale: cfg.Statistical.ZScale,
	})
	temporal := detect.NewTemporalDetector(schema, detect.TemporalConfig{
		HistorySize:     cfg.Temporal.HistorySize,
		MinHistory:      cfg.Temporal.MinHistory,
		MaxSources:      cfg.Temporal.MaxSources,
		BreakerFailures: uint32(cfg.Temporal.BreakerFailures),
		BreakerTimeout:  cfg.Temporal.BreakerTimeout,
	}, detect.EWMAModel{Alpha: cfg.Temporal.Alpha})

	ensemble, err := detect.NewEnsemble(detect.EnsembleConfig{
		Threshold:     cfg.Ensemble.Threshold,
		AgreementBand: cfg.Ensemble.AgreementBand,
		Weights: map[detect.ModelID]float64{
			detect.ModelStructural:  cfg.Ensemble.StructuralWeight,
			detect.ModelStatistical: cfg.Ensemble.StatisticalWeight,
			detect.ModelTemporal:    cfg.Ensemble.TemporalWeight,
		},
	}, structural, statistical, temporal)
	if err != nil {
		return nil, fmt.Errorf("build ensemble: %w", err)
	}

	classifier := classify.NewClassifier(schema, classify.Config{
		ConfidenceFloor: cfg.Classify.ConfidenceFloor,
		Sharpness:       cfg.Classify.Sharpness,
	})
	explainer := explain.NewGenerator(schema, explain.Config{TopK: cfg.Explain.TopK}, statistical,
		map[detect.ModelID]detect.Attributor{
			detect.ModelStructural: structural,
			detect.ModelTemporal:   temporal,
		})

	alerts := alert.NewMemoryStore(cfg.Alert.StoreCapacity)
	tiers := alert.Thresholds{
		Critical: cfg.Alert.CriticalThreshold,
		Warning:  cfg.Alert.WarningThreshold,
	}

	correlator := correlate.NewEngine(correlate.Config{
		Window:        cfg.Correlate.Window,
		Grace:         cfg.Correlate.Grace,
		Debounce:      cfg.Correlate.Debounce,
		MaxIncidents:  cfg.Correlate.MaxIncidents,
		SweepInterval: cfg.Correlate.JanitorInterval,
	})
	correlator.SetExhaustedHook(metrics.IncidentTableExhaustions.Inc)

	loop := feedback.NewLoop(feedback.Config{
		DownWeight:        cfg.Feedback.DownWeight,
		CorpusSize:        cfg.Feedback.CorpusSize,
		MinRetrainSamples: cfg.Feedback.MinRetrainSamples,
		Structural: detect.StructuralConfig{
			NumTrees:   cfg.Structural.NumTrees,
			SampleSize: cfg.Structural.SampleSize,
			Seed:       cfg.Structural.Seed,
		},
	}, schema, alerts, feedback.NewMemoryStore(), ensemble, baselines)
	retrainer := feedback.NewRetrainer(loop, cfg.Feedback.RetrainInterval)

	eventBus := bus.New(bus.Config{BufferSize: int64(cfg.Bus.BufferSize)})

	pipe, err := pipeline.New(schema, pipeline.Config{ScoreTimeout: cfg.Pipeline.ScoreTimeout}, pipeline.Deps{
		Baselines:  baselines,
		Ensemble:   ensemble,
		Temporal:   temporal,
		Classifier: classifier,
		Explainer:  explainer,
		Alerts:     alerts,
		Tiers:      tiers,
		Correlator: correlator,
		Feedback:   loop,
		Bus:        eventBus,
	})
	if err != nil {
		_ = eventBus.Close()
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	return &app{
		schema:     schema,
		baselines:  baselines,
		ensemble:   ensemble,
		classifier: classifier,
		correlator: correlator,
		loop:       loop,
		retrainer:  retrainer,
		bus:        eventBus,
		pipe:       pipe,
	}, nil
}

// applyConfig pushes the hot-reloadable knobs from a freshly loaded
// configuration into the running components. Rejected values are logged
// and the previous setting stays in force.
func (a *app) applyConfig(updated *config.Config) {
	if err := a.ensemble.SetThreshold(updated.Ensemble.Threshold, updated.Ensemble.AgreementBand); err != nil {
		logging.Error().Err(err).Msg("Threshold update rejected")
	}
	if err := a.ensemble.SetWeights(map[detect.ModelID]float64{
		detect.ModelStructural:  updated.Ensemble.StructuralWeight,
		detect.ModelStatistical: updated.Ensemble.StatisticalWeight,
		detect.ModelTemporal:    updated.Ensemble.TemporalWeight,
	}); err != nil {
		logging.Error().Err(err).Msg("Weight update rejected")
	}
	if err := a.correlator.SetTimings(updated.Correlate.Window, updated.Correlate.Grace, updated.Correlate.Debounce); err != nil {
		logging.Error().Err(err).Msg("Correlation timing update rejected")
	}
	if err := a.classifier.SetConfidenceFloor(updated.Classify.ConfidenceFloor); err != nil {
		logging.Error().Err(err).Msg("Confidence floor update rejected")
	}
	if err := a.baselines.SetMinSamples(updated.Baseline.MinSamples); err != nil {
		logging.Error().Err(err).Msg("Baseline minimum update rejected")
	}
}

// ready reports whether the baseline has learned enough to score.
func (a *app) ready() bool {
	p := a.baselines.Snapshot()
	return p != nil && !p.InsufficientData
}
