// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package config

import (
	"fmt"
	"math"
	"time"

	"github.com/kestrelsec/kestrel/internal/validation"
)

// Config is the root configuration for the kestrel daemon.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Pipeline    PipelineConfig    `koanf:"pipeline"`
	Baseline    BaselineConfig    `koanf:"baseline"`
	Ensemble    EnsembleConfig    `koanf:"ensemble"`
	Structural  StructuralConfig  `koanf:"structural"`
	Statistical StatisticalConfig `koanf:"statistical"`
	Temporal    TemporalConfig    `koanf:"temporal"`
	Classify    ClassifyConfig    `koanf:"classify"`
	Explain     ExplainConfig     `koanf:"explain"`
	Alert       AlertConfig       `koanf:"alert"`
	Correlate   CorrelateConfig   `koanf:"correlate"`
	Feedback    FeedbackConfig    `koanf:"feedback"`
	Bus         BusConfig         `koanf:"bus"`
	Demo        DemoConfig        `koanf:"demo"`
}

// ServerConfig configures the ops HTTP listener (health, metrics).
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// PipelineConfig bounds per-vector processing.
type PipelineConfig struct {
	ScoreTimeout time.Duration `koanf:"score_timeout" validate:"gt=0"`
}

// BaselineConfig configures the sliding-window profile store.
type BaselineConfig struct {
	WindowSize    int `koanf:"window_size" validate:"gte=10"`
	MinSamples    int `koanf:"min_samples" validate:"gte=1"`
	SnapshotEvery int `koanf:"snapshot_every" validate:"gte=1"`
}

// EnsembleConfig configures ensemble scoring and voting.
type EnsembleConfig struct {
	Threshold         float64 `koanf:"threshold" validate:"gt=0,lt=1"`
	AgreementBand     float64 `koanf:"agreement_band" validate:"gte=0,lt=0.5"`
	StructuralWeight  float64 `koanf:"structural_weight" validate:"gte=0"`
	StatisticalWeight float64 `koanf:"statistical_weight" validate:"gte=0"`
	TemporalWeight    float64 `koanf:"temporal_weight" validate:"gte=0"`
}

// StructuralConfig configures the isolation forest detector.
type StructuralConfig struct {
	NumTrees   int   `koanf:"num_trees" validate:"gte=10,lte=1000"`
	SampleSize int   `koanf:"sample_size" validate:"gte=16"`
	Seed       int64 `koanf:"seed"`
}

// StatisticalConfig configures the robust z-score detector.
type StatisticalConfig struct {
	ZScale float64 `koanf:"z_scale" validate:"gt=0"`
}

// TemporalConfig configures the sequence-reconstruction detector.
type TemporalConfig struct {
	HistorySize     int           `koanf:"history_size" validate:"gte=2"`
	MinHistory      int           `koanf:"min_history" validate:"gte=1"`
	MaxSources      int           `koanf:"max_sources" validate:"gte=1"`
	Alpha           float64       `koanf:"alpha" validate:"gt=0,lte=1"`
	BreakerFailures int           `koanf:"breaker_failures" validate:"gte=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// ClassifyConfig configures attack classification.
type ClassifyConfig struct {
	ConfidenceFloor float64 `koanf:"confidence_floor" validate:"gte=0,lt=1"`
	Sharpness       float64 `koanf:"sharpness" validate:"gt=0"`
}

// ExplainConfig configures explanation generation.
type ExplainConfig struct {
	TopK int `koanf:"top_k" validate:"gte=1,lte=50"`
}

// AlertConfig configures severity tiers and alert retention.
type AlertConfig struct {
	CriticalThreshold float64 `koanf:"critical_threshold" validate:"gt=0,lte=1"`
	WarningThreshold  float64 `koanf:"warning_threshold" validate:"gt=0,lte=1"`
	StoreCapacity     int     `koanf:"store_capacity" validate:"gte=100"`
}

// CorrelateConfig configures incident correlation.
type CorrelateConfig struct {
	Window          time.Duration `koanf:"window" validate:"gt=0"`
	Grace           time.Duration `koanf:"grace" validate:"gte=0"`
	Debounce        time.Duration `koanf:"debounce" validate:"gte=0"`
	JanitorInterval time.Duration `koanf:"janitor_interval" validate:"gt=0"`
	MaxIncidents    int           `koanf:"max_incidents" validate:"gte=16"`
}

// FeedbackConfig configures the adaptation loop.
type FeedbackConfig struct {
	DownWeight        float64       `koanf:"down_weight" validate:"gt=0,lte=1"`
	CorpusSize        int           `koanf:"corpus_size" validate:"gte=10"`
	MinRetrainSamples int           `koanf:"min_retrain_samples" validate:"gte=2"`
	RetrainInterval   time.Duration `koanf:"retrain_interval" validate:"gt=0"`
}

// BusConfig configures the in-process message bus.
type BusConfig struct {
	BufferSize int `koanf:"buffer_size" validate:"gte=1"`
}

// DemoConfig configures the synthetic traffic generator.
type DemoConfig struct {
	Enabled bool          `koanf:"enabled"`
	Rate    time.Duration `koanf:"rate" validate:"gt=0"`
}

// Validate checks field constraints and cross-field invariants.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	if c.Baseline.MinSamples > c.Baseline.WindowSize {
		return fmt.Errorf("baseline.min_samples (%d) must not exceed baseline.window_size (%d)",
			c.Baseline.MinSamples, c.Baseline.WindowSize)
	}
	if c.Temporal.MinHistory > c.Temporal.HistorySize {
		return fmt.Errorf("temporal.min_history (%d) must not exceed temporal.history_size (%d)",
			c.Temporal.MinHistory, c.Temporal.HistorySize)
	}

	sum := c.Ensemble.StructuralWeight + c.Ensemble.StatisticalWeight + c.Ensemble.TemporalWeight
	if sum <= 0 || math.IsNaN(sum) {
		return fmt.Errorf("ensemble weights must sum to a positive value, got %v", sum)
	}

	if c.Alert.WarningThreshold >= c.Alert.CriticalThreshold {
		return fmt.Errorf("alert.warning_threshold (%v) must be below alert.critical_threshold (%v)",
			c.Alert.WarningThreshold, c.Alert.CriticalThreshold)
	}

	if c.Correlate.Debounce >= c.Correlate.Window {
		return fmt.Errorf("correlate.debounce (%v) must be below correlate.window (%v)",
			c.Correlate.Debounce, c.Correlate.Window)
	}

	return nil
}
