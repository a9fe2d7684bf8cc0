// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"kestrel.yaml",
	"kestrel.yml",
	"/etc/kestrel/kestrel.yaml",
	"/etc/kestrel/kestrel.yml",
}

// ConfigPathEnvVar overrides the config file search when set.
const ConfigPathEnvVar = "KESTREL_CONFIG"

// envPrefix scopes environment overrides to this application.
const envPrefix = "KESTREL_"

// Default returns the built-in configuration. Defaults are applied first,
// then overridden by the config file and environment variables.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    9417,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Pipeline: PipelineConfig{
			ScoreTimeout: 2 * time.Second,
		},
		Baseline: BaselineConfig{
			WindowSize:    100,
			MinSamples:    20,
			SnapshotEvery: 8,
		},
		Ensemble: EnsembleConfig{
			Threshold:         0.7,
			AgreementBand:     0.05,
			StructuralWeight:  0.4,
			StatisticalWeight: 0.3,
			TemporalWeight:    0.3,
		},
		Structural: StructuralConfig{
			NumTrees:   100,
			SampleSize: 256,
			Seed:       1,
		},
		Statistical: StatisticalConfig{
			ZScale: 3.0,
		},
		Temporal: TemporalConfig{
			HistorySize:     20,
			MinHistory:      5,
			MaxSources:      10000,
			Alpha:           0.3,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Classify: ClassifyConfig{
			ConfidenceFloor: 0.35,
			Sharpness:       4.0,
		},
		Explain: ExplainConfig{
			TopK: 5,
		},
		Alert: AlertConfig{
			CriticalThreshold: 0.9,
			WarningThreshold:  0.7,
			StoreCapacity:     10000,
		},
		Correlate: CorrelateConfig{
			Window:          5 * time.Minute,
			Grace:           10 * time.Minute,
			Debounce:        30 * time.Second,
			JanitorInterval: time.Minute,
			MaxIncidents:    4096,
		},
		Feedback: FeedbackConfig{
			DownWeight:        0.9,
			CorpusSize:        1000,
			MinRetrainSamples: 30,
			RetrainInterval:   time.Hour,
		},
		Bus: BusConfig{
			BufferSize: 256,
		},
		Demo: DemoConfig{
			Enabled: false,
			Rate:    100 * time.Millisecond,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. KESTREL_* environment variables (highest priority)
func Load() (*Config, error) {
	return loadFrom(findConfigFile())
}

func loadFrom(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the path of the first config file found, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps KESTREL_* environment variables to config paths,
// e.g. KESTREL_ENSEMBLE_THRESHOLD -> ensemble.threshold. Section names
// contain no underscores, so the first underscore splits section from key.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	// KESTREL_CONFIG is handled by findConfigFile, not the tree.
	if key == "config" {
		return ""
	}

	section, rest, found := strings.Cut(key, "_")
	if !found || rest == "" {
		return ""
	}
	if !knownSections[section] {
		return ""
	}
	return section + "." + rest
}

var knownSections = map[string]bool{
	"server":      true,
	"logging":     true,
	"pipeline":    true,
	"baseline":    true,
	"ensemble":    true,
	"structural":  true,
	"statistical": true,
	"temporal":    true,
	"classify":    true,
	"explain":     true,
	"alert":       true,
	"correlate":   true,
	"feedback":    true,
	"bus":         true,
	"demo":        true,
}
