// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

// Package config loads and validates kestrel configuration using koanf v2
// with layered sources:
//
//  1. Built-in defaults (Default)
//  2. Optional YAML file (kestrel.yaml, or KESTREL_CONFIG path)
//  3. KESTREL_* environment variables, e.g. KESTREL_ENSEMBLE_THRESHOLD
//
// Later layers override earlier ones. Every loaded configuration passes
// Validate before use; a reload that fails validation is rejected and the
// previous configuration stays active.
//
// Manager wraps the loaded configuration with file-watch hot reload and a
// subscriber list. Detector thresholds, ensemble weights and correlation
// windows can change at runtime without a restart; structural parameters
// (window sizes, shard counts) take effect on the next restart and
// subscribers are expected to ignore them.
package config
