// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

// Package metrics exposes Prometheus instrumentation for the detection
// pipeline. Collectors register themselves with the default registry via
// promauto at init time; the ops server serves them on /metrics.
//
// Counters and gauges are package-level so any stage can record without
// plumbing a registry through constructors. Helper functions exist for
// the multi-field records (scoring outcome plus latency, alert type plus
// severity); single-field updates use the collectors directly.
package metrics
