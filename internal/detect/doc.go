// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

// Package detect implements the ensemble anomaly scorer: three independent
// detection models combined into one weighted verdict per feature vector.
//
// Scoring Architecture:
//
//	feature.Vector -> Ensemble.Score -> Verdict (NORMAL | ANOMALOUS)
//	                      |
//	            +---------+---------+
//	            v         v         v
//	       structural statistical temporal
//	       (iforest)  (robust z)  (sequence
//	                               reconstruction)
//
// Each sub-detector produces a normalized score in [0,1]; the ensemble
// combines them by configured weight. A detector that fails on a vector
// is excluded from that vector's score and the remaining weights are
// renormalized, so one broken model degrades accuracy instead of
// availability. Only when every detector fails is the vector reported
// unscoreable.
//
// Scores within a narrow band above the ensemble threshold additionally
// require at least two sub-detectors to agree before the vector is
// declared anomalous, which damps single-model false positives near the
// decision boundary.
//
// Detector state is immutable once published: the isolation forest is
// rebuilt and swapped whole on retrain, and the ensemble's detector set,
// weights and threshold live behind a single atomic pointer. Readers
// never observe a half-updated ensemble.
package detect
