// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

// Package feedback closes the loop between operators and the detectors.
//
// Operators submit verdicts on emitted alerts: ACKNOWLEDGED confirms a
// true positive, FALSE_POSITIVE labels a wrong alert, MISSED back-fills
// a detection gap. Records are append-only and idempotent under replay;
// historical alerts are never mutated.
//
// Verdicts accumulate into labeled corpora and staged weight changes.
// The Retrainer periodically rebuilds the structural detector from the
// current baseline window, validates the candidate against the
// false-positive corpus, and promotes forest, weights and any staged
// baseline atomically. A failed run discards the staged artifacts and
// waits for the next schedule.
package feedback
