// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

// Package pipeline orchestrates the detection stages for one vector:
//
//	validate -> baseline snapshot -> ensemble score
//	    NORMAL    -> baseline update, temporal observe
//	    ANOMALOUS -> classify -> explain -> alert -> correlate -> publish
//
// Scoring runs against an immutable profile snapshot, so a vector never
// influences its own verdict. Vectors judged normal are folded into the
// baseline; anomalous vectors are not, keeping sustained attacks from
// becoming the new normal. The temporal detector observes every scored
// vector either way, since its per-source window models the sequence as
// it actually happened.
//
// Failures degrade per stage: a malformed vector is a data-quality
// reject, an unscoreable vector is an operational error, and a failed
// publish is logged without blocking alerting.
package pipeline
