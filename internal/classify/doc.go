// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

// Package classify labels anomalous feature vectors with an attack
// category from a closed, versioned set.
//
// Classification is signature-based: each attack type carries a weighted
// table of feature expectations (counts and ratios above per-feature
// thresholds), the vector is scored against every table, and the winner's
// confidence is calibrated by softmax over all candidate scores. Below a
// confidence floor the label degrades to AttackUnknown while the ranked
// alternatives keep the true top candidate visible to operators.
//
// The classifier is pure and infallible on the hot path: it holds no
// mutable state, takes no locks, and never returns an error, so alert
// emission can never be blocked by classification.
package classify
