// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

// Package feature defines the feature vector data model consumed by the
// detection pipeline: the fixed-dimension ordered Schema, the immutable
// Vector (values + timestamp + source identity) and input validation.
//
// Feature vectors are produced by an out-of-scope extraction collaborator;
// this package only validates and addresses them. Vectors with wrong
// dimensionality or non-finite values are rejected with ErrMalformedVector
// before they ever reach a detector.
package feature
