// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

// Package baseline maintains the per-feature statistical model of "normal"
// telemetry behavior over a bounded sliding window.
//
// Mean and standard deviation are maintained incrementally with Welford's
// method; median and median-absolute-deviation are computed exactly over the
// bounded ring of the most recent window samples. The documented staleness
// bound is Config.SnapshotEvery updates: readers always see a fully
// consistent Profile, at most that many updates behind the accumulator.
//
// The store is double-buffered: the mutable accumulator is the only piece of
// writable shared state and is serialized behind one mutex, while readers
// load an immutable Profile through an atomic pointer. Retraining stages a
// complete replacement (Stage) off the hot path and swaps it in with one
// atomic Promote; cancellation discards staged state without touching the
// active profile.
package baseline
