// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

// Package explain generates the operator-facing account of an alert:
// which features drove the anomaly, how far each sits from the baseline,
// and what to do about the classified attack type.
//
// The statistical detector's per-feature deviations are attributed
// directly; the structural and temporal models contribute through their
// reported top dimensions, which add voting weight to the ranking. The
// output is deterministic for identical inputs, and any internal failure
// degrades to a stub explanation so alert emission is never blocked.
package explain
