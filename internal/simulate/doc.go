// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

// Package simulate generates synthetic observation windows for tests and
// the daemon's demo mode: benign baseline traffic with bounded noise, single
// attack windows per attack type and intensity, and multi-stage intrusion
// scenarios (APT, DDoS, insider theft). Generators are seeded and
// deterministic.
package simulate
