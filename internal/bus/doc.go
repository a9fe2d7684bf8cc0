// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

// Package bus is the in-process pub/sub boundary of the pipeline.
//
// Alerts, incident updates and feedback records are published as JSON
// payloads on fixed topics over a Watermill gochannel transport. The
// external alerting surface is a subscriber here; nothing in the
// pipeline knows or cares who is listening.
package bus
