// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

// Package supervisor builds the suture v4 supervision tree for the kestrel
// daemon.
//
// Layout:
//
//	kestrel (root)
//	├── detection-layer    correlation janitor, feedback retrainer
//	├── messaging-layer    bus consumers, demo feeder
//	└── ops-layer          health and metrics HTTP server
//
// Each layer is its own supervisor, so restarts stay local: a panicking
// bus consumer does not interrupt retraining, and the ops endpoints stay
// up while detection services recover. Supervisor events are logged via
// sutureslog through the application's slog bridge.
//
// Services implement suture.Service: a blocking Serve(ctx) that returns
// when the context is canceled. HTTPServerService adapts net/http's
// ListenAndServe/Shutdown pair to that contract.
package supervisor
