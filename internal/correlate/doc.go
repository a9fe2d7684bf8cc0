// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

// Package correlate groups alerts into incidents and keeps them
// priority-ordered for operators.
//
// Alerts sharing a fingerprint (source identity + attack type) fold into
// one incident. An open incident is extended by every match inside the
// correlation window and closed by the janitor once the window passes
// without one; a closed incident re-opens on a match inside its grace
// period. Matches arriving within the debounce interval still join the
// member list but are flagged so consumers can suppress repeat
// notifications.
//
// Every ingested alert is claimed by exactly one incident. The incident
// table is bounded; at capacity the stalest incident is evicted and the
// exhaustion escalated through the registered hook and the log.
package correlate
