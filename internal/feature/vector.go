// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package feature

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedVector indicates a vector that failed validation (wrong
// dimensionality, NaN or Inf values). Malformed vectors are rejected before
// they reach the scorer and counted as data-quality errors; they are never
// silently coerced.
var ErrMalformedVector = errors.New("malformed feature vector")

// Schema is the ordered list of feature names for one pipeline instance.
// Dimensionality is fixed for the lifetime of the pipeline; every Vector
// scored against it must carry exactly len(Schema) values in this order.
type Schema []string

// DefaultSchema mirrors the feature extractor's per-window telemetry summary:
// packet statistics, protocol mix, port/address cardinality, TCP flag counts
// and log-derived indicator counts.
func DefaultSchema() Schema {
	return Schema{
		"packet_count",
		"avg_packet_size",
		"max_packet_size",
		"std_packet_size",
		"tcp_ratio",
		"udp_ratio",
		"icmp_ratio",
		"unique_src_ports",
		"unique_dst_ports",
		"unique_src_ips",
		"unique_dst_ips",
		"syn_count",
		"ack_count",
		"rst_count",
		"fin_count",
		"syn_ack_ratio",
		"packet_rate",
		"avg_payload_size",
		"zero_payload_ratio",
		"failed_login_count",
		"warning_ratio",
		"critical_ratio",
		"port_scan_count",
		"suspicious_command_count",
		"sql_injection_count",
		"privilege_escalation_count",
		"access_violation_count",
		"total_suspicious_indicators",
	}
}

// Index returns the position of name in the schema, or -1 if absent.
func (s Schema) Index(name string) int {
	for i, n := range s {
		if n == name {
			return i
		}
	}
	return -1
}

// Vector is one fixed-dimension observation window: ordered numeric features,
// the window timestamp and the originating source identity. A Vector is
// immutable once produced; the pipeline owns it only for the duration of
// scoring.
type Vector struct {
	Values    []float64 `json:"values"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// NewVector copies values into a fresh Vector so the caller's slice can be
// reused without aliasing the immutable vector.
func NewVector(source string, ts time.Time, values []float64) *Vector {
	v := make([]float64, len(values))
	copy(v, values)
	return &Vector{Values: v, Timestamp: ts, Source: source}
}

// Get returns the value of the named feature under the given schema.
// Returns 0, false when the feature is not part of the schema.
func (v *Vector) Get(schema Schema, name string) (float64, bool) {
	i := schema.Index(name)
	if i < 0 || i >= len(v.Values) {
		return 0, false
	}
	return v.Values[i], true
}

// Validate checks the vector against the schema: exact dimensionality and
// finite values only. Violations are wrapped in ErrMalformedVector.
func (v *Vector) Validate(schema Schema) error {
	if v == nil {
		return fmt.Errorf("%w: nil vector", ErrMalformedVector)
	}
	if len(v.Values) != len(schema) {
		return fmt.Errorf("%w: got %d features, schema requires %d",
			ErrMalformedVector, len(v.Values), len(schema))
	}
	if v.Source == "" {
		return fmt.Errorf("%w: empty source identity", ErrMalformedVector)
	}
	for i, val := range v.Values {
		if math.IsNaN(val) {
			return fmt.Errorf("%w: NaN at feature %q", ErrMalformedVector, schema[i])
		}
		if math.IsInf(val, 0) {
			return fmt.Errorf("%w: Inf at feature %q", ErrMalformedVector, schema[i])
		}
	}
	return nil
}
