// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package classify

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/kestrelsec/kestrel/internal/feature"
)

// AttackType is the closed set of attack categories. The set is versioned
// through SignatureVersion; downstream consumers switch exhaustively over
// these values and must treat anything else as AttackUnknown.
type AttackType string

const (
	AttackDoS          AttackType = "dos"
	AttackBruteForce   AttackType = "brute_force"
	AttackMalware      AttackType = "malware"
	AttackPrivEsc      AttackType = "privilege_escalation"
	AttackExfiltration AttackType = "data_exfiltration"
	AttackPortScan     AttackType = "port_scan"
	AttackSQLInjection AttackType = "sql_injection"
	AttackLateralMove  AttackType = "lateral_movement"
	AttackUnknown      AttackType = "unknown"
)

// SignatureVersion identifies the signature table revision carried in
// every Result, so stored classifications remain interpretable after a
// table change.
const SignatureVersion = 1

// All returns every classifiable attack type, AttackUnknown last.
func All() []AttackType {
	return []AttackType{
		AttackDoS, AttackBruteForce, AttackMalware, AttackPrivEsc,
		AttackExfiltration, AttackPortScan, AttackSQLInjection,
		AttackLateralMove, AttackUnknown,
	}
}

// Valid reports whether t is a member of the closed set.
func (t AttackType) Valid() bool {
	switch t {
	case AttackDoS, AttackBruteForce, AttackMalware, AttackPrivEsc,
		AttackExfiltration, AttackPortScan, AttackSQLInjection,
		AttackLateralMove, AttackUnknown:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (t AttackType) String() string { return string(t) }

// BaseWeight is the attack type's severity weight used by incident
// prioritization. Disruptive and data-loss categories rank above
// reconnaissance; unknown sits in the middle so unclassified anomalies
// are not buried.
func (t AttackType) BaseWeight() float64 {
	switch t {
	case AttackDoS:
		return 1.0
	case AttackExfiltration:
		return 0.95
	case AttackPrivEsc:
		return 0.9
	case AttackMalware, AttackLateralMove:
		return 0.85
	case AttackBruteForce, AttackSQLInjection:
		return 0.8
	case AttackPortScan:
		return 0.6
	default:
		return 0.5
	}
}

// Signature is one feature expectation of an attack pattern: the feature
// is suspicious above Threshold, and Weight is its share of the pattern.
type Signature struct {
	Feature   string  `json:"feature"`
	Threshold float64 `json:"threshold"`
	Weight    float64 `json:"weight"`
}

// defaultSignatures is the per-attack feature pattern table. Thresholds
// are per-window counts and ratios matching the default schema.
func defaultSignatures() map[AttackType][]Signature {
	return map[AttackType][]Signature{
		AttackPortScan: {
			{Feature: "unique_dst_ports", Threshold: 50, Weight: 0.45},
			{Feature: "syn_count", Threshold: 200, Weight: 0.35},
			{Feature: "packet_rate", Threshold: 1000, Weight: 0.2},
		},
		AttackBruteForce: {
			{Feature: "failed_login_count", Threshold: 10, Weight: 0.6},
			{Feature: "warning_ratio", Threshold: 0.3, Weight: 0.4},
		},
		AttackSQLInjection: {
			{Feature: "sql_injection_count", Threshold: 3, Weight: 0.6},
			{Feature: "suspicious_command_count", Threshold: 5, Weight: 0.4},
		},
		AttackDoS: {
			{Feature: "packet_rate", Threshold: 5000, Weight: 0.5},
			{Feature: "packet_count", Threshold: 10000, Weight: 0.5},
		},
		AttackExfiltration: {
			{Feature: "avg_payload_size", Threshold: 800, Weight: 0.5},
			{Feature: "unique_dst_ips", Threshold: 30, Weight: 0.5},
		},
		AttackMalware: {
			{Feature: "port_scan_count", Threshold: 5, Weight: 0.5},
			{Feature: "privilege_escalation_count", Threshold: 3, Weight: 0.5},
		},
		AttackPrivEsc: {
			{Feature: "privilege_escalation_count", Threshold: 3, Weight: 0.55},
			{Feature: "access_violation_count", Threshold: 5, Weight: 0.45},
		},
		AttackLateralMove: {
			{Feature: "unique_dst_ips", Threshold: 20, Weight: 0.4},
			{Feature: "failed_login_count", Threshold: 5, Weight: 0.3},
			{Feature: "access_violation_count", Threshold: 3, Weight: 0.3},
		},
	}
}

// Candidate is one ranked classification alternative.
type Candidate struct {
	Type  AttackType `json:"type"`
	Score float64    `json:"score"`
}

// Result is a classification outcome. Type is always a member of the
// closed set; when confidence falls below the floor it is AttackUnknown
// and Alternatives still carries the true top candidate.
type Result struct {
	Type         AttackType  `json:"type"`
	Confidence   float64     `json:"confidence"`
	Indicators   []string    `json:"indicators,omitempty"`
	Alternatives []Candidate `json:"alternatives,omitempty"`
	Version      int         `json:"signature_version"`
}

// Config configures the classifier.
type Config struct {
	// ConfidenceFloor forces the label to unknown below it. Default: 0.35.
	ConfidenceFloor float64 `json:"confidence_floor"`

	// Sharpness is the softmax temperature inverse used for confidence
	// calibration; higher values separate a clear winner from the field
	// more aggressively. Default: 4.
	Sharpness float64 `json:"sharpness"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{ConfidenceFloor: 0.35, Sharpness: 4}
}

// Classifier matches anomalous feature vectors against per-attack
// signature patterns. Classification is pure over the vector and never
// fails: unresolvable input degrades to unknown with zero confidence so
// an alert is always emitted with some label.
type Classifier struct {
	cfg   Config
	sigs  map[AttackType][]Signature
	index map[string]int

	// floorBits holds the hot-reloadable confidence floor as float bits.
	floorBits atomic.Uint64
}

// NewClassifier builds a classifier over the schema using the default
// signature table. Signature features absent from the schema are dropped
// and their weight redistributed over the remaining entries.
func NewClassifier(schema feature.Schema, cfg Config) *Classifier {
	def := DefaultConfig()
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = def.ConfidenceFloor
	}
	if cfg.Sharpness <= 0 {
		cfg.Sharpness = def.Sharpness
	}
	index := make(map[string]int, len(schema))
	for i, name := range schema {
		index[name] = i
	}
	sigs := make(map[AttackType][]Signature)
	for t, entries := range defaultSignatures() {
		kept := make([]Signature, 0, len(entries))
		for _, s := range entries {
			if _, ok := index[s.Feature]; ok {
				kept = append(kept, s)
			}
		}
		if len(kept) > 0 {
			sigs[t] = kept
		}
	}
	c := &Classifier{cfg: cfg, sigs: sigs, index: index}
	c.floorBits.Store(math.Float64bits(cfg.ConfidenceFloor))
	return c
}

// ConfidenceFloor returns the current floor below which labels are
// forced to unknown.
func (c *Classifier) ConfidenceFloor() float64 {
	return math.Float64frombits(c.floorBits.Load())
}

// SetConfidenceFloor updates the floor without interrupting in-flight
// classifications.
func (c *Classifier) SetConfidenceFloor(floor float64) error {
	if floor <= 0 || floor >= 1 || math.IsNaN(floor) {
		return fmt.Errorf("confidence floor %v outside (0, 1)", floor)
	}
	c.floorBits.Store(math.Float64bits(floor))
	return nil
}

// Classify labels the vector with the best-matching attack type.
//
// Per attack type, each signature feature contributes
// min(1, value/(2*threshold)) weighted by its share, so a feature at its
// threshold contributes half strength and saturates at double. The
// winner's confidence is its softmax share over all candidates: a clear
// winner approaches its raw strength, a contested one is damped.
func (c *Classifier) Classify(v *feature.Vector) Result {
	if c == nil || len(c.sigs) == 0 || v == nil {
		return Result{Type: AttackUnknown, Version: SignatureVersion}
	}

	candidates := make([]Candidate, 0, len(c.sigs))
	for t, entries := range c.sigs {
		candidates = append(candidates, Candidate{Type: t, Score: c.matchScore(v, entries)})
	}
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].Score != candidates[b].Score {
			return candidates[a].Score > candidates[b].Score
		}
		return candidates[a].Type < candidates[b].Type
	})

	best := candidates[0]
	confidence := 0.0
	if best.Score > 0 {
		denom := 0.0
		for _, cand := range candidates {
			denom += math.Exp(c.cfg.Sharpness * cand.Score)
		}
		confidence = math.Exp(c.cfg.Sharpness*best.Score) / denom
	}

	res := Result{
		Confidence:   confidence,
		Alternatives: candidates[1:],
		Version:      SignatureVersion,
	}
	if confidence < c.ConfidenceFloor() {
		// Keep the true top candidate visible for the operator.
		res.Type = AttackUnknown
		res.Alternatives = candidates
		return res
	}
	res.Type = best.Type
	res.Indicators = c.indicators(v, c.sigs[best.Type])
	return res
}

func (c *Classifier) matchScore(v *feature.Vector, entries []Signature) float64 {
	score := 0.0
	total := 0.0
	for _, s := range entries {
		total += s.Weight
		x := v.Values[c.index[s.Feature]]
		if x <= 0 || s.Threshold <= 0 {
			continue
		}
		score += s.Weight * math.Min(1, x/(2*s.Threshold))
	}
	if total <= 0 {
		return 0
	}
	return score / total
}

// indicators lists the winning pattern's features observed above their
// thresholds, in signature order.
func (c *Classifier) indicators(v *feature.Vector, entries []Signature) []string {
	out := make([]string, 0, len(entries))
	for _, s := range entries {
		if v.Values[c.index[s.Feature]] > s.Threshold {
			out = append(out, s.Feature)
		}
	}
	return out
}
