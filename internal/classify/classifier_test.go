// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package classify

import (
	"math"
	"testing"
	"time"

	"github.com/kestrelsec/kestrel/internal/feature"
)

// vectorWith builds a default-schema vector with the named features set
// and everything else zero.
func vectorWith(t *testing.T, features map[string]float64) *feature.Vector {
	t.Helper()
	schema := feature.DefaultSchema()
	values := make([]float64, len(schema))
	for name, val := range features {
		i := schema.Index(name)
		if i < 0 {
			t.Fatalf("feature %q not in default schema", name)
		}
		values[i] = val
	}
	return feature.NewVector("host-1", time.Now(), values)
}

func TestClassifyAttackPatterns(t *testing.T) {
	c := NewClassifier(feature.DefaultSchema(), Config{})

	tests := []struct {
		name     string
		features map[string]float64
		want     AttackType
	}{
		{
			name: "brute_force",
			features: map[string]float64{
				"failed_login_count": 45,
				"warning_ratio":      0.8,
			},
			want: AttackBruteForce,
		},
		{
			name: "port_scan",
			features: map[string]float64{
				"unique_dst_ports": 900,
				"syn_count":        800,
				"packet_rate":      2500,
			},
			want: AttackPortScan,
		},
		{
			name: "dos_flood",
			features: map[string]float64{
				"packet_rate":  20000,
				"packet_count": 50000,
			},
			want: AttackDoS,
		},
		{
			name: "sql_injection",
			features: map[string]float64{
				"sql_injection_count":      12,
				"suspicious_command_count": 15,
			},
			want: AttackSQLInjection,
		},
		{
			name: "data_exfiltration",
			features: map[string]float64{
				"avg_payload_size": 2000,
				"unique_dst_ips":   90,
			},
			want: AttackExfiltration,
		},
		{
			name: "privilege_escalation",
			features: map[string]float64{
				"privilege_escalation_count": 10,
				"access_violation_count":     14,
			},
			want: AttackPrivEsc,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(vectorWith(t, tt.features))
			if res.Type != tt.want {
				t.Errorf("Type = %s, want %s (alternatives %v)", res.Type, tt.want, res.Alternatives)
			}
			if res.Version != SignatureVersion {
				t.Errorf("Version = %d, want %d", res.Version, SignatureVersion)
			}
			if len(res.Indicators) == 0 {
				t.Error("no indicators reported for a matched pattern")
			}
		})
	}
}

func TestClassifyBruteForceConfidence(t *testing.T) {
	c := NewClassifier(feature.DefaultSchema(), Config{})
	res := c.Classify(vectorWith(t, map[string]float64{
		"failed_login_count": 45,
		"warning_ratio":      0.8,
	}))
	if res.Type != AttackBruteForce {
		t.Fatalf("Type = %s, want %s", res.Type, AttackBruteForce)
	}
	if res.Confidence <= 0.8 {
		t.Errorf("Confidence = %.3f, want > 0.8 for an unambiguous pattern", res.Confidence)
	}
}

func TestClassifyBelowFloorIsUnknown(t *testing.T) {
	c := NewClassifier(feature.DefaultSchema(), Config{})
	// Faint traces of several patterns, none convincing.
	res := c.Classify(vectorWith(t, map[string]float64{
		"packet_rate":        100,
		"failed_login_count": 1,
		"unique_dst_ips":     2,
	}))
	if res.Type != AttackUnknown {
		t.Errorf("Type = %s, want %s below confidence floor", res.Type, AttackUnknown)
	}
	if len(res.Alternatives) == 0 {
		t.Fatal("alternatives dropped for an unknown result")
	}
	if res.Alternatives[0].Score <= 0 {
		t.Error("true top candidate missing from alternatives")
	}
}

func TestClassifyZeroVectorUnknownZeroConfidence(t *testing.T) {
	c := NewClassifier(feature.DefaultSchema(), Config{})
	res := c.Classify(vectorWith(t, nil))
	if res.Type != AttackUnknown {
		t.Errorf("Type = %s, want %s", res.Type, AttackUnknown)
	}
	if res.Confidence != 0 {
		t.Errorf("Confidence = %.3f, want 0", res.Confidence)
	}
}

func TestClassifyNilInputsDegrade(t *testing.T) {
	var nilC *Classifier
	if res := nilC.Classify(vectorWith(t, nil)); res.Type != AttackUnknown || res.Confidence != 0 {
		t.Errorf("nil classifier: got %s/%.2f, want unknown/0", res.Type, res.Confidence)
	}
	c := NewClassifier(feature.DefaultSchema(), Config{})
	if res := c.Classify(nil); res.Type != AttackUnknown {
		t.Errorf("nil vector: Type = %s, want %s", res.Type, AttackUnknown)
	}
}

func TestClassifyDeterministicOrdering(t *testing.T) {
	c := NewClassifier(feature.DefaultSchema(), Config{})
	v := vectorWith(t, map[string]float64{
		"failed_login_count": 45,
		"warning_ratio":      0.8,
	})
	first := c.Classify(v)
	for i := 0; i < 5; i++ {
		again := c.Classify(v)
		if again.Type != first.Type || again.Confidence != first.Confidence {
			t.Fatalf("classification not deterministic: %v vs %v", again, first)
		}
		for j, alt := range again.Alternatives {
			if alt != first.Alternatives[j] {
				t.Fatalf("alternative order changed at %d: %v vs %v", j, alt, first.Alternatives[j])
			}
		}
	}
}

func TestAttackTypeClosedSet(t *testing.T) {
	for _, at := range All() {
		if !at.Valid() {
			t.Errorf("All() member %q not Valid()", at)
		}
		if at.BaseWeight() <= 0 || at.BaseWeight() > 1 {
			t.Errorf("BaseWeight(%s) = %v outside (0,1]", at, at.BaseWeight())
		}
	}
	if AttackType("ransomware").Valid() {
		t.Error("non-member type reported Valid()")
	}
}

func TestClassifierSkipsUnknownSchemaFeatures(t *testing.T) {
	// A reduced schema without log-derived features must still classify
	// network patterns and never panic on missing signature features.
	schema := feature.Schema{"packet_count", "packet_rate", "syn_count", "unique_dst_ports"}
	c := NewClassifier(schema, Config{})
	values := []float64{50000, 20000, 100, 10}
	res := c.Classify(feature.NewVector("h", time.Now(), values))
	if res.Type != AttackDoS {
		t.Errorf("Type = %s, want %s on reduced schema", res.Type, AttackDoS)
	}
}

func TestSetConfidenceFloorRaisesBar(t *testing.T) {
	c := NewClassifier(feature.DefaultSchema(), Config{})
	v := vectorWith(t, map[string]float64{
		"failed_login_count": 45,
		"warning_ratio":      0.8,
	})
	if res := c.Classify(v); res.Type != AttackBruteForce {
		t.Fatalf("Type = %s, want %s before raising the floor", res.Type, AttackBruteForce)
	}
	if err := c.SetConfidenceFloor(0.99); err != nil {
		t.Fatalf("SetConfidenceFloor: %v", err)
	}
	if res := c.Classify(v); res.Type != AttackUnknown {
		t.Errorf("Type = %s, want %s above the 0.99 floor", res.Type, AttackUnknown)
	}
}

func TestSetConfidenceFloorRejectsInvalid(t *testing.T) {
	c := NewClassifier(feature.DefaultSchema(), Config{})
	for _, floor := range []float64{0, -0.1, 1, 1.5, math.NaN()} {
		if err := c.SetConfidenceFloor(floor); err == nil {
			t.Errorf("floor %v accepted", floor)
		}
	}
	if got := c.ConfidenceFloor(); got != DefaultConfig().ConfidenceFloor {
		t.Errorf("ConfidenceFloor = %v, want default preserved after rejections", got)
	}
}
