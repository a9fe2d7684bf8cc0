// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package simulate

import (
	"math/rand"
	"time"

	"github.com/kestrelsec/kestrel/internal/classify"
	"github.com/kestrelsec/kestrel/internal/feature"
)

// Intensity scales attack feature magnitudes.
type Intensity string

const (
	IntensityLow    Intensity = "low"
	IntensityMedium Intensity = "medium"
	IntensityHigh   Intensity = "high"
)

func (i Intensity) factor() float64 {
	switch i {
	case IntensityLow:
		return 1.0
	case IntensityHigh:
		return 4.0
	default:
		return 2.0
	}
}

// Generator produces synthetic observation windows over a schema: steady
// baseline traffic and attack windows whose indicator features are pushed
// well past the classifier's signature thresholds. Output is deterministic
// for a given seed.
type Generator struct {
	schema feature.Schema
	rng    *rand.Rand
}

// NewGenerator creates a seeded generator for the schema.
func NewGenerator(schema feature.Schema, seed int64) *Generator {
	return &Generator{
		schema: schema,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// baseProfile is the per-feature center of benign traffic. Features absent
// from the map default to 0 with small jitter, which matches quiet
// indicator counters.
var baseProfile = map[string]float64{
	"packet_count":       900,
	"avg_packet_size":    620,
	"max_packet_size":    1500,
	"std_packet_size":    180,
	"tcp_ratio":          0.82,
	"udp_ratio":          0.15,
	"icmp_ratio":         0.03,
	"unique_src_ports":   40,
	"unique_dst_ports":   12,
	"unique_src_ips":     8,
	"unique_dst_ips":     6,
	"syn_count":          45,
	"ack_count":          700,
	"rst_count":          4,
	"fin_count":          40,
	"syn_ack_ratio":      0.065,
	"packet_rate":        150,
	"avg_payload_size":   420,
	"zero_payload_ratio": 0.05,
	"warning_ratio":      0.02,
	"critical_ratio":     0.005,
}

// Normal returns a benign window for the source: baseline values with
// ±10% noise, indicator counters near zero.
func (g *Generator) Normal(source string, ts time.Time) *feature.Vector {
	values := make([]float64, len(g.schema))
	for i, name := range g.schema {
		base, ok := baseProfile[name]
		if !ok {
			// Indicator counters idle at 0..1.
			values[i] = g.rng.Float64()
			continue
		}
		noise := 1 + (g.rng.Float64()-0.5)*0.2
		values[i] = base * noise
	}
	return feature.NewVector(source, ts, values)
}

// attackOverrides lists the features each attack inflates, at medium
// intensity. Values sit comfortably past the classifier signature
// thresholds so detection exercises the full pipeline rather than edge
// cases.
var attackOverrides = map[classify.AttackType]map[string]float64{
	classify.AttackPortScan: {
		"unique_dst_ports":   2000,
		"syn_count":          2000,
		"packet_rate":        2500,
		"zero_payload_ratio": 0.95,
		"syn_ack_ratio":      0.9,
		"port_scan_count":    40,
	},
	classify.AttackBruteForce: {
		"failed_login_count": 60,
		"warning_ratio":      0.6,
		"packet_rate":        400,
	},
	classify.AttackSQLInjection: {
		"sql_injection_count":         15,
		"suspicious_command_count":    20,
		"avg_payload_size":            260,
		"total_suspicious_indicators": 35,
	},
	classify.AttackDoS: {
		"packet_rate":  20000,
		"packet_count": 40000,
		"syn_count":    15000,
		"tcp_ratio":    0.99,
	},
	classify.AttackExfiltration: {
		"avg_payload_size": 1300,
		"unique_dst_ips":   120,
		"packet_count":     5000,
	},
	classify.AttackMalware: {
		"port_scan_count":            20,
		"privilege_escalation_count": 10,
		"unique_dst_ips":             60,
	},
	classify.AttackPrivEsc: {
		"privilege_escalation_count": 12,
		"access_violation_count":     18,
		"critical_ratio":             0.3,
	},
	classify.AttackLateralMove: {
		"unique_dst_ips":         80,
		"failed_login_count":     25,
		"access_violation_count": 10,
	},
}

// Attack returns a window for the source with the attack's indicator
// features inflated by intensity on top of a benign base. Unknown attack
// types fall back to a benign window.
func (g *Generator) Attack(source string, ts time.Time, attack classify.AttackType, intensity Intensity) *feature.Vector {
	v := g.Normal(source, ts)
	overrides, ok := attackOverrides[attack]
	if !ok {
		return v
	}
	f := intensity.factor()
	for name, val := range overrides {
		idx := g.schema.Index(name)
		if idx < 0 {
			continue
		}
		// Ratios cap at 1 regardless of intensity.
		if val <= 1 {
			v.Values[idx] = min(val, 1)
			continue
		}
		v.Values[idx] = val * f * (0.9 + g.rng.Float64()*0.2)
	}
	return v
}

// Stream produces n benign windows for the source, one per step, starting
// at start.
func (g *Generator) Stream(source string, start time.Time, step time.Duration, n int) []*feature.Vector {
	out := make([]*feature.Vector, n)
	for i := 0; i < n; i++ {
		out[i] = g.Normal(source, start.Add(time.Duration(i)*step))
	}
	return out
}

// Scenario is a multi-stage intrusion: ordered attack waves against one
// source, interleaved with benign cover traffic.
type Scenario struct {
	Name   string
	Stages []Stage
}

// Stage is one wave of a scenario.
type Stage struct {
	Attack    classify.AttackType
	Intensity Intensity
	Windows   int
}

// APTScenario walks reconnaissance, initial access, exploitation and
// exfiltration, mirroring a staged intrusion.
func APTScenario() Scenario {
	return Scenario{
		Name: "advanced-persistent-threat",
		Stages: []Stage{
			{Attack: classify.AttackPortScan, Intensity: IntensityLow, Windows: 6},
			{Attack: classify.AttackBruteForce, Intensity: IntensityMedium, Windows: 8},
			{Attack: classify.AttackSQLInjection, Intensity: IntensityMedium, Windows: 6},
			{Attack: classify.AttackExfiltration, Intensity: IntensityHigh, Windows: 10},
		},
	}
}

// DDoSScenario is a single sustained volumetric wave.
func DDoSScenario() Scenario {
	return Scenario{
		Name: "distributed-denial-of-service",
		Stages: []Stage{
			{Attack: classify.AttackDoS, Intensity: IntensityHigh, Windows: 20},
		},
	}
}

// InsiderScenario escalates privileges then drains data.
func InsiderScenario() Scenario {
	return Scenario{
		Name: "insider-data-theft",
		Stages: []Stage{
			{Attack: classify.AttackPrivEsc, Intensity: IntensityLow, Windows: 5},
			{Attack: classify.AttackExfiltration, Intensity: IntensityHigh, Windows: 12},
		},
	}
}

// Run expands a scenario into the full window sequence for the source.
func (g *Generator) Run(s Scenario, source string, start time.Time, step time.Duration) []*feature.Vector {
	var out []*feature.Vector
	ts := start
	for _, stage := range s.Stages {
		for i := 0; i < stage.Windows; i++ {
			out = append(out, g.Attack(source, ts, stage.Attack, stage.Intensity))
			ts = ts.Add(step)
		}
	}
	return out
}
