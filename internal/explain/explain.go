// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package explain

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/kestrelsec/kestrel/internal/baseline"
	"github.com/kestrelsec/kestrel/internal/classify"
	"github.com/kestrelsec/kestrel/internal/detect"
	"github.com/kestrelsec/kestrel/internal/feature"
	"github.com/kestrelsec/kestrel/internal/logging"
)

// Contribution is one feature's share of an anomaly verdict.
type Contribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	BaselineMean float64 `json:"baseline_mean"`

	// DeviationPct is the signed percent deviation against the baseline
	// mean ("+400% vs baseline"). Zero when the baseline mean is zero.
	DeviationPct float64 `json:"deviation_pct"`

	// ZScore is the robust z-score against the baseline.
	ZScore float64 `json:"z_score"`

	// Detectors lists the models that ranked this feature among their top
	// contributing dimensions.
	Detectors []string `json:"detectors,omitempty"`

	Summary string `json:"summary"`
}

// Explanation is the operator-facing account of one alert.
type Explanation struct {
	Summary         string         `json:"summary"`
	Contributions   []Contribution `json:"contributions,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`

	// Stub marks a degraded explanation produced after an internal
	// failure; the alert itself is unaffected.
	Stub bool `json:"stub,omitempty"`
}

// Config configures the explanation generator.
type Config struct {
	// TopK bounds the number of reported feature contributions. Default: 5.
	TopK int `json:"top_k"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{TopK: 5}
}

// Generator turns a verdict, its baseline context and its classification
// into a deterministic human-readable explanation. It is pure over its
// inputs; an internal failure degrades to a stub rather than failing the
// alert.
type Generator struct {
	schema      feature.Schema
	cfg         Config
	stat        *detect.StatisticalDetector
	attributors map[detect.ModelID]detect.Attributor
}

// NewGenerator creates an explanation generator. The statistical detector
// supplies direct per-feature deviations; any additional attributors
// contribute their approximated top dimensions.
func NewGenerator(schema feature.Schema, cfg Config, stat *detect.StatisticalDetector, attributors map[detect.ModelID]detect.Attributor) *Generator {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	return &Generator{schema: schema, cfg: cfg, stat: stat, attributors: attributors}
}

// Stub is the degraded explanation used when generation fails.
func Stub() Explanation {
	return Explanation{Summary: "no detailed explanation available", Stub: true}
}

// Explain builds the explanation for an anomalous vector. Identical
// inputs always produce the identical explanation.
func (g *Generator) Explain(v *feature.Vector, profile *baseline.Profile, verdict *detect.Verdict, cls classify.Result) (exp Explanation) {
	if v == nil || verdict == nil {
		return Stub()
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Str("source", v.Source).
				Msg("explanation generation failed, degrading to stub")
			exp = Stub()
		}
	}()

	contributions := g.contributions(v, profile, verdict)
	if len(contributions) > g.cfg.TopK {
		contributions = contributions[:g.cfg.TopK]
	}

	return Explanation{
		Summary:         g.summary(verdict, cls, contributions),
		Contributions:   contributions,
		Recommendations: Recommendations(cls.Type),
	}
}

// contributions merges the statistical deviations with the attributors'
// top dimensions into one ranked list. A feature's rank is its robust
// z-score plus a vote bonus per detector that singled it out, so a
// dimension flagged by several models outranks an equally deviant one
// flagged by none.
func (g *Generator) contributions(v *feature.Vector, profile *baseline.Profile, verdict *detect.Verdict) []Contribution {
	votes := make(map[string][]string)
	sc := &detect.Context{Profile: profile}
	models := make([]detect.ModelID, 0, len(g.attributors))
	for id := range g.attributors {
		models = append(models, id)
	}
	sort.Slice(models, func(a, b int) bool { return models[a] < models[b] })
	for _, id := range models {
		for _, name := range g.attributors[id].TopDimensions(v, sc, g.cfg.TopK) {
			votes[name] = append(votes[name], string(id))
		}
	}

	type ranked struct {
		c    Contribution
		rank float64
	}
	out := make([]ranked, 0, len(g.schema))

	var devs []detect.Deviation
	if g.stat != nil && profile != nil && !profile.InsufficientData {
		devs = g.stat.Deviations(v, profile)
	}
	for i, name := range g.schema {
		var z float64
		if devs != nil {
			z = devs[i].ZScore
		}
		var mean float64
		if profile != nil && i < len(profile.Features) {
			mean = profile.Features[i].Mean
		}
		voters := votes[name]
		if z < 0.5 && len(voters) == 0 {
			continue
		}
		c := Contribution{
			Feature:      name,
			Value:        v.Values[i],
			BaselineMean: mean,
			DeviationPct: deviationPct(v.Values[i], mean),
			ZScore:       z,
			Detectors:    voters,
		}
		c.Summary = contributionSummary(c)
		out = append(out, ranked{c: c, rank: z + float64(len(voters))})
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].rank != out[b].rank {
			return out[a].rank > out[b].rank
		}
		return out[a].c.Feature < out[b].c.Feature
	})
	result := make([]Contribution, len(out))
	for i, r := range out {
		result[i] = r.c
	}
	return result
}

func (g *Generator) summary(verdict *detect.Verdict, cls classify.Result, contributions []Contribution) string {
	var b strings.Builder
	if cls.Type == classify.AttackUnknown {
		fmt.Fprintf(&b, "Anomalous activity from %s (ensemble score %.2f), attack type unclassified.",
			verdict.Source, verdict.EnsembleScore)
	} else {
		fmt.Fprintf(&b, "Detected %s from %s with %.1f%% confidence (ensemble score %.2f).",
			cls.Type, verdict.Source, cls.Confidence*100, verdict.EnsembleScore)
	}
	if len(contributions) > 0 {
		names := make([]string, 0, len(contributions))
		for _, c := range contributions {
			names = append(names, c.Feature)
		}
		fmt.Fprintf(&b, " Leading indicators: %s.", strings.Join(names, ", "))
	}
	return b.String()
}

// deviationPct is the signed percent deviation of value against the
// baseline mean. A zero mean yields zero; the contribution summary
// reports such features as previously absent activity instead.
func deviationPct(value, mean float64) float64 {
	if math.Abs(mean) < 1e-9 {
		return 0
	}
	return (value - mean) / math.Abs(mean) * 100
}

func contributionSummary(c Contribution) string {
	if math.Abs(c.BaselineMean) < 1e-9 {
		if c.Value == 0 {
			return fmt.Sprintf("%s unchanged at 0", c.Feature)
		}
		return fmt.Sprintf("%s at %.1f, previously absent from baseline", c.Feature, c.Value)
	}
	return fmt.Sprintf("%s at %.1f, %+.1f%% vs baseline (%.1f)", c.Feature, c.Value, c.DeviationPct, c.BaselineMean)
}

// Recommendations returns the operator playbook for an attack type.
func Recommendations(t classify.AttackType) []string {
	switch t {
	case classify.AttackPortScan:
		return []string{
			"Review firewall rules",
			"Monitor source IP for further activity",
			"Consider implementing port knocking",
		}
	case classify.AttackBruteForce:
		return []string{
			"Implement rate limiting",
			"Enforce password policies",
			"Enable MFA on affected accounts",
		}
	case classify.AttackSQLInjection:
		return []string{
			"Review application code for input validation",
			"Update database access controls",
			"Implement parameterized queries",
		}
	case classify.AttackDoS:
		return []string{
			"Activate DDoS mitigation",
			"Block source IP addresses",
			"Scale infrastructure capacity",
		}
	case classify.AttackExfiltration:
		return []string{
			"Block source IP immediately",
			"Review data access logs",
			"Implement data loss prevention",
		}
	case classify.AttackMalware:
		return []string{
			"Isolate the affected host",
			"Run endpoint malware scans",
			"Review outbound connections from the host",
		}
	case classify.AttackPrivEsc:
		return []string{
			"Audit recent privilege changes",
			"Review sudo and admin group membership",
			"Rotate credentials for affected accounts",
		}
	case classify.AttackLateralMove:
		return []string{
			"Segment the affected network zone",
			"Review internal authentication logs",
			"Disable unused remote access services",
		}
	default:
		return []string{
			"Investigate further",
			"Collect forensic evidence",
			"Update security policies",
		}
	}
}
