// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scoring hot path

	VectorsScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_vectors_scored_total",
			Help: "Feature vectors scored, by decision (normal, anomalous, unscoreable)",
		},
		[]string{"decision"},
	)

	ScoringDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kestrel_scoring_duration_seconds",
			Help:    "End-to-end per-vector pipeline latency in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	DataQualityRejects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_data_quality_rejects_total",
			Help: "Vectors rejected before scoring (wrong dimensionality, NaN/Inf)",
		},
	)

	DetectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_detector_errors_total",
			Help: "Sub-detector failures excluded from ensemble scores",
		},
		[]string{"model"},
	)

	// Alerts and incidents

	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_alerts_total",
			Help: "Alerts emitted, by attack type and severity",
		},
		[]string{"attack_type", "severity"},
	)

	IncidentsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kestrel_incidents_open",
			Help: "Incidents currently open",
		},
	)

	IncidentsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_incidents_created_total",
			Help: "Incidents opened (re-opens excluded)",
		},
	)

	IncidentTableExhaustions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_incident_table_exhaustions_total",
			Help: "Times the bounded incident table hit capacity and evicted",
		},
	)

	// Feedback and adaptation

	FeedbackRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_feedback_records_total",
			Help: "Feedback records accepted, by verdict",
		},
		[]string{"verdict"},
	)

	Promotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_promotions_total",
			Help: "Retraining promotions, by outcome (promoted, discarded)",
		},
		[]string{"outcome"},
	)

	BaselineSamples = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kestrel_baseline_samples",
			Help: "Samples accumulated in the active baseline profile",
		},
	)
)

// ObserveScoring records one scored vector with its pipeline latency.
func ObserveScoring(decision string, d time.Duration) {
	VectorsScored.WithLabelValues(decision).Inc()
	ScoringDuration.Observe(d.Seconds())
}

// RecordAlert records an emitted alert.
func RecordAlert(attackType, severity string) {
	AlertsEmitted.WithLabelValues(attackType, severity).Inc()
}

// RecordDetectorError records one excluded sub-detector failure.
func RecordDetectorError(model string) {
	DetectorErrors.WithLabelValues(model).Inc()
}

// RecordFeedback records one accepted feedback verdict.
func RecordFeedback(verdict string) {
	FeedbackRecords.WithLabelValues(verdict).Inc()
}

// RecordPromotion records a retraining outcome.
func RecordPromotion(promoted bool) {
	if promoted {
		Promotions.WithLabelValues("promoted").Inc()
	} else {
		Promotions.WithLabelValues("discarded").Inc()
	}
}
