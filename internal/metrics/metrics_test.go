// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveScoring(t *testing.T) {
	tests := []struct {
		name     string
		decision string
		duration time.Duration
	}{
		{name: "normal vector", decision: "normal", duration: 800 * time.Microsecond},
		{name: "anomalous vector", decision: "anomalous", duration: 3 * time.Millisecond},
		{name: "unscoreable vector", decision: "unscoreable", duration: 100 * time.Microsecond},
		{name: "slow path", decision: "anomalous", duration: 750 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(VectorsScored.WithLabelValues(tt.decision))
			ObserveScoring(tt.decision, tt.duration)
			after := testutil.ToFloat64(VectorsScored.WithLabelValues(tt.decision))
			if after != before+1 {
				t.Errorf("VectorsScored[%s] = %v, want %v", tt.decision, after, before+1)
			}
		})
	}
}

func TestRecordAlert(t *testing.T) {
	before := testutil.ToFloat64(AlertsEmitted.WithLabelValues("port_scan", "warning"))
	RecordAlert("port_scan", "warning")
	RecordAlert("port_scan", "warning")
	after := testutil.ToFloat64(AlertsEmitted.WithLabelValues("port_scan", "warning"))
	if after != before+2 {
		t.Errorf("AlertsEmitted = %v, want %v", after, before+2)
	}

	// Different label pair lands on a different series.
	other := testutil.ToFloat64(AlertsEmitted.WithLabelValues("dos", "critical"))
	RecordAlert("dos", "critical")
	if got := testutil.ToFloat64(AlertsEmitted.WithLabelValues("dos", "critical")); got != other+1 {
		t.Errorf("AlertsEmitted[dos,critical] = %v, want %v", got, other+1)
	}
}

func TestRecordDetectorError(t *testing.T) {
	before := testutil.ToFloat64(DetectorErrors.WithLabelValues("temporal"))
	RecordDetectorError("temporal")
	if got := testutil.ToFloat64(DetectorErrors.WithLabelValues("temporal")); got != before+1 {
		t.Errorf("DetectorErrors = %v, want %v", got, before+1)
	}
}

func TestRecordFeedback(t *testing.T) {
	before := testutil.ToFloat64(FeedbackRecords.WithLabelValues("FALSE_POSITIVE"))
	RecordFeedback("FALSE_POSITIVE")
	if got := testutil.ToFloat64(FeedbackRecords.WithLabelValues("FALSE_POSITIVE")); got != before+1 {
		t.Errorf("FeedbackRecords = %v, want %v", got, before+1)
	}
}

func TestRecordPromotion(t *testing.T) {
	promoted := testutil.ToFloat64(Promotions.WithLabelValues("promoted"))
	discarded := testutil.ToFloat64(Promotions.WithLabelValues("discarded"))

	RecordPromotion(true)
	RecordPromotion(false)
	RecordPromotion(false)

	if got := testutil.ToFloat64(Promotions.WithLabelValues("promoted")); got != promoted+1 {
		t.Errorf("Promotions[promoted] = %v, want %v", got, promoted+1)
	}
	if got := testutil.ToFloat64(Promotions.WithLabelValues("discarded")); got != discarded+2 {
		t.Errorf("Promotions[discarded] = %v, want %v", got, discarded+2)
	}
}

func TestIncidentGauges(t *testing.T) {
	IncidentsOpen.Set(0)
	IncidentsOpen.Inc()
	IncidentsOpen.Inc()
	IncidentsOpen.Dec()
	if got := testutil.ToFloat64(IncidentsOpen); got != 1 {
		t.Errorf("IncidentsOpen = %v, want 1", got)
	}

	before := testutil.ToFloat64(IncidentTableExhaustions)
	IncidentTableExhaustions.Inc()
	if got := testutil.ToFloat64(IncidentTableExhaustions); got != before+1 {
		t.Errorf("IncidentTableExhaustions = %v, want %v", got, before+1)
	}
}

func TestBaselineSamplesGauge(t *testing.T) {
	BaselineSamples.Set(42)
	if got := testutil.ToFloat64(BaselineSamples); got != 42 {
		t.Errorf("BaselineSamples = %v, want 42", got)
	}
}

func TestConcurrentRecording(t *testing.T) {
	before := testutil.ToFloat64(VectorsScored.WithLabelValues("normal"))

	var wg sync.WaitGroup
	const workers = 10
	const perWorker = 100
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				ObserveScoring("normal", time.Millisecond)
				RecordDetectorError("structural")
			}
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(VectorsScored.WithLabelValues("normal")); got != before+workers*perWorker {
		t.Errorf("VectorsScored = %v, want %v", got, before+workers*perWorker)
	}
}

// TestLint gathers the default registry and checks collector hygiene.
func TestLint(t *testing.T) {
	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	if err != nil {
		t.Fatalf("GatherAndLint: %v", err)
	}
	for _, p := range problems {
		t.Errorf("metric %s: %s", p.Metric, p.Text)
	}
}
