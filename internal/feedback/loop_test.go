// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package feedback

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kestrelsec/kestrel/internal/alert"
	"github.com/kestrelsec/kestrel/internal/baseline"
	"github.com/kestrelsec/kestrel/internal/detect"
	"github.com/kestrelsec/kestrel/internal/feature"
	"github.com/kestrelsec/kestrel/internal/metrics"
)

func testSchema() feature.Schema {
	return feature.Schema{"a", "b", "c"}
}

type fixture struct {
	loop      *Loop
	alerts    *alert.MemoryStore
	records   *MemoryStore
	ensemble  *detect.Ensemble
	baselines *baseline.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	schema := testSchema()
	structural := detect.NewStructuralDetector(schema, detect.StructuralConfig{NumTrees: 20, SampleSize: 32, Seed: 1})
	statistical := detect.NewStatisticalDetector(schema, detect.StatisticalConfig{})
	temporal := detect.NewTemporalDetector(schema, detect.TemporalConfig{}, nil)
	ens, err := detect.NewEnsemble(detect.DefaultEnsembleConfig(), structural, statistical, temporal)
	if err != nil {
		t.Fatalf("NewEnsemble: %v", err)
	}
	bl := baseline.NewStore(schema, baseline.Config{WindowSize: 100, MinSamples: 5, SnapshotEvery: 8})
	alerts := alert.NewMemoryStore(100)
	records := NewMemoryStore()
	loop := NewLoop(Config{MinRetrainSamples: 10}, schema, alerts, records, ens, bl)
	return &fixture{loop: loop, alerts: alerts, records: records, ensemble: ens, baselines: bl}
}

func (f *fixture) seedBaseline(t *testing.T, n int) {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < n; i++ {
		v := feature.NewVector("host-1", time.Now(), []float64{
			10 + rng.NormFloat64(),
			100 + rng.NormFloat64()*5,
			0.5 + rng.NormFloat64()*0.05,
		})
		if err := f.baselines.Update(v); err != nil {
			t.Fatalf("baseline Update: %v", err)
		}
	}
}

func (f *fixture) storedAlert(t *testing.T, topModel detect.ModelID) *alert.Alert {
	t.Helper()
	a := &alert.Alert{
		ID:     fmt.Sprintf("alert-%d", f.alerts.Len()),
		Source: "host-1",
		Score:  0.92,
		Vector: []float64{90, 400, 3},
		Models: []detect.ModelScore{
			{Model: topModel, Normalized: 0.95, Weight: 0.4},
			{Model: detect.ModelStatistical, Normalized: 0.4, Weight: 0.3},
		},
	}
	if err := f.alerts.Save(context.Background(), a); err != nil {
		t.Fatalf("Save alert: %v", err)
	}
	return a
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.loop.Submit(ctx, "nope", VerdictType("MAYBE"), "op"); !errors.Is(err, ErrInvalidVerdict) {
		t.Errorf("invalid verdict: err = %v, want ErrInvalidVerdict", err)
	}
	if _, err := f.loop.Submit(ctx, "nope", VerdictAcknowledged, "op"); !errors.Is(err, alert.ErrUnknownAlert) {
		t.Errorf("unknown alert: err = %v, want ErrUnknownAlert", err)
	}
}

func TestSubmitFalsePositiveStagesDownWeight(t *testing.T) {
	f := newFixture(t)
	a := f.storedAlert(t, detect.ModelStructural)

	rec, err := f.loop.Submit(context.Background(), a.ID, VerdictFalsePositive, "op")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.ID == "" || rec.Verdict != VerdictFalsePositive {
		t.Errorf("record = %+v", rec)
	}

	staged := f.loop.StagedWeights()
	if staged == nil {
		t.Fatal("no staged weights after false positive")
	}
	want := 0.4 * 0.9
	if staged[detect.ModelStructural] < want-1e-9 || staged[detect.ModelStructural] > want+1e-9 {
		t.Errorf("staged structural weight = %v, want %v", staged[detect.ModelStructural], want)
	}
	if f.loop.Negatives() != 1 {
		t.Errorf("Negatives = %d, want 1", f.loop.Negatives())
	}

	// Staging never touches the live ensemble.
	if w := f.ensemble.Weights()[detect.ModelStructural]; w != 0.4 {
		t.Errorf("live structural weight = %v, want untouched 0.4", w)
	}
}

func TestSubmitIdempotentUnderReplay(t *testing.T) {
	f := newFixture(t)
	a := f.storedAlert(t, detect.ModelStructural)
	ctx := context.Background()

	first, err := f.loop.Submit(ctx, a.ID, VerdictFalsePositive, "op")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	again, err := f.loop.Submit(ctx, a.ID, VerdictFalsePositive, "another-op")
	if err != nil {
		t.Fatalf("replay Submit: %v", err)
	}
	if again.ID != first.ID {
		t.Error("replay produced a new record")
	}
	if f.loop.Negatives() != 1 {
		t.Errorf("Negatives = %d after replay, want 1", f.loop.Negatives())
	}
	// Down-weight applied once, not compounded.
	if w := f.loop.StagedWeights()[detect.ModelStructural]; w < 0.36-1e-9 || w > 0.36+1e-9 {
		t.Errorf("staged weight = %v, want single 0.9 application", w)
	}

	recs, _ := f.records.List(ctx)
	if len(recs) != 1 {
		t.Errorf("stored records = %d, want 1", len(recs))
	}
}

func TestSubmitDistinctVerdictsBothRecorded(t *testing.T) {
	f := newFixture(t)
	a := f.storedAlert(t, detect.ModelStructural)
	ctx := context.Background()

	f.loop.Submit(ctx, a.ID, VerdictAcknowledged, "op")
	f.loop.Submit(ctx, a.ID, VerdictMissed, "op")
	recs, _ := f.records.List(ctx)
	if len(recs) != 2 {
		t.Errorf("stored records = %d, want 2", len(recs))
	}
	if f.loop.Positives() != 2 {
		t.Errorf("Positives = %d, want 2", f.loop.Positives())
	}
}

func TestRetrainInsufficientWindow(t *testing.T) {
	f := newFixture(t)
	if err := f.loop.Retrain(context.Background()); err == nil {
		t.Error("Retrain with empty window succeeded, want error")
	}
}

func TestRetrainPromotesForestAndWeights(t *testing.T) {
	f := newFixture(t)
	f.seedBaseline(t, 60)
	a := f.storedAlert(t, detect.ModelStructural)
	ctx := context.Background()

	if _, err := f.loop.Submit(ctx, a.ID, VerdictFalsePositive, "op"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := f.loop.Retrain(ctx); err != nil {
		t.Fatalf("Retrain: %v", err)
	}

	if f.loop.StagedWeights() != nil {
		t.Error("staged weights not cleared after promote")
	}
	// Promoted weights are renormalized from {0.36, 0.3, 0.3}.
	w := f.ensemble.Weights()
	if w[detect.ModelStructural] >= 0.4 {
		t.Errorf("structural weight = %v, want below original 0.4", w[detect.ModelStructural])
	}
	sum := 0.0
	for _, x := range w {
		sum += x
	}
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("weights sum = %v, want 1", sum)
	}

	// The promoted structural detector is trained.
	for _, d := range f.ensemble.Detectors() {
		if d.Model() == detect.ModelStructural {
			if sd, ok := d.(*detect.StructuralDetector); !ok || !sd.Trained() {
				t.Error("promoted structural detector not trained")
			}
		}
	}
}

func TestRetrainDoesNotIncreaseFalsePositiveScore(t *testing.T) {
	f := newFixture(t)
	f.seedBaseline(t, 60)
	ctx := context.Background()

	// Train the live forest first so the validation comparison is real.
	if err := f.loop.Retrain(ctx); err != nil {
		t.Fatalf("initial Retrain: %v", err)
	}
	var structural detect.Detector
	for _, d := range f.ensemble.Detectors() {
		if d.Model() == detect.ModelStructural {
			structural = d
		}
	}
	fpVector := feature.NewVector("host-1", time.Now(), []float64{90, 400, 3})
	before, err := structural.Score(ctx, fpVector, nil)
	if err != nil {
		t.Fatalf("Score before: %v", err)
	}

	a := f.storedAlert(t, detect.ModelStructural)
	if _, err := f.loop.Submit(ctx, a.ID, VerdictFalsePositive, "op"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := f.loop.Retrain(ctx); err != nil {
		t.Fatalf("Retrain: %v", err)
	}

	for _, d := range f.ensemble.Detectors() {
		if d.Model() == detect.ModelStructural {
			structural = d
		}
	}
	after, err := structural.Score(ctx, fpVector, nil)
	if err != nil {
		t.Fatalf("Score after: %v", err)
	}
	if after.Normalized > before.Normalized+0.011 {
		t.Errorf("false positive score increased after retrain: %.4f -> %.4f", before.Normalized, after.Normalized)
	}
}

func TestRetrainerTriggerCoalesces(t *testing.T) {
	f := newFixture(t)
	r := NewRetrainer(f.loop, time.Hour)
	r.Trigger()
	r.Trigger()
	if len(r.trigger) != 1 {
		t.Errorf("pending triggers = %d, want coalesced 1", len(r.trigger))
	}
}

func TestRetrainerServeStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	r := NewRetrainer(f.loop, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop on cancel")
	}
}

func TestRetrainRefreshesBaseline(t *testing.T) {
	f := newFixture(t)
	f.seedBaseline(t, 60)
	ctx := context.Background()

	before := f.baselines.Snapshot()
	a := f.storedAlert(t, detect.ModelStructural)
	if _, err := f.loop.Submit(ctx, a.ID, VerdictFalsePositive, "op"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := f.loop.Retrain(ctx); err != nil {
		t.Fatalf("Retrain: %v", err)
	}

	after := f.baselines.Snapshot()
	if after.Version <= before.Version {
		t.Errorf("baseline version %d not advanced past %d by retrain", after.Version, before.Version)
	}
	// Window plus the one confirmed false positive.
	if after.SampleCount != 61 {
		t.Errorf("rebuilt baseline SampleCount = %d, want 61", after.SampleCount)
	}
	if f.baselines.HasStaged() {
		t.Error("staged baseline left behind after promote")
	}
}

func TestRetrainRebasesPenaltyOnLiveWeights(t *testing.T) {
	f := newFixture(t)
	f.seedBaseline(t, 60)
	ctx := context.Background()

	a := f.storedAlert(t, detect.ModelStructural)
	if _, err := f.loop.Submit(ctx, a.ID, VerdictFalsePositive, "op"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// A reload lands between the submission and the retrain; the penalty
	// must apply to these weights, not the ones live at submission time.
	if err := f.ensemble.SetWeights(map[detect.ModelID]float64{
		detect.ModelStructural:  0.6,
		detect.ModelStatistical: 0.2,
		detect.ModelTemporal:    0.2,
	}); err != nil {
		t.Fatalf("SetWeights: %v", err)
	}

	if err := f.loop.Retrain(ctx); err != nil {
		t.Fatalf("Retrain: %v", err)
	}

	w := f.ensemble.Weights()
	wantStructural := (0.6 * 0.9) / (0.6*0.9 + 0.2 + 0.2)
	if diff := w[detect.ModelStructural] - wantStructural; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("structural weight = %v, want %v rebased on the reloaded map", w[detect.ModelStructural], wantStructural)
	}
}

func TestRetrainRecordsPromotionOutcomes(t *testing.T) {
	f := newFixture(t)
	f.seedBaseline(t, 60)
	ctx := context.Background()

	promoted := testutil.ToFloat64(metrics.Promotions.WithLabelValues("promoted"))
	if err := f.loop.Retrain(ctx); err != nil {
		t.Fatalf("Retrain: %v", err)
	}
	if got := testutil.ToFloat64(metrics.Promotions.WithLabelValues("promoted")); got != promoted+1 {
		t.Errorf("promoted count = %v, want %v", got, promoted+1)
	}

	// An ensemble without a structural slot cannot accept the candidate;
	// the run must count as discarded.
	schema := testSchema()
	statistical := detect.NewStatisticalDetector(schema, detect.StatisticalConfig{})
	temporal := detect.NewTemporalDetector(schema, detect.TemporalConfig{}, nil)
	ens, err := detect.NewEnsemble(detect.DefaultEnsembleConfig(), statistical, temporal)
	if err != nil {
		t.Fatalf("NewEnsemble: %v", err)
	}
	broken := NewLoop(Config{MinRetrainSamples: 10}, schema, f.alerts, NewMemoryStore(), ens, f.baselines)

	discarded := testutil.ToFloat64(metrics.Promotions.WithLabelValues("discarded"))
	if err := broken.Retrain(ctx); err == nil {
		t.Fatal("Retrain promoted into an ensemble without a structural slot")
	}
	if got := testutil.ToFloat64(metrics.Promotions.WithLabelValues("discarded")); got != discarded+1 {
		t.Errorf("discarded count = %v, want %v", got, discarded+1)
	}
}
