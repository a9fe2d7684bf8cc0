// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package main

import (
	"context"
	"time"

	"github.com/kestrelsec/kestrel/internal/feature"
	"github.com/kestrelsec/kestrel/internal/feedback"
	"github.com/kestrelsec/kestrel/internal/logging"
	"github.com/kestrelsec/kestrel/internal/pipeline"
	"github.com/kestrelsec/kestrel/internal/simulate"
)

// warmupWindows is the number of benign vectors fed before the first
// scenario starts, enough to fill the baseline minimum and train the
// structural forest.
const warmupWindows = 60

// demoFeeder drives the pipeline with synthetic traffic when demo mode is
// enabled: a benign warmup phase, an initial detector training pass, then
// staged intrusion scenarios looping indefinitely.
type demoFeeder struct {
	pipe   *pipeline.Pipeline
	loop   *feedback.Loop
	gen    *simulate.Generator
	rate   time.Duration
	source string
}

func newDemoFeeder(pipe *pipeline.Pipeline, loop *feedback.Loop, schema feature.Schema, rate time.Duration) *demoFeeder {
	if rate <= 0 {
		rate = 100 * time.Millisecond
	}
	return &demoFeeder{
		pipe:   pipe,
		loop:   loop,
		gen:    simulate.NewGenerator(schema, time.Now().UnixNano()),
		rate:   rate,
		source: "demo-host-01",
	}
}

func (f *demoFeeder) String() string { return "demo-feeder" }

func (f *demoFeeder) Serve(ctx context.Context) error {
	logging.Info().Dur("rate", f.rate).Msg("Demo feeder started")

	vectors := f.gen.Stream(f.source, time.Now(), f.rate, warmupWindows)
	for _, v := range vectors {
		if err := f.feed(ctx, v); err != nil {
			return err
		}
	}
	if err := f.loop.Retrain(ctx); err != nil {
		logging.Warn().Err(err).Msg("Demo warmup retrain failed")
	}

	scenarios := []simulate.Scenario{
		simulate.APTScenario(),
		simulate.DDoSScenario(),
		simulate.InsiderScenario(),
	}
	for i := 0; ; i++ {
		s := scenarios[i%len(scenarios)]
		logging.Info().Str("scenario", s.Name).Msg("Demo scenario starting")
		for _, v := range f.gen.Run(s, f.source, time.Now(), f.rate) {
			if err := f.feed(ctx, v); err != nil {
				return err
			}
		}
	}
}

// feed waits for the next tick and pushes one vector through the pipeline.
// Scoring errors are logged, not fatal: a single bad window must not take
// the feeder down.
func (f *demoFeeder) feed(ctx context.Context, v *feature.Vector) error {
	t := time.NewTimer(f.rate)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	if _, err := f.pipe.Process(ctx, v); err != nil {
		logging.Warn().Err(err).Str("source", v.Source).Msg("Demo vector rejected")
	}
	return nil
}
