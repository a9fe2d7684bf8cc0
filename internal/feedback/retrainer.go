// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package feedback

import (
	"context"
	"time"

	"github.com/kestrelsec/kestrel/internal/logging"
)

// Retrainer runs the adaptation loop's retraining on a schedule, off the
// scoring hot path. It is a supervisable service; a failed run is logged
// and waits for the next tick or trigger instead of retrying in a loop.
type Retrainer struct {
	loop     *Loop
	interval time.Duration
	trigger  chan struct{}
}

// NewRetrainer creates a retrainer. Zero interval selects one hour.
func NewRetrainer(loop *Loop, interval time.Duration) *Retrainer {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Retrainer{
		loop:     loop,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an immediate retraining run. Non-blocking; a request
// while one is already pending coalesces.
func (r *Retrainer) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Serve runs until the context is canceled.
func (r *Retrainer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.run(ctx)
		case <-r.trigger:
			r.run(ctx)
		}
	}
}

func (r *Retrainer) run(ctx context.Context) {
	if err := r.loop.Retrain(ctx); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("retraining run failed")
	}
}

// String names the service in supervisor logs.
func (r *Retrainer) String() string { return "feedback-retrainer" }
