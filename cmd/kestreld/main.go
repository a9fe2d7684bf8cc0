// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

// Package main is the entry point for the kestrel daemon.
//
// Kestrel scores fixed-dimension telemetry feature vectors in real time
// against a learned baseline, classifies anomalies into attack categories,
// correlates the resulting alerts into incidents and adapts its detectors
// from operator feedback.
//
// # Application Architecture
//
// The daemon initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 loading with file-watch hot reload
//  2. Logging: zerolog, configured from the loaded settings
//  3. Detection state: baseline store, sub-detectors, ensemble
//  4. Downstream stages: classifier, explainer, alert store, correlation
//  5. Messaging: in-process Watermill bus for alerts and incidents
//  6. Supervision: suture tree hosting the janitor, retrainer, demo
//     feeder and the ops HTTP server
//
// # Configuration
//
// Settings come from built-in defaults, an optional kestrel.yaml (or the
// KESTREL_CONFIG path) and KESTREL_* environment variables, highest
// priority last. Detector thresholds and ensemble weights are
// hot-reloadable; structural settings take effect on restart.
//
// # Demo Mode
//
// With KESTREL_DEMO_ENABLED=true the daemon feeds itself synthetic
// traffic: benign windows to learn a baseline, then staged intrusion
// scenarios. Useful for evaluating the pipeline without a collector.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the supervisor tree stops
// its services, the ops server drains in-flight requests and unstopped
// services are reported before exit.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/kestrelsec/kestrel/internal/config"
	"github.com/kestrelsec/kestrel/internal/logging"
	"github.com/kestrelsec/kestrel/internal/ops"
	"github.com/kestrelsec/kestrel/internal/supervisor"
)

func main() {
	mgr, err := config.NewManager()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg := mgr.Current()

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Int("ops_port", cfg.Server.Port).
		Bool("demo", cfg.Demo.Enabled).
		Msg("Starting kestrel")

	a, err := buildApp(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build pipeline")
	}
	defer func() {
		if cerr := a.bus.Close(); cerr != nil {
			logging.Error().Err(cerr).Msg("Error closing bus")
		}
	}()

	// Hot-reloadable tuning: thresholds, weights, timings, floors.
	mgr.Subscribe(func(_, updated *config.Config) { a.applyConfig(updated) })
	if err := mgr.Watch(); err != nil {
		logging.Warn().Err(err).Msg("Config watch unavailable, hot reload disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.Timeout,
	})
	tree.AddDetectionService(a.correlator)
	tree.AddDetectionService(a.retrainer)

	if cfg.Demo.Enabled {
		tree.AddMessagingService(newDemoFeeder(a.pipe, a.loop, a.schema, cfg.Demo.Rate))
	}

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           ops.NewRouter(a.ready),
		ReadHeaderTimeout: cfg.Server.Timeout,
	}
	tree.AddOpsService(supervisor.NewHTTPServerService(server, cfg.Server.Timeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Kestrel stopped gracefully")
}
