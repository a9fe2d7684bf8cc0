// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"disabled", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
		{"WARN", zerolog.WarnLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Timestamp: false, Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("component", "test").Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"component":"test"`) {
		t.Errorf("expected structured field in output, got %q", out)
	}
	if !strings.Contains(out, `"message":"hello"`) {
		t.Errorf("expected message in output, got %q", out)
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := CorrelationIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty correlation ID, got %q", got)
	}

	ctx = ContextWithCorrelationID(ctx, "abcd1234")
	if got := CorrelationIDFromContext(ctx); got != "abcd1234" {
		t.Fatalf("expected abcd1234, got %q", got)
	}

	ctx = ContextWithNewCorrelationID(context.Background())
	if got := CorrelationIDFromContext(ctx); len(got) != 8 {
		t.Fatalf("expected 8-char generated ID, got %q", got)
	}
}

func TestCtxIncludesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Timestamp: false, Output: &buf})
	defer Init(DefaultConfig())

	ctx := ContextWithCorrelationID(context.Background(), "feedbeef")
	Ctx(ctx).Info().Msg("scored")

	if !strings.Contains(buf.String(), "feedbeef") {
		t.Errorf("expected correlation ID in output, got %q", buf.String())
	}
}

func TestSlogHandlerWritesToZerolog(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Timestamp: false, Output: &buf})
	defer Init(DefaultConfig())

	logger := slog.New(NewSlogHandler())
	logger.Info("supervised", slog.String("service", "retrainer"), slog.Int("restarts", 2))

	out := buf.String()
	if !strings.Contains(out, `"service":"retrainer"`) {
		t.Errorf("expected slog attr in zerolog output, got %q", out)
	}
	if !strings.Contains(out, `"restarts":2`) {
		t.Errorf("expected int attr in zerolog output, got %q", out)
	}
}

func TestSlogHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Timestamp: false, Output: &buf})
	defer Init(DefaultConfig())

	logger := slog.New(NewSlogHandler()).WithGroup("supervisor")
	logger.Warn("restarting", slog.String("service", "janitor"))

	if !strings.Contains(buf.String(), `"supervisor.service":"janitor"`) {
		t.Errorf("expected grouped attr key, got %q", buf.String())
	}
}

func TestCtxLevelChaining(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Timestamp: false, Output: &buf})
	defer Init(DefaultConfig())

	Ctx(context.Background()).Warn().Str("model", "temporal").Msg("excluded")

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"model":"temporal"`) {
		t.Errorf("expected chained warn event with fields, got %q", out)
	}
	if strings.Contains(out, "correlation_id") {
		t.Errorf("bare context must not carry a correlation ID, got %q", out)
	}
}
