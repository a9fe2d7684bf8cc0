// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package bus

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/kestrelsec/kestrel/internal/logging"
)

// loggerAdapter bridges watermill's logging into zerolog.
type loggerAdapter struct {
	logger zerolog.Logger
}

func newLoggerAdapter() watermill.LoggerAdapter {
	return &loggerAdapter{logger: logging.Logger()}
}

func (l *loggerAdapter) event(ev *zerolog.Event, msg string, err error, fields watermill.LogFields) {
	if err != nil {
		ev = ev.Err(err)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.logger.Error(), msg, err, fields)
}

func (l *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	l.event(l.logger.Info(), msg, nil, fields)
}

func (l *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), msg, nil, fields)
}

func (l *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	l.event(l.logger.Trace(), msg, nil, fields)
}

func (l *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &loggerAdapter{logger: ctx.Logger()}
}
