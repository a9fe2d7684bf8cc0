// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package bus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/kestrelsec/kestrel/internal/alert"
	"github.com/kestrelsec/kestrel/internal/correlate"
	"github.com/kestrelsec/kestrel/internal/feedback"
	"github.com/kestrelsec/kestrel/internal/logging"
)

// Topic names carried by the bus. External alerting surfaces subscribe
// to these; the pipeline is the only publisher.
const (
	TopicAlerts    = "kestrel.alerts"
	TopicIncidents = "kestrel.incidents"
	TopicFeedback  = "kestrel.feedback"
)

// Config configures the in-process bus.
type Config struct {
	// BufferSize is the per-subscriber channel buffer. Default: 256.
	BufferSize int64 `json:"buffer_size" koanf:"buffer_size"`
}

// Bus is the in-process pub/sub boundary between the pipeline and its
// consumers. Publishing never blocks the scoring hot path beyond the
// subscriber buffer; a slow consumer is that consumer's problem.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// New creates the bus.
func New(cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.BufferSize,
		}, newLoggerAdapter()),
	}
}

func (b *Bus) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus publish %s: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("bus publish %s: %w", topic, err)
	}
	return nil
}

// PublishAlert emits an alert to TopicAlerts.
func (b *Bus) PublishAlert(a *alert.Alert) error {
	return b.publish(TopicAlerts, a)
}

// PublishIncident emits an incident snapshot to TopicIncidents.
func (b *Bus) PublishIncident(in *correlate.Incident) error {
	return b.publish(TopicIncidents, in)
}

// PublishFeedback emits a feedback record to TopicFeedback.
func (b *Bus) PublishFeedback(r *feedback.Record) error {
	return b.publish(TopicFeedback, r)
}

// Subscribe returns the raw message stream for a topic. Messages must be
// acked or nacked by the consumer.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// SubscribeTyped decodes a topic's payloads into T. Undecodable messages
// are acked and dropped with a log entry; they are a programming error,
// not something a consumer can recover by redelivery.
func SubscribeTyped[T any](ctx context.Context, b *Bus, topic string) (<-chan *T, error) {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("bus subscribe %s: %w", topic, err)
	}
	out := make(chan *T)
	go func() {
		defer close(out)
		for msg := range msgs {
			var v T
			if err := json.Unmarshal(msg.Payload, &v); err != nil {
				logging.Error().Err(err).Str("topic", topic).Msg("dropping undecodable bus message")
				msg.Ack()
				continue
			}
			select {
			case out <- &v:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}
