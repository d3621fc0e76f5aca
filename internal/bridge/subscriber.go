// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/portolan-project/portolan/internal/logging"
	"github.com/portolan-project/portolan/internal/metrics"
)

// SubscriberConfig holds the gateway-side bridge settings.
type SubscriberConfig struct {
	URL string

	MaxReconnects int
	ReconnectWait time.Duration

	// RetryInterval paces re-subscription while the broker is unreachable.
	// Default 5s.
	RetryInterval time.Duration
}

func (c *SubscriberConfig) applyDefaults() {
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 60
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
}

// Subscriber consumes bridge topics for the gateway. A failed subscription is
// a degraded mode, not a fault: Consume keeps retrying in the background while
// the gateway serves periodic snapshot broadcasts without push events.
type Subscriber struct {
	subscriber message.Subscriber
	cfg        SubscriberConfig
}

// NewSubscriber connects to NATS and returns a bridge subscriber.
func NewSubscriber(cfg SubscriberConfig) (*Subscriber, error) {
	cfg.applyDefaults()
	logger := NewWatermillLogger()

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("bridge subscriber disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("bridge subscriber reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Unmarshaler: &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create bridge subscriber: %w", err)
	}

	return &Subscriber{subscriber: sub, cfg: cfg}, nil
}

// Subscribe returns the raw message channel for one topic.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.subscriber.Subscribe(ctx, topic)
}

// Consume runs handler for every payload on topic until the context is
// canceled. Subscription failures are retried on a fixed interval; a closed
// message channel (broker restart) triggers a re-subscribe.
func (s *Subscriber) Consume(ctx context.Context, topic string, handler func(payload []byte)) {
	for {
		messages, err := s.subscriber.Subscribe(ctx, topic)
		if err != nil {
			metrics.BridgeSubscribeFailures.Inc()
			logging.Warn().Err(err).
				Str("topic", topic).
				Dur("retry_in", s.cfg.RetryInterval).
				Msg("bridge subscribe failed, push fan-out degraded")
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.RetryInterval):
				continue
			}
		}

		for msg := range messages {
			handler(msg.Payload)
			msg.Ack()
		}
		if ctx.Err() != nil {
			return
		}
		logging.Warn().Str("topic", topic).Msg("bridge message channel closed, re-subscribing")
	}
}

// Close shuts the subscription connection down.
func (s *Subscriber) Close() error {
	return s.subscriber.Close()
}
