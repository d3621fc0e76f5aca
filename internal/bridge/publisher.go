// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/portolan-project/portolan/internal/logging"
	"github.com/portolan-project/portolan/internal/metrics"
	"github.com/portolan-project/portolan/internal/models"
)

// PublisherConfig holds the ingestion-side bridge settings.
type PublisherConfig struct {
	// URL is the NATS connection URL (embedded server or external cluster).
	URL string

	// MaxReconnects and ReconnectWait tune the client's own reconnect loop.
	// Defaults: 60 attempts, 2s apart.
	MaxReconnects int
	ReconnectWait time.Duration
}

func (c *PublisherConfig) applyDefaults() {
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 60
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
}

// Publisher sends ingestion events over NATS. Publishing runs inside a
// circuit breaker: when the broker is unreachable the breaker opens and
// publish calls fail fast, so ingestion keeps the snapshot warm instead of
// blocking behind broker timeouts.
type Publisher struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[any]

	mu     sync.RWMutex
	closed bool
}

// NewPublisher connects to NATS and returns a breaker-wrapped publisher.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	cfg.applyDefaults()
	logger := NewWatermillLogger()

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("bridge publisher disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("bridge publisher reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create bridge publisher: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "bridge-publish",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("bridge publish breaker state change")
		},
	})

	return &Publisher{publisher: pub, breaker: breaker}, nil
}

// publish marshals the payload and sends it through the breaker.
func (p *Publisher) publish(topic string, payload any) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("bridge publisher is closed")
	}
	p.mu.RUnlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}

	_, err = p.breaker.Execute(func() (any, error) {
		return nil, p.publisher.Publish(topic, message.NewMessage(watermill.NewUUID(), data))
	})
	if err != nil {
		metrics.BridgePublishErrors.WithLabelValues(topic).Inc()
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	metrics.BridgePublishes.WithLabelValues(topic).Inc()
	return nil
}

// PublishPosition sends a position update on its per-kind topic.
func (p *Publisher) PublishPosition(_ context.Context, update models.PositionUpdate) error {
	return p.publish(PositionTopic(update.Kind), update)
}

// PublishNewAsset announces a first sighting on its per-kind topic.
func (p *Publisher) PublishNewAsset(_ context.Context, asset models.NewAsset) error {
	return p.publish(NewAssetTopic(asset.Kind), asset)
}

// PublishRegionAlert sends a geographic region alert.
func (p *Publisher) PublishRegionAlert(_ context.Context, alert models.RegionAlert) error {
	return p.publish(TopicRegionAlert, alert)
}

// PublishConfigUpdate broadcasts a runtime configuration change.
func (p *Publisher) PublishConfigUpdate(_ context.Context, update models.ConfigUpdate) error {
	return p.publish(TopicConfigUpdate, update)
}

// Close shuts the underlying connection down. Publish calls after Close fail.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

// NopPublisher discards events. It stands in for the real publisher when the
// bridge could not be brought up, so ingestion and enrichment keep running in
// tick-only degraded mode instead of stopping the process.
type NopPublisher struct{}

func (NopPublisher) PublishPosition(context.Context, models.PositionUpdate) error { return nil }

func (NopPublisher) PublishNewAsset(context.Context, models.NewAsset) error { return nil }

func (NopPublisher) PublishRegionAlert(context.Context, models.RegionAlert) error { return nil }

func (NopPublisher) PublishConfigUpdate(context.Context, models.ConfigUpdate) error { return nil }

func (NopPublisher) Close() error { return nil }
