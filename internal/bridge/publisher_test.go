// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/portolan-project/portolan/internal/collector"
	"github.com/portolan-project/portolan/internal/enrich"
	"github.com/portolan-project/portolan/internal/models"
)

// fakeWirePublisher records topics and fails on demand.
type fakeWirePublisher struct {
	err    error
	topics []string
	closed bool
}

func (f *fakeWirePublisher) Publish(topic string, _ ...*message.Message) error {
	f.topics = append(f.topics, topic)
	return f.err
}

func (f *fakeWirePublisher) Close() error {
	f.closed = true
	return nil
}

func newTestPublisher(wire message.Publisher) *Publisher {
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "test-publish",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Publisher{publisher: wire, breaker: breaker}
}

func TestPublishRoutesEventsToTopics(t *testing.T) {
	t.Parallel()

	wire := &fakeWirePublisher{}
	p := newTestPublisher(wire)
	ctx := context.Background()

	if err := p.PublishPosition(ctx, models.PositionUpdate{Kind: models.KindAircraft}); err != nil {
		t.Fatalf("publish position: %v", err)
	}
	if err := p.PublishNewAsset(ctx, models.NewAsset{Kind: models.KindVessel}); err != nil {
		t.Fatalf("publish new asset: %v", err)
	}
	if err := p.PublishRegionAlert(ctx, models.RegionAlert{RegionID: "r1"}); err != nil {
		t.Fatalf("publish region alert: %v", err)
	}
	if err := p.PublishConfigUpdate(ctx, models.ConfigUpdate{Scope: "broadcast"}); err != nil {
		t.Fatalf("publish config update: %v", err)
	}

	want := []string{"position.aircraft", "asset.new.vessel", TopicRegionAlert, TopicConfigUpdate}
	if len(wire.topics) != len(want) {
		t.Fatalf("published to %v, want %v", wire.topics, want)
	}
	for i, topic := range want {
		if wire.topics[i] != topic {
			t.Errorf("publish %d went to %q, want %q", i, wire.topics[i], topic)
		}
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	wire := &fakeWirePublisher{err: errors.New("broker unreachable")}
	p := newTestPublisher(wire)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := p.PublishPosition(ctx, models.PositionUpdate{Kind: models.KindAircraft}); err == nil {
			t.Fatalf("publish %d succeeded against a failing broker", i)
		}
	}
	attemptsBefore := len(wire.topics)

	// Open breaker fails fast without touching the wire.
	if err := p.PublishPosition(ctx, models.PositionUpdate{Kind: models.KindAircraft}); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("after 5 failures got %v, want ErrOpenState", err)
	}
	if len(wire.topics) != attemptsBefore {
		t.Error("open breaker still reached the wire publisher")
	}
}

func TestNopPublisherStandsInForTheBridge(t *testing.T) {
	t.Parallel()

	// The fallback must slot into every bridge consumer when startup degrades
	// to tick-only mode.
	var (
		_ collector.EventPublisher = NopPublisher{}
		_ enrich.Notifier          = NopPublisher{}
	)

	nop := NopPublisher{}
	ctx := context.Background()
	if err := nop.PublishPosition(ctx, models.PositionUpdate{}); err != nil {
		t.Errorf("position: %v", err)
	}
	if err := nop.PublishNewAsset(ctx, models.NewAsset{}); err != nil {
		t.Errorf("new asset: %v", err)
	}
	if err := nop.PublishRegionAlert(ctx, models.RegionAlert{}); err != nil {
		t.Errorf("region alert: %v", err)
	}
	if err := nop.PublishConfigUpdate(ctx, models.ConfigUpdate{}); err != nil {
		t.Errorf("config update: %v", err)
	}
	if err := nop.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	t.Parallel()

	wire := &fakeWirePublisher{}
	p := newTestPublisher(wire)

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !wire.closed {
		t.Error("underlying publisher not closed")
	}
	if err := p.PublishRegionAlert(context.Background(), models.RegionAlert{}); err == nil {
		t.Error("publish after close succeeded")
	}
	// Close is idempotent.
	if err := p.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
