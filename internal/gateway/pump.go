// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/portolan-project/portolan/internal/bridge"
	"github.com/portolan-project/portolan/internal/delta"
	"github.com/portolan-project/portolan/internal/logging"
	"github.com/portolan-project/portolan/internal/metrics"
	"github.com/portolan-project/portolan/internal/models"
	"github.com/portolan-project/portolan/internal/viewport"
)

// Pump consumes bridge topics and pushes events to clients the moment they
// arrive, ahead of the next scheduled tick.
//
// Pushed positions bypass the delta threshold (an explicit subscriber asked
// for this object) but are recorded in the tracker, so the following tick
// does not re-send an unchanged position.
type Pump struct {
	hub        *Hub
	subscriber *bridge.Subscriber
	viewports  *viewport.Registry
	deltas     *delta.Tracker
}

// NewPump wires the bridge subscriber to the hub.
func NewPump(hub *Hub, subscriber *bridge.Subscriber, viewports *viewport.Registry, deltas *delta.Tracker) *Pump {
	return &Pump{
		hub:        hub,
		subscriber: subscriber,
		viewports:  viewports,
		deltas:     deltas,
	}
}

// Serve implements suture.Service: one consumer goroutine per topic, all
// stopped by context cancellation. Subscribe failures degrade to tick-only
// delivery and retry inside the subscriber.
func (p *Pump) Serve(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, kind := range models.Kinds {
		kind := kind
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.subscriber.Consume(ctx, bridge.PositionTopic(kind), func(payload []byte) {
				p.handlePosition(kind, payload)
			})
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			p.subscriber.Consume(ctx, bridge.NewAssetTopic(kind), func(payload []byte) {
				p.handleNewAsset(kind, payload)
			})
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.subscriber.Consume(ctx, bridge.TopicRegionAlert, p.handleRegionAlert)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.subscriber.Consume(ctx, bridge.TopicConfigUpdate, p.handleConfigUpdate)
	}()

	wg.Wait()
	return ctx.Err()
}

func (p *Pump) String() string { return "bridge-pump" }

// handlePosition delivers one position to its object room, its kind room,
// and every viewport whose bbox contains it. A connection reachable through
// more than one of those paths still gets the event exactly once.
func (p *Pump) handlePosition(kind models.AssetKind, payload []byte) {
	var update models.PositionUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		logging.Warn().Err(err).Str("kind", string(kind)).Msg("dropping undecodable position event")
		return
	}
	pos := update.Position
	msg := ServerMessage{Type: positionEvent(kind), Data: pos}
	key := pos.Key()
	now := time.Now()

	delivered := make(map[string]bool)
	deliver := func(connID string) {
		if delivered[connID] {
			return
		}
		if p.hub.SendTo(connID, msg) {
			delivered[connID] = true
			p.deltas.RecordSent(connID, key, pos.Lat, pos.Lon, now)
			metrics.BroadcastEventsSent.WithLabelValues(string(kind), "push").Inc()
		}
	}

	for _, client := range p.hub.RoomMembers(objectRoom(kind, pos.ID)) {
		deliver(client)
	}
	for _, client := range p.hub.RoomMembers(kindRoom(kind)) {
		deliver(client)
	}
	for _, connID := range p.viewports.MatchingConnections(pos.Lat, pos.Lon) {
		sub, ok := p.viewports.Get(connID)
		if !ok || !sub.Bbox.Contains(pos.Lon, pos.Lat) {
			continue
		}
		deliver(connID)
	}
}

func (p *Pump) handleNewAsset(kind models.AssetKind, payload []byte) {
	var asset models.NewAsset
	if err := json.Unmarshal(payload, &asset); err != nil {
		logging.Warn().Err(err).Str("kind", string(kind)).Msg("dropping undecodable new-asset event")
		return
	}
	p.hub.BroadcastRoom(kindRoom(kind), ServerMessage{Type: newAssetEvent(kind), Data: asset})
}

func (p *Pump) handleRegionAlert(payload []byte) {
	var alert models.RegionAlert
	if err := json.Unmarshal(payload, &alert); err != nil {
		logging.Warn().Err(err).Msg("dropping undecodable region alert")
		return
	}
	p.hub.BroadcastAll(ServerMessage{Type: EventRegionAlert, Data: alert})
}

func (p *Pump) handleConfigUpdate(payload []byte) {
	var update models.ConfigUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		logging.Warn().Err(err).Msg("dropping undecodable config update")
		return
	}
	p.hub.BroadcastAll(ServerMessage{Type: EventConfigUpdate, Data: update})
}
