// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/portolan-project/portolan/internal/delta"
	"github.com/portolan-project/portolan/internal/logging"
	"github.com/portolan-project/portolan/internal/metrics"
	"github.com/portolan-project/portolan/internal/models"
	"github.com/portolan-project/portolan/internal/store"
	"github.com/portolan-project/portolan/internal/viewport"
)

// DefaultTickInterval is the periodic broadcast cadence.
const DefaultTickInterval = 3 * time.Second

// Scheduler walks every viewport subscription on a fixed tick and emits the
// positions that are inside the bbox, fresh, and moved past the delta
// threshold since that connection last saw them.
//
// Ticks are single-flight: if a tick overruns the interval the next fire is
// skipped (with a metric), never queued behind it.
type Scheduler struct {
	hub       *Hub
	snapshot  *store.Snapshot
	viewports *viewport.Registry
	deltas    *delta.Tracker
	interval  time.Duration

	inFlight atomic.Bool
}

// NewScheduler creates the broadcast scheduler. interval <= 0 takes the
// default.
func NewScheduler(hub *Hub, snapshot *store.Snapshot, viewports *viewport.Registry, deltas *delta.Tracker, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{
		hub:       hub,
		snapshot:  snapshot,
		viewports: viewports,
		deltas:    deltas,
		interval:  interval,
	}
}

// Serve implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.inFlight.CompareAndSwap(false, true) {
				metrics.BroadcastTicksSkipped.WithLabelValues("in_flight").Inc()
				logging.Warn().Msg("broadcast tick still running, skipping this interval")
				continue
			}
			s.tick(time.Now())
			s.inFlight.Store(false)
		}
	}
}

func (s *Scheduler) String() string { return "broadcast-scheduler" }

// tick runs one broadcast pass. The snapshot is read once per kind per tick,
// so every connection sees the same world state within a pass; freshness is
// applied at that read and nowhere else.
func (s *Scheduler) tick(now time.Time) {
	start := time.Now()
	defer func() { metrics.ObserveTick(time.Since(start)) }()

	if s.hub.ClientCount() == 0 {
		metrics.BroadcastTicksSkipped.WithLabelValues("idle").Inc()
		return
	}
	subs := s.viewports.All()
	if len(subs) == 0 {
		metrics.BroadcastTicksSkipped.WithLabelValues("idle").Inc()
		return
	}

	for _, kind := range models.Kinds {
		recent := s.snapshot.Recent(kind, now)
		if len(recent) == 0 {
			continue
		}
		event := positionEvent(kind)

		for _, sub := range subs {
			for i := range recent {
				p := &recent[i]
				if !sub.Bbox.Contains(p.Lon, p.Lat) {
					continue
				}
				key := p.Key()
				if !s.deltas.ShouldSend(sub.ConnID, key, p.Lat, p.Lon) {
					metrics.DeltaSuppressed.Inc()
					continue
				}
				if s.hub.SendTo(sub.ConnID, ServerMessage{Type: event, Data: *p}) {
					s.deltas.RecordSent(sub.ConnID, key, p.Lat, p.Lon, now)
					metrics.BroadcastEventsSent.WithLabelValues(string(kind), "tick").Inc()
				}
			}
		}
	}
}

// StatsEmitter periodically broadcasts connection statistics to every client.
type StatsEmitter struct {
	hub       *Hub
	viewports *viewport.Registry
	interval  time.Duration
}

// NewStatsEmitter creates the emitter; interval <= 0 defaults to 10s.
func NewStatsEmitter(hub *Hub, viewports *viewport.Registry, interval time.Duration) *StatsEmitter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &StatsEmitter{hub: hub, viewports: viewports, interval: interval}
}

// Serve implements suture.Service.
func (e *StatsEmitter) Serve(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if e.hub.ClientCount() == 0 {
				continue
			}
			e.hub.BroadcastAll(ServerMessage{
				Type: EventConnectionStats,
				Data: models.ConnectionStats{
					TotalClients:    e.hub.ClientCount(),
					ActiveViewports: e.viewports.Len(),
					Timestamp:       time.Now().UTC(),
				},
			})
		}
	}
}

func (e *StatsEmitter) String() string { return "stats-emitter" }
