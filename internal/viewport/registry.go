// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

// Package viewport tracks which geographic rectangle each connection is
// looking at. The registry is read-heavy (every broadcast tick) and mutated
// by connection lifecycle events, so all access goes through a single
// RWMutex-guarded map; lost updates here manifest as stale viewports still
// receiving traffic after disconnect.
package viewport

import (
	"context"
	"sync"
	"time"

	"github.com/portolan-project/portolan/internal/geo"
	"github.com/portolan-project/portolan/internal/logging"
	"github.com/portolan-project/portolan/internal/metrics"
	"github.com/portolan-project/portolan/internal/models"
)

// DefaultStaleAfter is how long an un-refreshed subscription survives before
// the sweep removes it. Bounds memory when a disconnect is missed.
const DefaultStaleAfter = 5 * time.Minute

// Subscription is one connection's registered viewport. Owned exclusively by
// the registry; callers receive copies.
type Subscription struct {
	ConnID    string
	Bbox      models.BoundingBox
	CellKey   string
	UpdatedAt time.Time
}

// Registry maps connection ids to their viewport subscriptions.
type Registry struct {
	mu        sync.RWMutex
	subs      map[string]Subscription
	precision int
}

// NewRegistry creates a registry using the given cell precision.
func NewRegistry(precision int) *Registry {
	if precision <= 0 {
		precision = geo.DefaultPrecision
	}
	return &Registry{
		subs:      make(map[string]Subscription),
		precision: precision,
	}
}

// Set registers or wholesale-replaces the viewport for a connection and
// returns the derived cell key of the bbox center.
func (r *Registry) Set(connID string, bbox models.BoundingBox) string {
	lat, lon := bbox.Center()
	cell := geo.CellKey(lat, lon, r.precision)

	r.mu.Lock()
	r.subs[connID] = Subscription{
		ConnID:    connID,
		Bbox:      bbox,
		CellKey:   cell,
		UpdatedAt: time.Now(),
	}
	metrics.ActiveViewports.Set(float64(len(r.subs)))
	r.mu.Unlock()

	return cell
}

// Remove deletes the subscription for a connection, if any. Returns the
// removed subscription's cell key so the caller can leave the matching room.
func (r *Registry) Remove(connID string) (cellKey string, existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[connID]
	if !ok {
		return "", false
	}
	delete(r.subs, connID)
	metrics.ActiveViewports.Set(float64(len(r.subs)))
	return sub.CellKey, true
}

// Get returns a copy of the subscription for a connection.
func (r *Registry) Get(connID string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[connID]
	return sub, ok
}

// MatchingConnections returns the ids of all connections whose stored cell
// key equals the point's cell or one of its 8 neighbors. This is an
// intentional approximation: the caller re-checks exact bbox containment
// before sending.
func (r *Registry) MatchingConnections(lat, lon float64) []string {
	cells := geo.CoveringCells(lat, lon, r.precision)
	cellSet := make(map[string]struct{}, len(cells))
	for _, c := range cells {
		cellSet[c] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for id, sub := range r.subs {
		if _, ok := cellSet[sub.CellKey]; ok {
			out = append(out, id)
		}
	}
	return out
}

// All returns a snapshot of every subscription for the scheduler's sweep.
func (r *Registry) All() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

// Len returns the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// SweepStale removes subscriptions not refreshed within maxAge and returns
// how many were removed.
func (r *Registry) SweepStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, sub := range r.subs {
		if sub.UpdatedAt.Before(cutoff) {
			delete(r.subs, id)
			removed++
		}
	}
	if removed > 0 {
		metrics.ActiveViewports.Set(float64(len(r.subs)))
	}
	return removed
}

// Sweeper runs SweepStale on a fixed interval as a suture service.
type Sweeper struct {
	registry   *Registry
	interval   time.Duration
	staleAfter time.Duration
}

// NewSweeper creates a sweeper; zero values take defaults (1m interval,
// DefaultStaleAfter window).
func NewSweeper(registry *Registry, interval, staleAfter time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Sweeper{registry: registry, interval: interval, staleAfter: staleAfter}
}

// Serve implements suture.Service.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := s.registry.SweepStale(s.staleAfter); removed > 0 {
				logging.Debug().Int("removed", removed).Msg("swept stale viewport subscriptions")
			}
		}
	}
}

func (s *Sweeper) String() string { return "viewport-sweeper" }
