// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

// Package delta suppresses re-broadcast of positions that have not moved.
// Without it every tick re-sends every visible object to every client even
// when nothing changed, which does not scale with clients x objects.
package delta

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/portolan-project/portolan/internal/logging"
)

const (
	// DefaultThreshold is the minimum coordinate change, in degrees, worth
	// resending. 0.0001 deg is roughly 11m at the equator.
	DefaultThreshold = 0.0001

	// DefaultMaxAge is how long an entry survives without an update before
	// the background sweep evicts it.
	DefaultMaxAge = time.Hour
)

type entry struct {
	lat, lon float64
	sentAt   time.Time
}

// Tracker caches the last position sent per (connection, object).
type Tracker struct {
	mu        sync.RWMutex
	byConn    map[string]map[string]entry
	threshold float64
}

// NewTracker creates a tracker with the given movement threshold in degrees;
// non-positive values take DefaultThreshold.
func NewTracker(threshold float64) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Tracker{
		byConn:    make(map[string]map[string]entry),
		threshold: threshold,
	}
}

// ShouldSend reports whether the position differs enough from the last one
// sent to this connection for this object. Always true on first sight.
func (t *Tracker) ShouldSend(connID, objectKey string, lat, lon float64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	objects, ok := t.byConn[connID]
	if !ok {
		return true
	}
	last, ok := objects[objectKey]
	if !ok {
		return true
	}
	return math.Abs(lat-last.lat) > t.threshold || math.Abs(lon-last.lon) > t.threshold
}

// RecordSent updates the cache after a successful send. Callers must invoke
// this only after the send succeeded; recording first would suppress a
// legitimately unsent update on send failure.
func (t *Tracker) RecordSent(connID, objectKey string, lat, lon float64, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	objects, ok := t.byConn[connID]
	if !ok {
		objects = make(map[string]entry)
		t.byConn[connID] = objects
	}
	objects[objectKey] = entry{lat: lat, lon: lon, sentAt: ts}
}

// Forget drops all state for a connection. Called synchronously on
// disconnect.
func (t *Tracker) Forget(connID string) {
	t.mu.Lock()
	delete(t.byConn, connID)
	t.mu.Unlock()
}

// EvictStale removes entries older than maxAge and deletes per-connection
// maps that become empty. Returns the number of entries evicted.
func (t *Tracker) EvictStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for connID, objects := range t.byConn {
		for key, e := range objects {
			if e.sentAt.Before(cutoff) {
				delete(objects, key)
				evicted++
			}
		}
		if len(objects) == 0 {
			delete(t.byConn, connID)
		}
	}
	return evicted
}

// Len returns the number of tracked (connection, object) pairs.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, objects := range t.byConn {
		n += len(objects)
	}
	return n
}

// Connections returns the number of connections with tracked state.
func (t *Tracker) Connections() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byConn)
}

// Sweeper evicts stale tracker entries on a fixed interval as a suture
// service.
type Sweeper struct {
	tracker  *Tracker
	interval time.Duration
	maxAge   time.Duration
}

// NewSweeper creates a sweeper; zero values take defaults (10m interval,
// DefaultMaxAge window).
func NewSweeper(tracker *Tracker, interval, maxAge time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Sweeper{tracker: tracker, interval: interval, maxAge: maxAge}
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
			if evicted := s.tracker.EvictStale(s.maxAge); evicted > 0 {
				logging.Debug().Int("evicted", evicted).Msg("evicted stale delta entries")
			}
		}
	}
}

func (s *Sweeper) String() string { return "delta-sweeper" }
