// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package collector

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of in-flight ingestion jobs. A full gate blocks the
// collector's read loop, so a slow downstream throttles the upstream read
// rate instead of buffering unboundedly.
//
// Built on a counting semaphore rather than a sleep-and-recheck poll so a
// released permit is handed to a waiter immediately.
type Gate struct {
	sem      *semaphore.Weighted
	cap      int64
	inFlight atomic.Int64
}

// NewGate creates a gate admitting at most capacity concurrent jobs.
func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = 5
	}
	return &Gate{
		sem: semaphore.NewWeighted(int64(capacity)),
		cap: int64(capacity),
	}
}

// Acquire blocks until a permit is available or the context is canceled.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.inFlight.Add(1)
	return nil
}

// TryAcquire takes a permit without blocking.
func (g *Gate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.inFlight.Add(1)
	return true
}

// Release returns a permit. Safe to call exactly once per successful
// Acquire; a leaked permit silently shrinks ingestion capacity, so callers
// release in a defer on every completion path.
func (g *Gate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// InFlight returns the current number of held permits.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Capacity returns the configured concurrency cap.
func (g *Gate) Capacity() int {
	return int(g.cap)
}
