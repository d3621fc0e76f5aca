// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package viewport

import (
	"testing"
	"time"

	"github.com/portolan-project/portolan/internal/models"
)

func bboxAround(lat, lon, half float64) models.BoundingBox {
	return models.BoundingBox{
		MinLon: lon - half, MinLat: lat - half,
		MaxLon: lon + half, MaxLat: lat + half,
	}
}

func TestSetReplacesSubscription(t *testing.T) {
	t.Parallel()

	r := NewRegistry(0)
	first := r.Set("conn-1", bboxAround(51, 11, 1))
	second := r.Set("conn-1", bboxAround(-33, 151, 1))

	if first == second {
		t.Error("distant viewports produced the same cell key")
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1 after replacement", r.Len())
	}
	sub, ok := r.Get("conn-1")
	if !ok || sub.CellKey != second {
		t.Errorf("stored cell = %q, want %q", sub.CellKey, second)
	}
}

func TestMatchingConnectionsUsesNeighborCells(t *testing.T) {
	t.Parallel()

	r := NewRegistry(0)
	r.Set("conn-near", bboxAround(51.0, 11.0, 0.5))
	r.Set("conn-far", bboxAround(-20.0, -60.0, 0.5))

	// A point near the first viewport's center matches it via its own or a
	// neighboring cell; the antipodal viewport never matches.
	matched := r.MatchingConnections(51.01, 11.01)
	found := map[string]bool{}
	for _, id := range matched {
		found[id] = true
	}
	if !found["conn-near"] {
		t.Error("nearby viewport not matched")
	}
	if found["conn-far"] {
		t.Error("distant viewport matched")
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()

	r := NewRegistry(0)
	cell := r.Set("conn-1", bboxAround(0, 0, 1))

	gotCell, existed := r.Remove("conn-1")
	if !existed || gotCell != cell {
		t.Errorf("Remove = (%q, %v), want (%q, true)", gotCell, existed, cell)
	}
	if _, existed = r.Remove("conn-1"); existed {
		t.Error("second Remove reported existing subscription")
	}
}

func TestSweepStale(t *testing.T) {
	t.Parallel()

	r := NewRegistry(0)
	r.Set("conn-old", bboxAround(0, 0, 1))
	r.Set("conn-new", bboxAround(10, 10, 1))

	// Backdate one subscription past the staleness window.
	r.mu.Lock()
	sub := r.subs["conn-old"]
	sub.UpdatedAt = time.Now().Add(-10 * time.Minute)
	r.subs["conn-old"] = sub
	r.mu.Unlock()

	if removed := r.SweepStale(DefaultStaleAfter); removed != 1 {
		t.Fatalf("swept %d, want 1", removed)
	}
	if _, ok := r.Get("conn-old"); ok {
		t.Error("stale subscription survived sweep")
	}
	if _, ok := r.Get("conn-new"); !ok {
		t.Error("fresh subscription was swept")
	}
}
