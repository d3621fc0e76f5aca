// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package store

import (
	"testing"
	"time"

	"github.com/portolan-project/portolan/internal/models"
)

func pos(kind models.AssetKind, id string, ts time.Time) models.PositionSample {
	return models.PositionSample{Kind: kind, ID: id, Lat: 1, Lon: 1, Timestamp: ts}
}

func TestUpsertReportsFirstSighting(t *testing.T) {
	t.Parallel()

	s := NewSnapshot()
	now := time.Now()

	if !s.Upsert(pos(models.KindAircraft, "AC1", now)) {
		t.Error("first upsert not reported as new")
	}
	if s.Upsert(pos(models.KindAircraft, "AC1", now.Add(time.Second))) {
		t.Error("second upsert reported as new")
	}
	// Same id under a different kind is a distinct object.
	if !s.Upsert(pos(models.KindVessel, "AC1", now)) {
		t.Error("same id across kinds not treated as distinct")
	}
}

func TestRecentAppliesFreshnessWindowPerKind(t *testing.T) {
	t.Parallel()

	s := NewSnapshot()
	now := time.Now()
	threeHoursAgo := now.Add(-3 * time.Hour)

	s.Upsert(pos(models.KindAircraft, "AC-fresh", now.Add(-time.Minute)))
	s.Upsert(pos(models.KindAircraft, "AC-stale", threeHoursAgo))
	s.Upsert(pos(models.KindVessel, "V-old-but-fresh", threeHoursAgo))

	aircraft := s.Recent(models.KindAircraft, now)
	if len(aircraft) != 1 || aircraft[0].ID != "AC-fresh" {
		t.Errorf("aircraft recent = %v, want only AC-fresh", aircraft)
	}
	vessels := s.Recent(models.KindVessel, now)
	if len(vessels) != 1 {
		t.Errorf("vessel recent = %v, want V-old-but-fresh (24h window)", vessels)
	}
}

func TestPruneDropsDoublyStaleObjects(t *testing.T) {
	t.Parallel()

	s := NewSnapshot()
	now := time.Now()

	s.Upsert(pos(models.KindAircraft, "AC-keep", now.Add(-3*time.Hour)))  // stale but within 2x window
	s.Upsert(pos(models.KindAircraft, "AC-drop", now.Add(-5*time.Hour)))  // past 2x 2h window
	s.Upsert(pos(models.KindVessel, "V-keep", now.Add(-40*time.Hour)))    // within 2x 24h window

	if removed := s.Prune(now); removed != 1 {
		t.Fatalf("pruned %d, want 1", removed)
	}
	if _, ok := s.Get(models.KindAircraft, "AC-keep"); !ok {
		t.Error("AC-keep pruned")
	}
	if _, ok := s.Get(models.KindAircraft, "AC-drop"); ok {
		t.Error("AC-drop survived prune")
	}
	if _, ok := s.Get(models.KindVessel, "V-keep"); !ok {
		t.Error("V-keep pruned")
	}
}
