// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package delta

import (
	"testing"
	"time"
)

func TestShouldSendFirstSight(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0)
	if !tr.ShouldSend("conn-1", "aircraft:AC1", 51.0, 11.0) {
		t.Fatal("first sighting must always send")
	}
}

func TestShouldSendThreshold(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0.0001)
	now := time.Now()
	tr.RecordSent("conn-1", "aircraft:AC1", 51.0, 11.0, now)

	// Movement exactly at the threshold is suppressed; it must exceed it.
	if tr.ShouldSend("conn-1", "aircraft:AC1", 51.0001, 11.0) {
		t.Error("movement equal to threshold not suppressed")
	}
	if tr.ShouldSend("conn-1", "aircraft:AC1", 51.0, 11.0) {
		t.Error("zero movement not suppressed")
	}
	if !tr.ShouldSend("conn-1", "aircraft:AC1", 51.01, 11.0) {
		t.Error("clear movement suppressed")
	}
	if !tr.ShouldSend("conn-1", "aircraft:AC1", 51.0, 11.01) {
		t.Error("longitude-only movement suppressed")
	}
}

func TestTrackerIsPerConnection(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0.0001)
	tr.RecordSent("conn-1", "vessel:V1", 0, 0, time.Now())

	// conn-2 never saw the object.
	if !tr.ShouldSend("conn-2", "vessel:V1", 0, 0) {
		t.Error("suppression leaked across connections")
	}
}

func TestForgetClearsConnection(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0.0001)
	tr.RecordSent("conn-1", "vessel:V1", 0, 0, time.Now())
	tr.Forget("conn-1")

	if tr.Connections() != 0 {
		t.Error("connection state survived Forget")
	}
	if !tr.ShouldSend("conn-1", "vessel:V1", 0, 0) {
		t.Error("forgotten connection still suppressed")
	}
}

func TestEvictStale(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0.0001)
	old := time.Now().Add(-2 * time.Hour)
	tr.RecordSent("conn-1", "aircraft:AC1", 1, 1, old)
	tr.RecordSent("conn-1", "aircraft:AC2", 2, 2, time.Now())

	removed := tr.EvictStale(time.Hour)
	if removed != 1 {
		t.Fatalf("evicted %d entries, want 1", removed)
	}
	if !tr.ShouldSend("conn-1", "aircraft:AC1", 1, 1) {
		t.Error("evicted entry still suppressing")
	}
	if tr.ShouldSend("conn-1", "aircraft:AC2", 2, 2) {
		t.Error("live entry was evicted")
	}
}
