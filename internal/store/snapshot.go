// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

// Package store holds the latest-known-position view consumed by the
// broadcast path, and the optional relational history store fed by
// ingestion. Only the snapshot is required for correctness; history is an
// external collaborator reached through create/upsert/query operations.
package store

import (
	"sync"
	"time"

	"github.com/portolan-project/portolan/internal/models"
)

// Snapshot is the in-memory latest-position store. One entry per (kind, id);
// an upsert replaces the previous position unconditionally (per-object
// ordering is the feed's responsibility).
type Snapshot struct {
	mu     sync.RWMutex
	byKind map[models.AssetKind]map[string]models.PositionSample
}

// NewSnapshot creates an empty snapshot store.
func NewSnapshot() *Snapshot {
	byKind := make(map[models.AssetKind]map[string]models.PositionSample, len(models.Kinds))
	for _, k := range models.Kinds {
		byKind[k] = make(map[string]models.PositionSample)
	}
	return &Snapshot{byKind: byKind}
}

// Upsert stores the sample as the latest position for its object and reports
// whether the object id was seen for the first time.
func (s *Snapshot) Upsert(sample models.PositionSample) (isNew bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, ok := s.byKind[sample.Kind]
	if !ok {
		objects = make(map[string]models.PositionSample)
		s.byKind[sample.Kind] = objects
	}
	_, existed := objects[sample.ID]
	objects[sample.ID] = sample
	return !existed
}

// Get returns the latest position for an object.
func (s *Snapshot) Get(kind models.AssetKind, id string) (models.PositionSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.byKind[kind][id]
	return sample, ok
}

// Recent returns all objects of a kind whose latest position is within the
// kind's freshness window relative to now. This is the one place the per-kind
// staleness constant is applied; downstream filters must not re-derive it.
func (s *Snapshot) Recent(kind models.AssetKind, now time.Time) []models.PositionSample {
	cutoff := now.Add(-kind.FreshnessWindow())

	s.mu.RLock()
	defer s.mu.RUnlock()

	objects := s.byKind[kind]
	out := make([]models.PositionSample, 0, len(objects))
	for _, sample := range objects {
		if sample.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, sample)
	}
	return out
}

// Len returns the number of tracked objects of a kind.
func (s *Snapshot) Len(kind models.AssetKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKind[kind])
}

// Prune drops objects whose latest position fell out of twice the freshness
// window. Keeps the snapshot bounded across feed restarts.
func (s *Snapshot) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for kind, objects := range s.byKind {
		cutoff := now.Add(-2 * kind.FreshnessWindow())
		for id, sample := range objects {
			if sample.Timestamp.Before(cutoff) {
				delete(objects, id)
				removed++
			}
		}
	}
	return removed
}
