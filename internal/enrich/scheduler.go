// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package enrich

import (
	"context"
	"time"

	"github.com/portolan-project/portolan/internal/logging"
)

// VesselLister supplies the ids of vessels currently being tracked. The
// snapshot store satisfies this through a small adapter in the composition
// root.
type VesselLister interface {
	VesselIDs() []string
}

// Scheduler periodically walks tracked vessels and enqueues those whose
// metadata is missing or older than MaxAge. Runs at low priority so
// explicitly requested lookups jump the queue.
type Scheduler struct {
	queue    *Queue
	store    *MetadataStore
	vessels  VesselLister
	interval time.Duration
	maxAge   time.Duration
}

// NewScheduler creates the requeue scheduler. Defaults: 10m interval, 30d
// metadata age.
func NewScheduler(queue *Queue, store *MetadataStore, vessels VesselLister, interval, maxAge time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	return &Scheduler{
		queue:    queue,
		store:    store,
		vessels:  vessels,
		interval: interval,
		maxAge:   maxAge,
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
			s.sweep(time.Now())
		}
	}
}

func (s *Scheduler) String() string { return "enrichment-scheduler" }

func (s *Scheduler) sweep(now time.Time) {
	enqueued := 0
	for _, mmsi := range s.vessels.VesselIDs() {
		age, known := s.store.Age(mmsi, now)
		if known && age < s.maxAge {
			continue
		}
		if s.queue.Enqueue(mmsi, 0) {
			enqueued++
		}
	}
	if enqueued > 0 {
		logging.Debug().Int("enqueued", enqueued).Msg("scheduled vessels for metadata refresh")
	}
}
