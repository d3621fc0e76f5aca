// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package enrich

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/portolan-project/portolan/internal/logging"
	"github.com/portolan-project/portolan/internal/metrics"
	"github.com/portolan-project/portolan/internal/models"
)

// Notifier receives successful enrichment results, typically to broadcast a
// configuration-style update to connected clients. May be nil.
type Notifier interface {
	PublishConfigUpdate(ctx context.Context, update models.ConfigUpdate) error
}

// MetadataStore holds resolved vessel metadata in memory.
type MetadataStore struct {
	mu   sync.RWMutex
	byID map[string]models.VesselMetadata
}

// NewMetadataStore creates an empty store.
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{byID: make(map[string]models.VesselMetadata)}
}

// Upsert stores metadata for a vessel.
func (s *MetadataStore) Upsert(md models.VesselMetadata) {
	s.mu.Lock()
	s.byID[md.MMSI] = md
	s.mu.Unlock()
}

// Get returns metadata for a vessel.
func (s *MetadataStore) Get(mmsi string) (models.VesselMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, ok := s.byID[mmsi]
	return md, ok
}

// Age returns how long ago a vessel's metadata was refreshed; ok is false
// when the vessel was never enriched.
func (s *MetadataStore) Age(mmsi string, now time.Time) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, ok := s.byID[mmsi]
	if !ok {
		return 0, false
	}
	return now.Sub(md.UpdatedAt), true
}

// WorkerConfig tunes the enrichment worker.
type WorkerConfig struct {
	// Rate paces upstream lookups. Default one per minute, an intentionally
	// conservative courtesy rate for public registries.
	Rate rate.Limit
	// Burst is the limiter burst size. Default 1.
	Burst int
	// MaxAttempts per vessel before marking it failed. Default 3.
	MaxAttempts int
	// BackoffBase doubles per attempt. Default 30s.
	BackoffBase time.Duration
	// IdlePoll is how often the worker re-checks an empty queue. Default 5s.
	IdlePoll time.Duration
}

func (c *WorkerConfig) applyDefaults() {
	if c.Rate <= 0 {
		c.Rate = rate.Every(time.Minute)
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	if c.IdlePoll <= 0 {
		c.IdlePoll = 5 * time.Second
	}
}

// Worker drains the enrichment queue under the rate limiter.
type Worker struct {
	cfg      WorkerConfig
	queue    *Queue
	source   Source
	store    *MetadataStore
	notifier Notifier
	limiter  *rate.Limiter
}

// NewWorker creates the enrichment worker. notifier may be nil.
func NewWorker(cfg WorkerConfig, queue *Queue, source Source, store *MetadataStore, notifier Notifier) *Worker {
	cfg.applyDefaults()
	return &Worker{
		cfg:      cfg,
		queue:    queue,
		source:   source,
		store:    store,
		notifier: notifier,
		limiter:  rate.NewLimiter(cfg.Rate, cfg.Burst),
	}
}

// Serve implements suture.Service.
func (w *Worker) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		it := w.queue.next(time.Now())
		if it == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.IdlePoll):
			}
			continue
		}

		if err := w.limiter.Wait(ctx); err != nil {
			// Shutting down with an item checked out: put it back untouched.
			w.queue.requeue(it)
			return err
		}
		w.processOne(ctx, it)
	}
}

func (w *Worker) String() string { return "enrichment-worker" }

func (w *Worker) processOne(ctx context.Context, it *item) {
	md, err := w.source.Lookup(ctx, it.mmsi)
	if err != nil {
		metrics.EnrichmentAttempts.WithLabelValues("error").Inc()
		requeued := w.queue.retry(it, w.cfg.MaxAttempts, w.cfg.BackoffBase)
		logging.Warn().Err(err).
			Str("mmsi", it.mmsi).
			Int("attempt", it.attempts).
			Bool("requeued", requeued).
			Msg("vessel enrichment lookup failed")
		return
	}

	w.store.Upsert(md)
	w.queue.complete(it)
	metrics.EnrichmentAttempts.WithLabelValues("success").Inc()
	logging.Debug().Str("mmsi", it.mmsi).Str("name", md.Name).Msg("vessel enriched")

	if w.notifier != nil {
		update := models.ConfigUpdate{
			Scope:     "vessel.metadata",
			Payload:   map[string]any{"mmsi": it.mmsi, "metadata": md},
			Timestamp: time.Now().UTC(),
		}
		if err := w.notifier.PublishConfigUpdate(ctx, update); err != nil {
			logging.Warn().Err(err).Str("mmsi", it.mmsi).Msg("enrichment notify failed")
		}
	}
}
