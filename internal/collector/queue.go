// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package collector

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/portolan-project/portolan/internal/logging"
	"github.com/portolan-project/portolan/internal/metrics"
	"github.com/portolan-project/portolan/internal/models"
	"github.com/portolan-project/portolan/internal/store"
)

// EventPublisher is the slice of the bridge the ingestion queue needs.
type EventPublisher interface {
	PublishPosition(ctx context.Context, update models.PositionUpdate) error
	PublishNewAsset(ctx context.Context, asset models.NewAsset) error
}

// Job is one batch of samples plus its retry budget.
type Job struct {
	ID      string
	Samples []models.PositionSample
}

// Queue executes ingestion jobs: snapshot upsert, history append, bridge
// publish. Jobs run concurrently up to the gate's cap; ordering across jobs
// is not guaranteed (per-object ordering comes from the feed itself).
type Queue struct {
	snapshot  *store.Snapshot
	history   store.HistoryStore
	publisher EventPublisher

	maxAttempts  int
	retryBackoff time.Duration

	wg sync.WaitGroup
}

// NewQueue creates an ingestion queue. maxAttempts counts the first try; a
// job failing all attempts is dropped and logged, never requeued. Backoff
// between attempts is retryBackoff doubled per attempt (1s, 2s, 4s with the
// defaults).
func NewQueue(snapshot *store.Snapshot, history store.HistoryStore, publisher EventPublisher) *Queue {
	return &Queue{
		snapshot:     snapshot,
		history:      history,
		publisher:    publisher,
		maxAttempts:  3,
		retryBackoff: time.Second,
	}
}

// Submit schedules a job. The release callback runs exactly once when the
// job finishes, success or failure; if scheduling itself fails the permit is
// released immediately - a leaked permit is a data-loss-adjacent bug class
// guarded against explicitly.
func (q *Queue) Submit(ctx context.Context, job Job, release func()) {
	defer func() {
		if r := recover(); r != nil {
			release()
			logging.Error().Interface("panic", r).Str("job_id", job.ID).Msg("ingestion job submission panicked")
		}
	}()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer release()
		q.process(ctx, job)
	}()
}

// Wait blocks until all in-flight jobs complete. Used on shutdown.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// process runs a job in three stages: snapshot upsert (in-memory, cannot
// fail), history append, event publish. The two fallible stages retry
// independently, so a broker hiccup never re-runs the history write and a
// history fault never blocks fan-out.
func (q *Queue) process(ctx context.Context, job Job) {
	start := time.Now()
	defer func() { metrics.IngestJobDuration.Observe(time.Since(start).Seconds()) }()

	newAssets := make([]models.NewAsset, 0, 2)
	for i := range job.Samples {
		if isNew := q.snapshot.Upsert(job.Samples[i]); isNew {
			newAssets = append(newAssets, models.NewAsset{
				Kind:      job.Samples[i].Kind,
				ID:        job.Samples[i].ID,
				FirstSeen: job.Samples[i].Timestamp,
			})
		}
	}

	historyErr := q.withRetry(ctx, job, "history", func() error {
		return q.history.Append(ctx, job.Samples)
	})
	publishErr := q.withRetry(ctx, job, "publish", func() error {
		return q.publishAll(ctx, job, newAssets)
	})

	if historyErr != nil || publishErr != nil {
		// Exhausted: a single stale telemetry batch is an accepted loss, a
		// process-wide stall is not.
		metrics.IngestJobsDropped.Inc()
		logging.Error().
			AnErr("history_error", historyErr).
			AnErr("publish_error", publishErr).
			Str("job_id", job.ID).
			Int("samples", len(job.Samples)).
			Msg("dropping ingestion job after exhausting retries")
		return
	}
	metrics.FeedBatchesTotal.Inc()
}

// withRetry runs one stage up to maxAttempts times with doubling backoff.
func (q *Queue) withRetry(ctx context.Context, job Job, stage string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt < q.maxAttempts {
			metrics.IngestJobRetries.Inc()
			delay := q.retryBackoff << (attempt - 1)
			logging.Warn().Err(err).
				Str("job_id", job.ID).
				Str("stage", stage).
				Int("attempt", attempt).
				Dur("retry_in", delay).
				Msg("ingestion stage failed, retrying")
			select {
			case <-ctx.Done():
				return err
			case <-time.After(delay):
			}
		}
	}
	return err
}

// publishAll sends one position event per sample plus a first-sighting event
// per new asset. Publish-after-persist is at-least-once, not transactional; a
// position event may reach subscribers while its history write is in flight.
func (q *Queue) publishAll(ctx context.Context, job Job, newAssets []models.NewAsset) error {
	for i := range job.Samples {
		update := models.PositionUpdate{Kind: job.Samples[i].Kind, Position: job.Samples[i]}
		if err := q.publisher.PublishPosition(ctx, update); err != nil {
			return err
		}
	}
	for _, asset := range newAssets {
		if err := q.publisher.PublishNewAsset(ctx, asset); err != nil {
			return err
		}
	}
	return nil
}

// NewJob wraps samples in a job with a fresh id.
func NewJob(samples []models.PositionSample) Job {
	return Job{ID: uuid.NewString(), Samples: samples}
}
