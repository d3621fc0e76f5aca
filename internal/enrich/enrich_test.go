// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/portolan-project/portolan/internal/models"
)

func TestQueueDedupesPendingVessels(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	if !q.Enqueue("123456789", 0) {
		t.Fatal("first enqueue rejected")
	}
	if q.Enqueue("123456789", 5) {
		t.Error("duplicate enqueue accepted while pending")
	}
	if got := q.Stats().Pending; got != 1 {
		t.Errorf("pending = %d, want 1", got)
	}
}

func TestQueuePriorityOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.Enqueue("low", 0)
	q.Enqueue("high", 10)
	q.Enqueue("mid", 5)

	now := time.Now()
	var order []string
	for it := q.next(now); it != nil; it = q.next(now) {
		order = append(order, it.mmsi)
		q.complete(it)
	}

	want := []string{"high", "mid", "low"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("drain order = %v, want %v", order, want)
		}
	}
}

func TestQueueRetryBackoffAndFailure(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.Enqueue("123456789", 0)

	now := time.Now()
	it := q.next(now)
	if it == nil {
		t.Fatal("nothing to process")
	}

	// First failure: requeued with a backoff window.
	if !q.retry(it, 3, time.Minute) {
		t.Fatal("first failure not requeued")
	}
	if got := q.next(now); got != nil {
		t.Fatal("item eligible before its backoff window passed")
	}
	it = q.next(now.Add(2 * time.Minute))
	if it == nil {
		t.Fatal("item not eligible after backoff window")
	}

	// Second failure requeues, third marks failed.
	if !q.retry(it, 3, time.Millisecond) {
		t.Fatal("second failure not requeued")
	}
	it = q.next(now.Add(time.Hour))
	if it == nil {
		t.Fatal("expected item after second backoff")
	}
	if q.retry(it, 3, time.Millisecond) {
		t.Error("third failure requeued past max attempts")
	}
	if got := q.Stats().Failed; got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
}

func TestWorkerEnrichesThroughHTTPSource(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vessels/235009820" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"name":"EVER GIVEN","callSign":"H3RC","vesselType":"cargo","flag":"PA"}`)
	}))
	defer srv.Close()

	q := NewQueue()
	store := NewMetadataStore()
	worker := NewWorker(WorkerConfig{
		Rate:     rate.Every(time.Millisecond),
		Burst:    1,
		IdlePoll: time.Millisecond,
	}, q, NewHTTPSource(srv.URL, time.Second), store, nil)

	q.Enqueue("235009820", 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Serve(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if md, ok := store.Get("235009820"); ok {
			if md.Name != "EVER GIVEN" || md.Flag != "PA" {
				t.Errorf("unexpected metadata: %+v", md)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("vessel never enriched")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if got := q.Stats().Completed; got != 1 {
		t.Errorf("completed = %d, want 1", got)
	}
}

type staticLister []string

func (l staticLister) VesselIDs() []string { return l }

func TestSchedulerRequeuesStaleAndUnknownVessels(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	store := NewMetadataStore()
	now := time.Now().UTC()

	store.Upsert(models.VesselMetadata{MMSI: "fresh", UpdatedAt: now.Add(-time.Hour)})
	store.Upsert(models.VesselMetadata{MMSI: "stale", UpdatedAt: now.Add(-60 * 24 * time.Hour)})

	sched := NewScheduler(q, store, staticLister{"fresh", "stale", "unknown"}, time.Minute, 30*24*time.Hour)
	sched.sweep(now)

	stats := q.Stats()
	if stats.Pending != 2 {
		t.Errorf("pending = %d, want 2 (stale + unknown)", stats.Pending)
	}
	if q.Enqueue("stale", 0) {
		t.Error("stale vessel was not actually enqueued by the sweep")
	}
}
