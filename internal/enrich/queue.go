// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package enrich

import (
	"container/heap"
	"sync"
	"time"

	"github.com/portolan-project/portolan/internal/metrics"
)

// Item statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Stats is the queue's observable state.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// item is one queued enrichment request.
type item struct {
	mmsi       string
	priority   int
	attempts   int
	notBefore  time.Time
	enqueuedAt time.Time
	index      int
}

// itemHeap orders by priority (higher first), then FIFO within a priority.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].enqueuedAt.Before(h[j].enqueuedAt)
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is the in-memory enrichment queue. An MMSI that is already pending
// or processing is not enqueued twice; completed and failed entries may be
// re-enqueued (the scheduler does exactly that for stale vessels).
type Queue struct {
	mu      sync.Mutex
	heap    itemHeap
	pending map[string]*item
	working map[string]*item

	completed int
	failed    int
}

// NewQueue creates an empty enrichment queue.
func NewQueue() *Queue {
	return &Queue{
		pending: make(map[string]*item),
		working: make(map[string]*item),
	}
}

// Enqueue adds an MMSI at the given priority. Returns false if the vessel is
// already queued or being processed.
func (q *Queue) Enqueue(mmsi string, priority int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[mmsi]; ok {
		return false
	}
	if _, ok := q.working[mmsi]; ok {
		return false
	}

	it := &item{
		mmsi:       mmsi,
		priority:   priority,
		enqueuedAt: time.Now(),
	}
	heap.Push(&q.heap, it)
	q.pending[mmsi] = it
	metrics.EnrichmentQueueDepth.Set(float64(len(q.pending)))
	return true
}

// next pops the highest-priority item whose backoff window has passed and
// marks it processing. Returns nil when nothing is eligible.
func (q *Queue) next(now time.Time) *item {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Deferred items sit at the top until eligible; scan past them without
	// losing heap order by collecting and re-pushing.
	var deferred []*item
	var picked *item
	for q.heap.Len() > 0 {
		it := heap.Pop(&q.heap).(*item)
		if it.notBefore.After(now) {
			deferred = append(deferred, it)
			continue
		}
		picked = it
		break
	}
	for _, it := range deferred {
		heap.Push(&q.heap, it)
	}

	if picked == nil {
		return nil
	}
	delete(q.pending, picked.mmsi)
	q.working[picked.mmsi] = picked
	metrics.EnrichmentQueueDepth.Set(float64(len(q.pending)))
	return picked
}

// complete finishes an item successfully.
func (q *Queue) complete(it *item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.working, it.mmsi)
	q.completed++
}

// retry re-queues a failed attempt with its backoff window, or marks the
// item failed once attempts are exhausted. Reports whether it was requeued.
func (q *Queue) retry(it *item, maxAttempts int, backoffBase time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.working, it.mmsi)
	it.attempts++
	if it.attempts >= maxAttempts {
		q.failed++
		return false
	}

	it.notBefore = time.Now().Add(backoffBase << (it.attempts - 1))
	heap.Push(&q.heap, it)
	q.pending[it.mmsi] = it
	metrics.EnrichmentQueueDepth.Set(float64(len(q.pending)))
	return true
}

// requeue puts a checked-out item back unchanged, e.g. on worker shutdown.
func (q *Queue) requeue(it *item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.working, it.mmsi)
	heap.Push(&q.heap, it)
	q.pending[it.mmsi] = it
	metrics.EnrichmentQueueDepth.Set(float64(len(q.pending)))
}

// Stats returns a point-in-time view of the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:    len(q.pending),
		Processing: len(q.working),
		Completed:  q.completed,
		Failed:     q.failed,
	}
}
