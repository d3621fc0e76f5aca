// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

// Package collector consumes the long-lived NDJSON telemetry feed, decodes
// it incrementally, and hands batches to the ingestion queue under
// backpressure. It owns the reconnect/circuit-breaker state machine.
package collector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/portolan-project/portolan/internal/logging"
	"github.com/portolan-project/portolan/internal/metrics"
	"github.com/portolan-project/portolan/internal/models"
)

// State is the collector's position in its 4-state machine.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Config holds the stream collector settings.
type Config struct {
	// FeedURL is the streaming endpoint; the collector issues one long-lived
	// POST and reads the chunked NDJSON response.
	FeedURL string

	// SourceTag labels samples with their origin feed.
	SourceTag string

	// DefaultKind is assumed for records carrying a bare "id" field.
	DefaultKind models.AssetKind

	// ConnectTimeout bounds dialing plus response headers. Default 30s.
	ConnectTimeout time.Duration

	// RotationDelay is the pause after a clean server-side stream close.
	// Feed rotation is normal operation, not a fault. Default 5s.
	RotationDelay time.Duration

	// BackoffBase and BackoffMax shape the reconnect delay
	// min(base * 2^(n-1), max). Defaults 5s and 5m.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// MaxAttempts is the hard reconnect ceiling. Once exceeded the collector
	// parks in Idle permanently and requires operator intervention.
	// Default 10.
	MaxAttempts int

	// MaxConcurrency caps in-flight ingestion jobs. Default 5.
	MaxConcurrency int
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.RotationDelay <= 0 {
		c.RotationDelay = 5 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 5
	}
	if c.DefaultKind == "" {
		c.DefaultKind = models.KindAircraft
	}
}

// BackoffDelay returns the reconnect delay for the given 1-based attempt:
// min(base * 2^(attempt-1), max).
func BackoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// Collector supervises one feed connection. Run never returns while the
// collector is enabled; Stop (or context cancel) aborts any in-flight
// connection.
type Collector struct {
	cfg    Config
	client *http.Client
	queue  *Queue
	gate   *Gate

	state      atomic.Int32
	attempts   atomic.Int32
	enabled    atomic.Bool
	lastIngest atomic.Int64 // unix nanos, 0 = never
}

// New creates a collector wired to the given queue and gate.
func New(cfg Config, queue *Queue, gate *Gate) *Collector {
	cfg.applyDefaults()

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ConnectTimeout,
	}

	c := &Collector{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		queue:  queue,
		gate:   gate,
	}
	c.enabled.Store(true)
	c.setState(StateIdle)
	return c
}

func (c *Collector) setState(s State) {
	c.state.Store(int32(s))
	metrics.CollectorState.Set(float64(s))
}

// CurrentState returns the state machine position.
func (c *Collector) CurrentState() State {
	return State(c.state.Load())
}

// Enabled reports whether the collector is still supervising the feed.
// False after the reconnect ceiling is breached.
func (c *Collector) Enabled() bool {
	return c.enabled.Load()
}

// Status returns the read-only health surface.
func (c *Collector) Status() models.CollectorStatus {
	return models.CollectorStatus{
		Enabled:           c.enabled.Load(),
		Streaming:         c.CurrentState() == StateStreaming,
		ReconnectAttempts: int(c.attempts.Load()),
		MaxAttempts:       c.cfg.MaxAttempts,
		InFlightJobs:      c.gate.InFlight(),
		MaxConcurrency:    c.gate.Capacity(),
		FeedURL:           c.cfg.FeedURL,
		Timestamp:         time.Now().UTC(),
	}
}

// LastIngest returns the time of the last accepted batch, zero if none.
func (c *Collector) LastIngest() time.Time {
	n := c.lastIngest.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Serve implements suture.Service: a supervised loop that reconnects with
// exponential backoff and parks permanently once the ceiling is breached.
func (c *Collector) Serve(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			c.setState(StateIdle)
			return ctx.Err()
		}

		err := c.streamOnce(ctx)
		switch {
		case ctx.Err() != nil:
			c.setState(StateIdle)
			return ctx.Err()

		case err == nil:
			// Clean server-side close: normal feed rotation, no penalty.
			c.setState(StateBackoff)
			logging.Info().
				Dur("delay", c.cfg.RotationDelay).
				Msg("feed stream closed cleanly, reconnecting after rotation delay")
			if !sleepCtx(ctx, c.cfg.RotationDelay) {
				c.setState(StateIdle)
				return ctx.Err()
			}

		default:
			attempts := int(c.attempts.Add(1))
			metrics.CollectorReconnects.Inc()

			if attempts > c.cfg.MaxAttempts {
				// Circuit broken: fatal-but-observable. The health surface
				// reports the disabled state; recovery needs an operator.
				c.enabled.Store(false)
				c.setState(StateIdle)
				logging.Error().Err(err).
					Int("attempts", attempts-1).
					Int("max_attempts", c.cfg.MaxAttempts).
					Str("feed_url", c.cfg.FeedURL).
					Msg("reconnect ceiling breached, collector disabled until restart")
				return suture.ErrDoNotRestart
			}

			delay := BackoffDelay(attempts, c.cfg.BackoffBase, c.cfg.BackoffMax)
			c.setState(StateBackoff)
			logging.Warn().Err(err).
				Int("attempt", attempts).
				Int("max_attempts", c.cfg.MaxAttempts).
				Dur("delay", delay).
				Msg("feed stream failed, backing off")
			if !sleepCtx(ctx, delay) {
				c.setState(StateIdle)
				return ctx.Err()
			}
		}
	}
}

func (c *Collector) String() string { return "stream-collector" }

// streamOnce opens the feed and reads it to completion. Returns nil on a
// clean server-side close, an error on any network fault. A malformed line
// never terminates the stream.
func (c *Collector) streamOnce(ctx context.Context) error {
	c.setState(StateConnecting)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.FeedURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	// Connected: reset the failure counter and start reading.
	c.attempts.Store(0)
	c.setState(StateStreaming)
	logging.Info().Str("feed_url", c.cfg.FeedURL).Msg("feed stream connected")

	return c.readLoop(ctx, resp.Body)
}

// readLoop decodes the chunked body line by line, buffering partial lines.
// It yields to the gate on every batch, so a slow downstream throttles the
// read rate here by design.
func (c *Collector) readLoop(ctx context.Context, body io.Reader) error {
	reader := bufio.NewReaderSize(body, 64*1024)

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			c.handleLine(ctx, trimLine(line))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil // clean close
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read feed stream: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Collector) handleLine(ctx context.Context, line []byte) {
	if len(line) == 0 {
		return
	}

	samples, ok := decodeBatch(line, c.cfg.DefaultKind, c.cfg.SourceTag, time.Now().UTC())
	if !ok || len(samples) == 0 {
		return
	}

	// Backpressure: block the read loop until a permit frees up.
	if err := c.gate.Acquire(ctx); err != nil {
		return
	}
	metrics.IngestJobsInFlight.Set(float64(c.gate.InFlight()))

	c.lastIngest.Store(time.Now().UnixNano())
	c.queue.Submit(ctx, NewJob(samples), func() {
		c.gate.Release()
		metrics.IngestJobsInFlight.Set(float64(c.gate.InFlight()))
	})
}

func trimLine(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

// sleepCtx sleeps for d unless the context is canceled first; reports
// whether the full sleep completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
