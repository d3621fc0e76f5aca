// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

// Command server runs the Portolan tracking server: feed collector, NATS
// bridge, WebSocket gateway, and HTTP API under one supervision tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/portolan-project/portolan/internal/api"
	"github.com/portolan-project/portolan/internal/bridge"
	"github.com/portolan-project/portolan/internal/collector"
	"github.com/portolan-project/portolan/internal/config"
	"github.com/portolan-project/portolan/internal/delta"
	"github.com/portolan-project/portolan/internal/enrich"
	"github.com/portolan-project/portolan/internal/gateway"
	"github.com/portolan-project/portolan/internal/logging"
	"github.com/portolan-project/portolan/internal/models"
	"github.com/portolan-project/portolan/internal/store"
	"github.com/portolan-project/portolan/internal/supervisor"
	"github.com/portolan-project/portolan/internal/viewport"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("version", version).Msg("starting portolan")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Broker: embedded for single-binary deployments, external otherwise.
	// A bridge that cannot be brought up is an operator-surfaced fault but
	// not a fatal one: the server degrades to tick-only delivery and the
	// clients' own reconnect loops recover lazily.
	bridgeUp := true
	natsURL := cfg.NATS.URL
	var embedded *bridge.EmbeddedServer
	if cfg.NATS.Embedded {
		embedded, err = bridge.NewEmbeddedServer(bridge.ServerConfig{
			Host: cfg.NATS.Host,
			Port: cfg.NATS.Port,
		})
		if err != nil {
			logging.Error().Err(err).Msg("embedded nats failed to start, continuing without event bridge")
			bridgeUp = false
			embedded = nil
		} else {
			natsURL = embedded.ClientURL()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = embedded.Shutdown(shutdownCtx)
			}()
		}
	}

	var publisher *bridge.Publisher
	var subscriber *bridge.Subscriber
	if bridgeUp {
		publisher, err = bridge.NewPublisher(bridge.PublisherConfig{URL: natsURL})
		if err != nil {
			logging.Error().Err(err).Msg("bridge publisher unavailable, continuing without event bridge")
			bridgeUp = false
			publisher = nil
		} else {
			defer func() { _ = publisher.Close() }()
		}
	}
	if bridgeUp {
		subscriber, err = bridge.NewSubscriber(bridge.SubscriberConfig{URL: natsURL})
		if err != nil {
			logging.Error().Err(err).Msg("bridge subscriber unavailable, push delivery disabled")
			bridgeUp = false
			subscriber = nil
		} else {
			defer func() { _ = subscriber.Close() }()
		}
	}

	// Ingestion and enrichment publish into the void when the bridge is down;
	// the snapshot and the broadcast tick still serve every client.
	var events collector.EventPublisher = bridge.NopPublisher{}
	var notifier enrich.Notifier = bridge.NopPublisher{}
	if publisher != nil {
		events = publisher
		notifier = publisher
	}

	// Stores.
	snapshot := store.NewSnapshot()
	var history store.HistoryStore = store.NopHistory{}
	if cfg.History.Enabled {
		duck, err := store.OpenDuckDB(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		if err := duck.CreateSchema(ctx); err != nil {
			return fmt.Errorf("create history schema: %w", err)
		}
		defer func() { _ = duck.Close() }()
		history = duck
	}

	// Ingestion.
	gate := collector.NewGate(cfg.Ingest.MaxConcurrency)
	queue := collector.NewQueue(snapshot, history, events)
	coll := collector.New(collector.Config{
		FeedURL:        cfg.Feed.URL,
		SourceTag:      cfg.Feed.SourceTag,
		DefaultKind:    models.AssetKind(cfg.Feed.DefaultKind),
		ConnectTimeout: cfg.Feed.ConnectTimeout,
		RotationDelay:  cfg.Feed.RotationDelay,
		BackoffBase:    cfg.Feed.BackoffBase,
		BackoffMax:     cfg.Feed.BackoffMax,
		MaxAttempts:    cfg.Feed.MaxAttempts,
		MaxConcurrency: cfg.Ingest.MaxConcurrency,
	}, queue, gate)

	// Fan-out.
	viewports := viewport.NewRegistry(cfg.Broadcast.CellPrecision)
	deltas := delta.NewTracker(cfg.Broadcast.DeltaThreshold)
	hub := gateway.NewHub(viewports, deltas)
	scheduler := gateway.NewScheduler(hub, snapshot, viewports, deltas, cfg.Broadcast.TickInterval)
	stats := gateway.NewStatsEmitter(hub, viewports, cfg.Broadcast.StatsInterval)

	var pump *gateway.Pump
	if subscriber != nil {
		pump = gateway.NewPump(hub, subscriber, viewports, deltas)
	} else {
		logging.Warn().Msg("bridge down, running tick-only fan-out")
	}

	auth := gateway.NewAuthenticator(cfg.Security.JWTSecret, cfg.Security.StrictAuth)
	wsHandler := gateway.NewHandler(hub, auth, cfg.Security.CORSOrigins)

	// Optional enrichment.
	var enrichQueue *enrich.Queue
	var enrichStore *enrich.MetadataStore
	var enrichWorker *enrich.Worker
	var enrichSched *enrich.Scheduler
	if cfg.Enrichment.Enabled {
		enrichQueue = enrich.NewQueue()
		enrichStore = enrich.NewMetadataStore()
		source := enrich.NewHTTPSource(cfg.Enrichment.RegistryURL, cfg.Enrichment.LookupTimeout)
		enrichWorker = enrich.NewWorker(enrich.WorkerConfig{
			Rate:        rate.Limit(cfg.Enrichment.RatePerMinute / 60),
			MaxAttempts: cfg.Enrichment.MaxAttempts,
		}, enrichQueue, source, enrichStore, notifier)
		enrichSched = enrich.NewScheduler(
			enrichQueue, enrichStore,
			snapshotVessels{snapshot},
			cfg.Enrichment.SweepInterval, cfg.Enrichment.MetadataAge,
		)
	}

	// HTTP surface.
	health := &api.HealthHandler{
		Version:   version,
		StartedAt: time.Now().UTC(),
		Collector: coll,
		Bridge:    bridgeHealth{embedded: embedded, up: bridgeUp},
		Clients:   hub,
		Viewports: viewports,
	}
	router := api.NewRouter(api.Deps{
		WebSocket:   wsHandler,
		Health:      health,
		Ingest:      &api.IngestHandler{Collector: coll},
		Enrichment:  &api.EnrichmentHandler{Queue: enrichQueue, Store: enrichStore},
		History:     &api.HistoryHandler{Store: historyOrNil(cfg.History.Enabled, history)},
		CORSOrigins: cfg.Security.CORSOrigins,
		RateLimit:   cfg.Server.RateLimit,
	})
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := api.NewServer(addr, router, cfg.Server.ShutdownTimeout)

	// Supervision tree.
	tree := supervisor.NewTree(logging.Slog(), supervisor.DefaultTreeConfig())

	tree.AddIngestService(coll)
	tree.AddIngestService(viewport.NewSweeper(viewports, 0, cfg.Broadcast.ViewportStale))
	tree.AddIngestService(delta.NewSweeper(deltas, 0, 0))

	tree.AddMessagingService(hub)
	if pump != nil {
		tree.AddMessagingService(pump)
	}
	tree.AddMessagingService(scheduler)
	tree.AddMessagingService(stats)
	if enrichWorker != nil {
		tree.AddMessagingService(enrichWorker)
		tree.AddMessagingService(enrichSched)
	}

	tree.AddAPIService(httpServer)

	err = tree.Serve(ctx)

	// Drain in-flight ingestion jobs before the stores close.
	queue.Wait()
	logging.Info().Msg("portolan stopped")
	return err
}

// snapshotVessels adapts the snapshot store to the enrichment scheduler.
type snapshotVessels struct {
	snapshot *store.Snapshot
}

func (s snapshotVessels) VesselIDs() []string {
	recent := s.snapshot.Recent(models.KindVessel, time.Now())
	ids := make([]string, 0, len(recent))
	for i := range recent {
		ids = append(ids, recent[i].ID)
	}
	return ids
}

// bridgeHealth reports the event bridge state: down when startup degraded to
// tick-only mode, otherwise up in external broker mode (the publisher's
// breaker covers actual connectivity) or tracking the embedded server.
type bridgeHealth struct {
	embedded *bridge.EmbeddedServer
	up       bool
}

func (b bridgeHealth) IsRunning() bool {
	if !b.up {
		return false
	}
	if b.embedded == nil {
		return true
	}
	return b.embedded.IsRunning()
}

func historyOrNil(enabled bool, h store.HistoryStore) store.HistoryStore {
	if !enabled {
		return nil
	}
	return h
}
