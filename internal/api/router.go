// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

// Package api exposes the HTTP surface: the WebSocket upgrade endpoint, the
// health and metrics endpoints, and a small read-only JSON API over the
// ingestion and enrichment state.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators the router serves from.
type Deps struct {
	WebSocket  http.Handler
	Health     *HealthHandler
	Ingest     *IngestHandler
	Enrichment *EnrichmentHandler
	History    *HistoryHandler

	CORSOrigins []string
	RateLimit   int
}

// NewRouter assembles the chi router with CORS and per-IP rate limiting.
// The WebSocket and metrics endpoints sit outside the rate limiter: the
// former is long-lived, the latter is scraped by infrastructure.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(deps.CORSOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ws", deps.WebSocket.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if deps.RateLimit > 0 {
			r.Use(httprate.LimitByIP(deps.RateLimit, time.Minute))
		}

		r.Get("/health", deps.Health.Health)
		r.Get("/health/live", deps.Health.Live)
		r.Get("/health/ready", deps.Health.Ready)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/ingest/status", deps.Ingest.Status)
			r.Get("/enrichment/stats", deps.Enrichment.Stats)
			r.Get("/enrichment/vessels/{mmsi}", deps.Enrichment.Vessel)
			r.Get("/history/{kind}", deps.History.Recent)
		})
	})

	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
