// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/portolan-project/portolan/internal/enrich"
	"github.com/portolan-project/portolan/internal/logging"
	"github.com/portolan-project/portolan/internal/models"
	"github.com/portolan-project/portolan/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("write json response failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// CollectorStatus is the slice of the collector the handlers read.
type CollectorStatus interface {
	Status() models.CollectorStatus
	Enabled() bool
	LastIngest() time.Time
}

// HealthHandler serves the liveness/readiness surface.
type HealthHandler struct {
	Version   string
	StartedAt time.Time

	Collector CollectorStatus
	Bridge    interface{ IsRunning() bool }
	Clients   interface{ ClientCount() int }
	Viewports interface{ Len() int }
}

// Health reports overall status: "degraded" when the collector has
// permanently stopped or the bridge is down, never an error code. Degraded
// is an operator signal, not an outage.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	bridgeUp := h.Bridge == nil || h.Bridge.IsRunning()
	collectorAlive := h.Collector == nil || h.Collector.Enabled()

	status := "healthy"
	if !bridgeUp || !collectorAlive {
		status = "degraded"
	}

	out := models.HealthStatus{
		Status:          status,
		Version:         h.Version,
		BridgeConnected: bridgeUp,
		CollectorAlive:  collectorAlive,
		StartedAt:       h.StartedAt,
		UptimeSeconds:   time.Since(h.StartedAt).Seconds(),
	}
	if h.Clients != nil {
		out.Clients = h.Clients.ClientCount()
	}
	if h.Viewports != nil {
		out.Viewports = h.Viewports.Len()
	}
	if h.Collector != nil {
		if last := h.Collector.LastIngest(); !last.IsZero() {
			out.LastIngestAt = &last
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// Live always answers 200 while the process runs.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Ready answers 503 until the bridge accepts connections.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Bridge != nil && !h.Bridge.IsRunning() {
		writeError(w, http.StatusServiceUnavailable, "bridge not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// IngestHandler exposes the collector's health surface.
type IngestHandler struct {
	Collector CollectorStatus
}

// Status returns the collector state machine snapshot.
func (h *IngestHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.Collector == nil {
		writeError(w, http.StatusNotFound, "ingestion disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.Collector.Status())
}

// EnrichmentHandler exposes enrichment queue stats and resolved metadata.
type EnrichmentHandler struct {
	Queue *enrich.Queue
	Store *enrich.MetadataStore
}

// Stats returns the queue counters.
func (h *EnrichmentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.Queue == nil {
		writeError(w, http.StatusNotFound, "enrichment disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.Queue.Stats())
}

// Vessel returns resolved metadata for one MMSI.
func (h *EnrichmentHandler) Vessel(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusNotFound, "enrichment disabled")
		return
	}
	mmsi := chi.URLParam(r, "mmsi")
	md, ok := h.Store.Get(mmsi)
	if !ok {
		writeError(w, http.StatusNotFound, "vessel not enriched")
		return
	}
	writeJSON(w, http.StatusOK, md)
}

// HistoryHandler serves recent position history from the history store.
type HistoryHandler struct {
	Store store.HistoryStore
}

// Recent returns positions for a kind since ?since= (RFC3339, default 1h
// ago), capped at ?limit= rows.
func (h *HistoryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}

	kind := models.AssetKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown asset kind")
		return
	}

	since := time.Now().Add(-time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		since = parsed
	}

	limit := 1000
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	rows, err := h.Store.RecentPositions(r.Context(), kind, since, limit)
	if err != nil {
		logging.Error().Err(err).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
