// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package models

import "time"

// PositionUpdate is the tagged event published on the bridge and pushed to
// clients. Defining the shape here keeps internal components from branching
// on untyped JSON.
type PositionUpdate struct {
	Kind     AssetKind      `json:"kind"`
	Position PositionSample `json:"position"`
}

// NewAsset announces an object id seen for the first time.
type NewAsset struct {
	Kind      AssetKind `json:"kind"`
	ID        string    `json:"id"`
	FirstSeen time.Time `json:"firstSeen"`
}

// RegionAlert relays a geofence evaluation result from the external rule
// engine. Portolan only forwards positions to that collaborator and fans its
// alerts out; it never evaluates rules itself.
type RegionAlert struct {
	RegionID  string    `json:"regionId"`
	Kind      AssetKind `json:"kind"`
	ObjectID  string    `json:"objectId"`
	Event     string    `json:"event"` // "enter" | "exit" | "dwell"
	Lat       float64   `json:"latitude"`
	Lon       float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// ConfigUpdate notifies connected clients of a server-side configuration
// change (e.g. enrichment results, feed switch-over).
type ConfigUpdate struct {
	Scope     string         `json:"scope"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ConnectionStats is pushed periodically to all clients.
type ConnectionStats struct {
	TotalClients    int       `json:"totalClients"`
	ActiveViewports int       `json:"activeViewports"`
	Timestamp       time.Time `json:"timestamp"`
}

// CollectorStatus is the read-only health surface of the stream collector.
type CollectorStatus struct {
	Enabled           bool      `json:"enabled"`
	Streaming         bool      `json:"streaming"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	MaxAttempts       int       `json:"maxAttempts"`
	InFlightJobs      int       `json:"inFlightJobs"`
	MaxConcurrency    int       `json:"maxConcurrency"`
	FeedURL           string    `json:"feedUrl"`
	Timestamp         time.Time `json:"timestamp"`
}

// HealthStatus is returned by GET /health.
type HealthStatus struct {
	Status          string     `json:"status"` // healthy | degraded
	Version         string     `json:"version"`
	BridgeConnected bool       `json:"bridgeConnected"`
	CollectorAlive  bool       `json:"collectorAlive"`
	Clients         int        `json:"clients"`
	Viewports       int        `json:"viewports"`
	StartedAt       time.Time  `json:"startedAt"`
	UptimeSeconds   float64    `json:"uptimeSeconds"`
	LastIngestAt    *time.Time `json:"lastIngestAt,omitempty"`
}
