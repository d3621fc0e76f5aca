// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package gateway

import "github.com/portolan-project/portolan/internal/models"

// Client-to-server message types.
const (
	MsgSubscribeAircraft = "subscribeToAircraft"
	MsgSubscribeVessels  = "subscribeToVessels"
	MsgSubscribeViewport = "subscribeViewport"
	MsgUpdateViewport    = "updateViewport"
	MsgPing              = "ping"
)

// Server-to-client event types.
const (
	EventAircraftPosition = "aircraftPositionUpdate"
	EventVesselPosition   = "vesselPositionUpdate"
	EventNewAircraft      = "newAircraft"
	EventNewVessel        = "newVessel"
	EventRegionAlert      = "regionAlert"
	EventConfigUpdate     = "configUpdate"
	EventConnectionStats  = "connectionStats"
	EventViewportAck      = "viewportSubscribed"
	EventPong             = "pong"
	EventError            = "error"
)

// ClientMessage is one inbound protocol frame. ID narrows a kind
// subscription to a single object; Bbox is [minLon, minLat, maxLon, maxLat];
// Timestamp is the client clock in unix milliseconds on a ping.
type ClientMessage struct {
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"`
	Bbox      []float64 `json:"bbox,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"`
}

// ServerMessage is one outbound protocol frame.
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ViewportAck confirms a viewport subscription and names the spatial cell
// the viewport center falls in.
type ViewportAck struct {
	CellKey string             `json:"cellKey"`
	Bbox    models.BoundingBox `json:"bbox"`
}

// Pong answers a ping with the server clock in unix milliseconds. Latency is
// the client-to-server delay in milliseconds, zero when the ping carried no
// timestamp.
type Pong struct {
	Timestamp int64 `json:"timestamp"`
	Latency   int64 `json:"latency"`
}

// positionEvent returns the per-kind position event type.
func positionEvent(kind models.AssetKind) string {
	if kind == models.KindVessel {
		return EventVesselPosition
	}
	return EventAircraftPosition
}

// newAssetEvent returns the per-kind first-sighting event type.
func newAssetEvent(kind models.AssetKind) string {
	if kind == models.KindVessel {
		return EventNewVessel
	}
	return EventNewAircraft
}

// kindRoom returns the all-objects room for a kind; objectRoom the
// single-object room.
func kindRoom(kind models.AssetKind) string { return string(kind) + ":all" }

func objectRoom(kind models.AssetKind, id string) string { return string(kind) + ":" + id }
