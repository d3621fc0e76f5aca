// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package models

import "time"

// VesselMetadata is the static registry information looked up for a vessel,
// as opposed to the positional telemetry arriving on the feed.
type VesselMetadata struct {
	MMSI       string    `json:"mmsi"`
	Name       string    `json:"name,omitempty"`
	CallSign   string    `json:"callSign,omitempty"`
	VesselType string    `json:"vesselType,omitempty"`
	Flag       string    `json:"flag,omitempty"`
	LengthM    *float64  `json:"lengthM,omitempty"`
	BeamM      *float64  `json:"beamM,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
