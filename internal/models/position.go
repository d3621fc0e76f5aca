// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

// Package models defines the entities shared between the ingestion and
// broadcast halves of Portolan. PositionSample is the only type that crosses
// that boundary; everything else is local state of one component.
package models

import (
	"errors"
	"fmt"
	"time"
)

// AssetKind identifies the class of a tracked object.
type AssetKind string

const (
	KindAircraft AssetKind = "aircraft"
	KindVessel   AssetKind = "vessel"
)

// Kinds lists all tracked asset kinds. Used by snapshot sweeps and the
// broadcast tick, which iterate per kind.
var Kinds = []AssetKind{KindAircraft, KindVessel}

// FreshnessWindow returns how old a latest-known position may be and still be
// shown to viewers. Aircraft report continuously so anything older than two
// hours is gone from the sky; AIS vessel reports can legitimately be a day
// apart. This is the single authoritative definition; callers must not
// re-derive these values elsewhere.
func (k AssetKind) FreshnessWindow() time.Duration {
	switch k {
	case KindAircraft:
		return 2 * time.Hour
	case KindVessel:
		return 24 * time.Hour
	default:
		return 2 * time.Hour
	}
}

// Valid reports whether k is a known asset kind.
func (k AssetKind) Valid() bool {
	return k == KindAircraft || k == KindVessel
}

func (k AssetKind) String() string { return string(k) }

// Coordinate range errors returned by PositionSample.Validate.
var (
	ErrLatitudeRange  = errors.New("latitude out of range [-90, 90]")
	ErrLongitudeRange = errors.New("longitude out of range [-180, 180]")
	ErrMissingID      = errors.New("position sample has no object id")
	ErrUnknownKind    = errors.New("unknown asset kind")
)

// PositionSample is one observed position of one asset. Immutable once
// constructed; optional telemetry fields are pointers so absent and zero are
// distinguishable on the wire.
type PositionSample struct {
	Kind      AssetKind `json:"kind"`
	ID        string    `json:"id"`
	Lat       float64   `json:"latitude"`
	Lon       float64   `json:"longitude"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Course    *float64  `json:"course,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	Quality   *float64  `json:"quality,omitempty"`
}

// Key returns the identity key used by the delta tracker and snapshot store.
func (p *PositionSample) Key() string {
	return string(p.Kind) + ":" + p.ID
}

// Validate rejects samples that must never reach the spatial index.
func (p *PositionSample) Validate() error {
	if p.ID == "" {
		return ErrMissingID
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: %f", ErrLatitudeRange, p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: %f", ErrLongitudeRange, p.Lon)
	}
	return nil
}

// BoundingBox is a geographic rectangle in [minLon, minLat, maxLon, maxLat]
// order, matching the wire format of viewport subscriptions.
type BoundingBox struct {
	MinLon float64 `json:"minLon"`
	MinLat float64 `json:"minLat"`
	MaxLon float64 `json:"maxLon"`
	MaxLat float64 `json:"maxLat"`
}

// Contains reports whether the point lies inside the box, boundaries included.
func (b BoundingBox) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Center returns the box midpoint, used to derive the viewport cell key.
func (b BoundingBox) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

// Validate checks coordinate ranges and corner ordering.
func (b BoundingBox) Validate() error {
	if b.MinLat < -90 || b.MaxLat > 90 {
		return ErrLatitudeRange
	}
	if b.MinLon < -180 || b.MaxLon > 180 {
		return ErrLongitudeRange
	}
	if b.MinLon > b.MaxLon || b.MinLat > b.MaxLat {
		return errors.New("bounding box corners out of order")
	}
	return nil
}

// BboxFromSlice converts the wire representation [minLon,minLat,maxLon,maxLat].
func BboxFromSlice(vals []float64) (BoundingBox, error) {
	if len(vals) != 4 {
		return BoundingBox{}, fmt.Errorf("bbox needs 4 values, got %d", len(vals))
	}
	b := BoundingBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
	return b, b.Validate()
}
