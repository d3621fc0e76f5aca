// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

// Package geo provides the fixed-precision spatial cell index used as a cheap
// pre-filter for viewport matching, plus distance helpers. Everything here is
// a pure function; state lives in the viewport registry.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// base32 is the geohash encoding alphabet (no a, i, l, o).
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// DefaultPrecision yields cells roughly 39km x 19.5km at the equator, a good
// match for map-viewport sized areas against a continental feed.
const DefaultPrecision = 4

// ErrInvalidCell is returned when a cell key contains characters outside the
// encoding alphabet or is empty.
var ErrInvalidCell = errors.New("invalid cell key")

// CellKey encodes a coordinate into a base-32 geohash cell key of the given
// precision. Deterministic and side-effect free: identical input always
// yields an identical key.
func CellKey(lat, lon float64, precision int) string {
	if precision <= 0 {
		precision = DefaultPrecision
	}

	latMin, latMax := -90.0, 90.0
	lonMin, lonMax := -180.0, 180.0

	var sb strings.Builder
	sb.Grow(precision)

	bit := 0
	ch := 0
	even := true

	for sb.Len() < precision {
		if even {
			mid := (lonMin + lonMax) / 2
			if lon >= mid {
				ch |= 1 << (4 - bit)
				lonMin = mid
			} else {
				lonMax = mid
			}
		} else {
			mid := (latMin + latMax) / 2
			if lat >= mid {
				ch |= 1 << (4 - bit)
				latMin = mid
			} else {
				latMax = mid
			}
		}
		even = !even

		if bit < 4 {
			bit++
		} else {
			sb.WriteByte(base32[ch])
			bit = 0
			ch = 0
		}
	}

	return sb.String()
}

// CellBounds decodes a cell key back into its bounding rectangle.
func CellBounds(cell string) (latMin, latMax, lonMin, lonMax float64, err error) {
	if cell == "" {
		return 0, 0, 0, 0, ErrInvalidCell
	}

	latMin, latMax = -90.0, 90.0
	lonMin, lonMax = -180.0, 180.0
	even := true

	for _, c := range cell {
		idx := strings.IndexRune(base32, c)
		if idx < 0 {
			return 0, 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidCell, cell)
		}
		for bit := 4; bit >= 0; bit-- {
			set := idx&(1<<bit) != 0
			if even {
				mid := (lonMin + lonMax) / 2
				if set {
					lonMin = mid
				} else {
					lonMax = mid
				}
			} else {
				mid := (latMin + latMax) / 2
				if set {
					latMin = mid
				} else {
					latMax = mid
				}
			}
			even = !even
		}
	}

	return latMin, latMax, lonMin, lonMax, nil
}

// Neighbors returns the 8 cells adjacent to the given cell, clockwise from
// north. Longitude wraps across the anti-meridian. Latitude is clamped at the
// poles, so a polar cell lists itself in place of the neighbor that would lie
// beyond the pole; callers use the result as a membership set, where the
// duplicate is harmless.
func Neighbors(cell string) ([]string, error) {
	latMin, latMax, lonMin, lonMax, err := CellBounds(cell)
	if err != nil {
		return nil, err
	}

	latC := (latMin + latMax) / 2
	lonC := (lonMin + lonMax) / 2
	dLat := latMax - latMin
	dLon := lonMax - lonMin

	offsets := [8][2]float64{
		{1, 0},   // N
		{1, 1},   // NE
		{0, 1},   // E
		{-1, 1},  // SE
		{-1, 0},  // S
		{-1, -1}, // SW
		{0, -1},  // W
		{1, -1},  // NW
	}

	out := make([]string, 0, 8)
	for _, off := range offsets {
		lat := latC + off[0]*dLat
		lon := lonC + off[1]*dLon

		// Anti-meridian wrap: stepping east of +180 lands just west of -180.
		if lon > 180 {
			lon -= 360
		} else if lon < -180 {
			lon += 360
		}

		// Pole clamp: there is no cell beyond the pole.
		if lat > 90 {
			lat = latC
		} else if lat < -90 {
			lat = latC
		}

		out = append(out, CellKey(lat, lon, len(cell)))
	}

	return out, nil
}

// CoveringCells returns the cell containing the point plus its 8 neighbors,
// deduplicated. This is the pre-filter set the broadcast path matches
// viewports against.
func CoveringCells(lat, lon float64, precision int) []string {
	center := CellKey(lat, lon, precision)
	cells := []string{center}

	neighbors, err := Neighbors(center)
	if err != nil {
		return cells
	}

	seen := map[string]struct{}{center: {}}
	for _, n := range neighbors {
		if _, dup := seen[n]; !dup {
			seen[n] = struct{}{}
			cells = append(cells, n)
		}
	}
	return cells
}

// Haversine returns the great-circle distance between two points in
// kilometers.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
