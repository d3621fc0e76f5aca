// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package collector

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/portolan-project/portolan/internal/logging"
	"github.com/portolan-project/portolan/internal/metrics"
	"github.com/portolan-project/portolan/internal/models"
)

// feedRecord is one loosely-shaped position object on the feed wire. The
// object id arrives under a different key per upstream (generic id, aviation
// flightId, maritime mmsi); the id key also decides the asset kind.
type feedRecord struct {
	ID        string   `json:"id"`
	FlightID  string   `json:"flightId"`
	MMSI      string   `json:"mmsi"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Course    *float64 `json:"course,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
	Quality   *float64 `json:"quality,omitempty"`
}

// decodeBatch parses one feed line into validated position samples. A line
// that is not a JSON array, or an empty array, yields no samples. Individual
// records with out-of-range coordinates are dropped with a metric; they must
// never reach the spatial index.
func decodeBatch(line []byte, defaultKind models.AssetKind, source string, now time.Time) ([]models.PositionSample, bool) {
	var records []feedRecord
	if err := json.Unmarshal(line, &records); err != nil {
		metrics.FeedParseErrors.Inc()
		logging.Warn().Err(err).Int("line_bytes", len(line)).Msg("skipping malformed feed line")
		return nil, false
	}
	if len(records) == 0 {
		return nil, true
	}

	samples := make([]models.PositionSample, 0, len(records))
	for i := range records {
		sample, ok := records[i].toSample(defaultKind, source, now)
		if !ok {
			continue
		}
		samples = append(samples, sample)
		metrics.FeedSamplesTotal.WithLabelValues(string(sample.Kind)).Inc()
	}
	return samples, true
}

func (r *feedRecord) toSample(defaultKind models.AssetKind, source string, now time.Time) (models.PositionSample, bool) {
	sample := models.PositionSample{
		Kind:     defaultKind,
		Lat:      r.Latitude,
		Lon:      r.Longitude,
		Altitude: r.Altitude,
		Speed:    r.Speed,
		Heading:  r.Heading,
		Course:   r.Course,
		Source:   source,
		Quality:  r.Quality,
	}

	switch {
	case r.FlightID != "":
		sample.Kind = models.KindAircraft
		sample.ID = r.FlightID
	case r.MMSI != "":
		sample.Kind = models.KindVessel
		sample.ID = r.MMSI
	default:
		sample.ID = r.ID
	}

	sample.Timestamp = now
	if r.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, r.Timestamp); err == nil {
			sample.Timestamp = ts
		}
	}

	if err := sample.Validate(); err != nil {
		metrics.FeedInvalidSamples.Inc()
		logging.Warn().Err(err).Str("object_id", sample.ID).Msg("rejecting invalid feed record")
		return models.PositionSample{}, false
	}
	return sample, true
}
