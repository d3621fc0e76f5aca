// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/portolan-project/portolan/internal/logging"
	"github.com/portolan-project/portolan/internal/models"
)

// Source resolves an MMSI to registry metadata.
type Source interface {
	Lookup(ctx context.Context, mmsi string) (models.VesselMetadata, error)
}

// HTTPSource queries a registry endpoint expecting JSON metadata at
// <base>/vessels/<mmsi>. Lookups run inside a circuit breaker so a dead
// registry fails fast instead of burning the worker's rate budget on
// timeouts.
type HTTPSource struct {
	base    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[models.VesselMetadata]
}

// NewHTTPSource creates a registry client for the given base URL.
func NewHTTPSource(base string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		base:   base,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[models.VesselMetadata](gobreaker.Settings{
			Name:        "enrichment-source",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("enrichment source breaker state change")
			},
		}),
	}
}

// Lookup fetches metadata for one vessel.
func (s *HTTPSource) Lookup(ctx context.Context, mmsi string) (models.VesselMetadata, error) {
	return s.breaker.Execute(func() (models.VesselMetadata, error) {
		return s.fetch(ctx, mmsi)
	})
}

func (s *HTTPSource) fetch(ctx context.Context, mmsi string) (models.VesselMetadata, error) {
	var md models.VesselMetadata

	u := fmt.Sprintf("%s/vessels/%s", s.base, url.PathEscape(mmsi))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return md, fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return md, fmt.Errorf("registry lookup %s: %w", mmsi, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return md, fmt.Errorf("registry lookup %s: status %d", mmsi, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return md, fmt.Errorf("decode registry response for %s: %w", mmsi, err)
	}
	md.MMSI = mmsi
	md.UpdatedAt = time.Now().UTC()
	return md, nil
}
