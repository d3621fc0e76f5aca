// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

// Package enrich looks up static vessel registry metadata (name, call sign,
// type, flag) to complement the positional telemetry. Lookups go to an
// external registry, so the worker drains a priority queue under a rate
// limiter and a circuit breaker; a vessel that cannot be enriched after
// three attempts is marked failed and retried by the periodic scheduler.
// The whole package is optional: tracking works without it.
package enrich
