// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

// Package bridge decouples ingestion from fan-out over NATS. The ingestion
// side publishes position, new-asset, region-alert, and config-update events;
// the gateway consumes them. An embedded NATS server makes single-binary
// deployments self-contained, and an external cluster URL supports scale-out.
//
// Delivery is fire-and-forget core NATS: a position update superseded 3
// seconds later is not worth the durability cost of a stream. The publisher
// is wrapped in a circuit breaker so a broker outage degrades fan-out rather
// than stalling ingestion.
package bridge
