// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

// Package gateway fans position updates out to WebSocket map clients.
//
// The hub tracks clients and their room memberships (per-object, per-kind,
// and per-cell rooms). Two delivery paths feed it: the broadcast scheduler
// walks viewport subscriptions on a fixed tick, and the bridge pump pushes
// individual events the moment they arrive. The delta tracker arbitrates
// between them so a client never receives the same position twice.
package gateway
