// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package gateway

import (
	"context"
	"sort"
	"sync"

	"github.com/portolan-project/portolan/internal/delta"
	"github.com/portolan-project/portolan/internal/logging"
	"github.com/portolan-project/portolan/internal/metrics"
	"github.com/portolan-project/portolan/internal/viewport"
)

// Hub maintains the set of active clients and their room memberships, and
// broadcasts events to them.
//
// Rooms are cheap string-keyed sets: aircraft:all, aircraft:<id>, vessel:all,
// vessel:<id>. A client may be in any number of rooms. Viewport matching is
// the registry's job, not a room's.
type Hub struct {
	viewports *viewport.Registry
	deltas    *delta.Tracker

	Register   chan *Client
	Unregister chan *Client

	mu      sync.RWMutex
	clients map[*Client]bool
	byConn  map[string]*Client
	rooms   map[string]map[*Client]bool

	// done is the current Serve generation's termination signal. Nil until
	// the first Serve call.
	done chan struct{}
}

// NewHub creates a hub wired to the viewport registry and delta tracker it
// must clean up on disconnect.
func NewHub(viewports *viewport.Registry, deltas *delta.Tracker) *Hub {
	return &Hub{
		viewports:  viewports,
		deltas:     deltas,
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		byConn:     make(map[string]*Client),
		rooms:      make(map[string]map[*Client]bool),
	}
}

// Serve implements suture.Service. Lifecycle events take priority over
// everything else so client state is settled before broadcasts touch it.
func (h *Hub) Serve(ctx context.Context) error {
	h.mu.Lock()
	h.done = make(chan struct{})
	done := h.done
	h.mu.Unlock()
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) String() string { return "gateway-hub" }

// stopped returns a channel closed when the current Serve run has ended.
// A hub that has never served is treated as already stopped, so lifecycle
// sends against it never block.
func (h *Hub) stopped() <-chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return h.done
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.byConn[client.connID] = client
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedClients.Set(float64(total))
	logging.Info().
		Str("conn_id", client.connID).
		Str("subject", client.subject).
		Int("total_clients", total).
		Msg("client connected")
}

// remove drops the client and synchronously clears its viewport and delta
// state. Cleanup must not wait for a sweep: a reconnecting client reusing
// state from its previous life would see wrong suppression decisions.
func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	delete(h.byConn, client.connID)
	for room := range client.rooms {
		h.leaveLocked(client, room)
	}
	client.closeSend()
	total := len(h.clients)
	h.mu.Unlock()

	h.viewports.Remove(client.connID)
	h.deltas.Forget(client.connID)

	metrics.ConnectedClients.Set(float64(total))
	logging.Info().
		Str("conn_id", client.connID).
		Int("total_clients", total).
		Msg("client disconnected")
}

// Join adds the client to a room.
func (h *Hub) Join(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	members[client] = true
	client.rooms[room] = true
}

func (h *Hub) leaveLocked(client *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(client.rooms, room)
}

// BroadcastRoom sends a message to every member of a room in client-id order,
// so delivery order is reproducible across runs.
func (h *Hub) BroadcastRoom(room string, msg ServerMessage) int {
	h.mu.RLock()
	members := h.sortedMembersLocked(h.rooms[room])
	h.mu.RUnlock()

	sent := 0
	for _, client := range members {
		if client.trySend(msg) {
			sent++
		}
	}
	return sent
}

// BroadcastAll sends a message to every connected client in client-id order.
func (h *Hub) BroadcastAll(msg ServerMessage) int {
	h.mu.RLock()
	members := h.sortedMembersLocked(h.clients)
	h.mu.RUnlock()

	sent := 0
	for _, client := range members {
		if client.trySend(msg) {
			sent++
		}
	}
	return sent
}

// RoomMembers returns the connection ids of a room's members in client-id
// order, for callers that need per-connection bookkeeping around the send.
func (h *Hub) RoomMembers(room string) []string {
	h.mu.RLock()
	members := h.sortedMembersLocked(h.rooms[room])
	h.mu.RUnlock()

	ids := make([]string, 0, len(members))
	for _, client := range members {
		ids = append(ids, client.connID)
	}
	return ids
}

// SendTo delivers a message to one connection.
func (h *Hub) SendTo(connID string, msg ServerMessage) bool {
	h.mu.RLock()
	client, ok := h.byConn[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return client.trySend(msg)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) sortedMembersLocked(set map[*Client]bool) []*Client {
	members := make([]*Client, 0, len(set))
	for client := range set {
		members = append(members, client)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].id < members[j].id
	})
	return members
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := len(h.clients)
	for _, client := range h.sortedMembersLocked(h.clients) {
		client.closeSend()
		delete(h.clients, client)
		delete(h.byConn, client.connID)
	}
	h.rooms = make(map[string]map[*Client]bool)
	logging.Info().
		Str("component", "gateway-hub").
		Int("clients_closed", count).
		Msg("hub stopped, closed all clients")
}
