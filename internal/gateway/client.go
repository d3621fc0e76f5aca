// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/portolan-project/portolan/internal/logging"
	"github.com/portolan-project/portolan/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 256
)

// clientIDCounter hands out monotonically increasing ids so broadcast order
// is stable within a process run.
var clientIDCounter atomic.Uint64

// Client is the middleman between one WebSocket connection and the hub.
type Client struct {
	id      uint64
	connID  string
	subject string
	hub     *Hub
	conn    *websocket.Conn

	send chan ServerMessage

	// closeMu guards send against a concurrent close from the hub. The hub
	// closes the channel on unregister while the scheduler and bridge pump
	// may still hold a reference to this client.
	closeMu sync.RWMutex
	closed  bool

	// rooms is owned by the hub and mutated only under the hub's lock.
	rooms map[string]bool
}

// NewClient wraps an upgraded connection. connID is the stable identifier
// used by the viewport registry and delta tracker; subject is the
// authenticated principal ("anonymous" in permissive mode).
func NewClient(hub *Hub, conn *websocket.Conn, connID, subject string) *Client {
	return &Client{
		id:      clientIDCounter.Add(1),
		connID:  connID,
		subject: subject,
		hub:     hub,
		conn:    conn,
		send:    make(chan ServerMessage, sendBuffer),
		rooms:   make(map[string]bool),
	}
}

// ConnID returns the stable connection identifier.
func (c *Client) ConnID() string { return c.connID }

// Start launches the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// trySend enqueues a message without blocking. A full buffer drops the
// message: a client that cannot keep up gets the next tick's snapshot
// instead of an ever-growing backlog.
func (c *Client) trySend(msg ServerMessage) bool {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// closeSend marks the client closed and closes the send channel. Called by
// the hub exactly once.
func (c *Client) closeSend() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// unregister hands the client back to the hub. When the hub has already
// stopped and closed every client there is nothing left to hand back, so the
// call must not block on the drained channel.
func (c *Client) unregister() {
	select {
	case c.hub.Unregister <- c:
	case <-c.hub.stopped():
	}
}

func (c *Client) readPump() {
	defer func() {
		c.unregister()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Str("conn_id", c.connID).Msg("set read deadline failed")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("conn_id", c.connID).Msg("unexpected websocket close")
			}
			return
		}
		c.handle(msg)
	}
}

// handle dispatches one inbound protocol frame. A malformed frame answers
// with an error event and leaves the connection open.
func (c *Client) handle(msg ClientMessage) {
	switch msg.Type {
	case MsgSubscribeAircraft:
		c.subscribeKind(models.KindAircraft, msg.ID)

	case MsgSubscribeVessels:
		c.subscribeKind(models.KindVessel, msg.ID)

	case MsgSubscribeViewport, MsgUpdateViewport:
		c.setViewport(msg.Bbox)

	case MsgPing:
		now := time.Now().UnixMilli()
		var latency int64
		if msg.Timestamp > 0 && msg.Timestamp <= now {
			latency = now - msg.Timestamp
		}
		c.trySend(ServerMessage{Type: EventPong, Data: Pong{Timestamp: now, Latency: latency}})

	default:
		logging.Debug().
			Str("conn_id", c.connID).
			Str("type", msg.Type).
			Msg("ignoring unknown client message type")
		c.trySend(ServerMessage{Type: EventError, Data: "unknown message type: " + msg.Type})
	}
}

func (c *Client) subscribeKind(kind models.AssetKind, id string) {
	room := kindRoom(kind)
	if id != "" {
		room = objectRoom(kind, id)
	}
	c.hub.Join(c, room)
	logging.Debug().
		Str("conn_id", c.connID).
		Str("room", room).
		Msg("client joined room")
}

// setViewport validates the bbox and registers it. The registry is the single
// source of truth for spatial matching; viewport delivery never goes through
// rooms. subscribeViewport and updateViewport are deliberately the same
// operation: an update is a re-subscription.
func (c *Client) setViewport(vals []float64) {
	bbox, err := models.BboxFromSlice(vals)
	if err != nil {
		logging.Warn().Err(err).Str("conn_id", c.connID).Msg("rejecting invalid viewport")
		c.trySend(ServerMessage{Type: EventError, Data: "invalid viewport: " + err.Error()})
		return
	}

	cellKey := c.hub.viewports.Set(c.connID, bbox)
	c.trySend(ServerMessage{
		Type: EventViewportAck,
		Data: ViewportAck{CellKey: cellKey, Bbox: bbox},
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
