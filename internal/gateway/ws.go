// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package gateway

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/portolan-project/portolan/internal/logging"
)

// Handler upgrades HTTP requests to WebSocket connections and registers the
// resulting clients with the hub.
type Handler struct {
	hub      *Hub
	auth     *Authenticator
	upgrader websocket.Upgrader
}

// NewHandler creates the /ws endpoint handler. allowedOrigins of nil accepts
// any origin (same as the map frontend being served elsewhere).
func NewHandler(hub *Hub, auth *Authenticator, allowedOrigins []string) *Handler {
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return &Handler{
		hub:  hub,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(originSet) == 0 {
					return true
				}
				return originSet[r.Header.Get("Origin")]
			},
		},
	}
}

// ServeHTTP authenticates, upgrades, and starts the client pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subject, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(h.hub, conn, uuid.NewString(), subject)
	select {
	case h.hub.Register <- client:
		client.Start()
	case <-h.hub.stopped():
		_ = conn.Close()
	}
}
