// Package transport maintains this replica's WebSocket sessions and
// room membership, and carries client events into the lobby
// coordinator and the shared store.
package transport

import (
	"context"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/triviaroyale/server/internal/v1/lobby"
	"github.com/triviaroyale/server/internal/v1/logging"
	"github.com/triviaroyale/server/internal/v1/metrics"
	"github.com/triviaroyale/server/internal/v1/ratelimit"
	"github.com/triviaroyale/server/internal/v1/registry"
	"github.com/triviaroyale/server/internal/v1/store"
)

// Hub owns every WebSocket session on this replica and their room
// membership. It implements bus.RoomBroadcaster for the dispatcher.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client
	rooms   map[string]map[*Client]struct{}

	coordinator    *lobby.Coordinator
	registry       *registry.Registry
	store          *store.Service
	limiter        *ratelimit.Limiter
	allowedOrigins []string
	devMode        bool
}

// NewHub creates a Hub wired to its collaborators.
func NewHub(coord *lobby.Coordinator, reg *registry.Registry, st *store.Service, limiter *ratelimit.Limiter, allowedOrigins []string, devMode bool) *Hub {
	return &Hub{
		clients:        make(map[string]*Client),
		rooms:          make(map[string]map[*Client]struct{}),
		coordinator:    coord,
		registry:       reg,
		store:          st,
		limiter:        limiter,
		allowedOrigins: allowedOrigins,
		devMode:        devMode,
	}
}

// ServeWs upgrades the request and starts the session's message
// pumps.
func (h *Hub) ServeWs(c *gin.Context) {
	if !h.devMode && !h.limiter.AllowWebSocket(c) {
		return // response already written
	}

	conn, err := h.upgradeWebSocket(c)
	if err != nil {
		return
	}

	client := &Client{
		conn: conn,
		hub:  h,
		id:   uuid.NewString(),
		send: make(chan []byte, 256),
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	metrics.IncConnection()
	logging.Info(c.Request.Context(), "session connected", zap.String("session_id", client.id))

	go client.writePump()
	go client.readPump()
}

// JoinRoom adds a session to a room's local membership.
func (h *Hub) JoinRoom(roomName string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomName]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[roomName] = members
	}
	members[client] = struct{}{}
}

// Broadcast delivers a payload to every session locally joined to the
// room. Implements bus.RoomBroadcaster; payloads already had their
// room_name stripped by the dispatcher.
func (h *Hub) Broadcast(roomName string, payload []byte) {
	h.mu.Lock()
	members := make([]*Client, 0, len(h.rooms[roomName]))
	for client := range h.rooms[roomName] {
		members = append(members, client)
	}
	h.mu.Unlock()

	for _, client := range members {
		client.Send(payload)
	}
}

// handleDisconnect unwinds a session: local membership, then the
// registry (which handles roster cleanup and the leave announcement).
func (h *Hub) handleDisconnect(client *Client) {
	h.mu.Lock()
	delete(h.clients, client.id)
	if room := client.RoomName(); room != "" {
		if members, ok := h.rooms[room]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.mu.Unlock()

	h.registry.Forget(client.id)
	client.Disconnect()

	logging.Info(context.Background(), "session disconnected", zap.String("session_id", client.id))
}

// Shutdown closes every session gracefully.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "shutting down hub, closing all sessions")

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.Disconnect()
	}

	logging.Info(ctx, "all sessions closed", zap.Int("count", len(clients)))
	return nil
}
