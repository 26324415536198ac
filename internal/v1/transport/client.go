package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/triviaroyale/server/internal/v1/logging"
	"github.com/triviaroyale/server/internal/v1/metrics"
)

// wsConnection defines the interface for WebSocket connection
// operations, so tests can substitute the real connection.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client represents a single session's connection to this replica.
type Client struct {
	conn wsConnection
	hub  *Hub
	id   string // opaque session id, unique within this replica

	mu       sync.RWMutex
	username string
	roomName string
	closed   bool

	closeOnce sync.Once
	send      chan []byte
}

// ID returns the opaque session id.
func (c *Client) ID() string {
	return c.id
}

// RoomName returns the room this session has joined, or "".
func (c *Client) RoomName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomName
}

func (c *Client) setJoined(username, roomName string) {
	c.mu.Lock()
	c.username = username
	c.roomName = roomName
	c.mu.Unlock()
}

// Disconnect closes the send channel, which drives the writePump to
// send a close frame and shut the connection down.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.send) })
}

// Send queues a payload for delivery. Delivery is fire-and-forget: a
// full or closed channel drops the message with a warning.
func (c *Client) Send(data []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "recovered from send to closing client",
				zap.String("session_id", c.id), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "client send channel full, dropping message",
			zap.String("session_id", c.id))
	}
}

// readPump processes incoming messages until the connection dies,
// then unwinds the session.
func (c *Client) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Warn(context.Background(), "dropping malformed client message",
				zap.String("session_id", c.id), zap.Error(err))
			continue
		}

		c.hub.route(context.Background(), c, msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message",
				zap.String("session_id", c.id), zap.Error(err))
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
