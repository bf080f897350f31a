package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/luminode/devicehub-go/internal/auth"
	"github.com/luminode/devicehub-go/internal/core/devices"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Room name helpers

// UserRoom is the per-user notification room
func UserRoom(userID string) string { return "user:" + userID }

// DeviceRoom is the lightweight per-device room
func DeviceRoom(deviceID string) string { return "device:" + deviceID }

// StreamRoom is the per-device stream room
func StreamRoom(deviceID string) string { return "stream:" + deviceID }

// DiscoveryRoom is the global discovery-broadcast room
const DiscoveryRoom = "discovery"

// Client is a middleman between one websocket connection and the hub
type Client struct {
	// Unique connection identifier
	ID string

	// Authenticated principal, attached once at handshake
	Principal devices.Principal

	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	gateway *Gateway
	logger  *logrus.Logger

	RemoteAddr  string
	ConnectedAt time.Time

	// Room membership. Guarded because broadcasts read it from hub
	// goroutines while the read pump mutates it.
	roomsMu sync.RWMutex
	rooms   map[string]bool

	// Guards send against close during disconnect cleanup
	sendMu sync.Mutex
	closed bool
}

// HandleWebSocket authenticates the handshake, upgrades the connection and
// starts the client pumps. The token comes from the Authorization header
// or a token query parameter (browsers cannot set headers on websockets).
func HandleWebSocket(hub *Hub, gateway *Gateway, validator auth.Validator, w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	principal, err := validator.ValidatePrincipal(token)
	if err != nil {
		hub.logger.WithError(err).Warn("WebSocket handshake rejected")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Principal:   *principal,
		conn:        conn,
		send:        make(chan []byte, 256),
		hub:         hub,
		gateway:     gateway,
		logger:      hub.logger,
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
		rooms:       map[string]bool{UserRoom(principal.UserID): true},
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// HandleWebSocketGin is a Gin-compatible wrapper for HandleWebSocket
func HandleWebSocketGin(hub *Hub, gateway *Gateway, validator auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		HandleWebSocket(hub, gateway, validator, c.Writer, c.Request)
	}
}

// readPump pumps messages from the websocket connection to the gateway
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).WithField("connection_id", c.ID).Error("WebSocket connection error")
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump pumps messages from the send channel to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain queued messages into the same frame batch
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage decodes one inbound message and hands it to the gateway
func (c *Client) handleMessage(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.WithError(err).WithField("connection_id", c.ID).Warn("Failed to decode WebSocket message")
		return
	}

	if msg.Type == MessageTypePing {
		c.Send(NewMessage(MessageTypePong, map[string]interface{}{}))
		return
	}

	c.gateway.HandleMessage(c, msg)
}

// Send queues a message for delivery. Safe to call from any goroutine,
// including after the connection closed; messages to a full or closed
// channel are dropped.
func (c *Client) Send(message Message) {
	c.sendRaw(message.ToJSON())
}

func (c *Client) sendRaw(data []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.WithField("connection_id", c.ID).Warn("Client send buffer full, message dropped")
	}
}

// closeSend closes the outbound channel exactly once. Called only from
// the hub's disconnect handler.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// JoinRoom adds the client to a room
func (c *Client) JoinRoom(room string) {
	c.roomsMu.Lock()
	c.rooms[room] = true
	c.roomsMu.Unlock()
}

// LeaveRoom removes the client from a room. Leaving an unjoined room is a
// no-op.
func (c *Client) LeaveRoom(room string) {
	c.roomsMu.Lock()
	delete(c.rooms, room)
	c.roomsMu.Unlock()
}

// IsInRoom checks room membership
func (c *Client) IsInRoom(room string) bool {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()
	return c.rooms[room]
}
