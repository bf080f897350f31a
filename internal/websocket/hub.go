package websocket

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/luminode/devicehub-go/internal/core/metrics"
)

// Hub maintains the set of active clients and broadcasts messages to the clients
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Inbound broadcast requests
	broadcast chan []byte

	// Stream subscriptions, cleaned synchronously on disconnect
	streams *StreamRegistry

	// Invoked inside the disconnect handler so per-connection state held
	// outside the hub (bulk command bookkeeping) dies with the connection
	onDisconnect func(connectionID string)

	logger    *logrus.Logger
	collector *metrics.Collector

	mu sync.RWMutex

	stats *HubStats
}

// HubStats contains hub statistics
type HubStats struct {
	ConnectedClients int       `json:"connected_clients"`
	TotalConnections int64     `json:"total_connections"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesReceived int64     `json:"messages_received"`
	LastActivity     time.Time `json:"last_activity"`
}

// NewHub creates a new WebSocket hub
func NewHub(logger *logrus.Logger, collector *metrics.Collector) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		streams:    NewStreamRegistry(),
		logger:     logger,
		collector:  collector,
		stats: &HubStats{
			LastActivity: time.Now(),
		},
	}
}

// Streams exposes the stream registry
func (h *Hub) Streams() *StreamRegistry {
	return h.streams
}

// SetDisconnectHook registers the callback run during disconnect cleanup
func (h *Hub) SetDisconnectHook(hook func(connectionID string)) {
	h.onDisconnect = hook
}

// Run starts the hub and handles client registration/unregistration and broadcasting
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-ticker.C:
			h.updateStats()
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ConnectedClients = len(h.clients)
	h.stats.LastActivity = time.Now()
	h.mu.Unlock()

	if h.collector != nil {
		h.collector.WebSocketConnected()
	}

	h.logger.WithFields(logrus.Fields{
		"connection_id": client.ID,
		"user_id":       client.Principal.UserID,
		"remote_addr":   client.RemoteAddr,
	}).Info("WebSocket client connected")

	client.Send(NewMessage(MessageTypeConnection, map[string]interface{}{
		"status":        "connected",
		"connection_id": client.ID,
	}))
}

// unregisterClient performs the synchronous disconnect cleanup: the client
// leaves the set, its stream registry entries are pruned and any external
// per-connection bookkeeping is discarded before this handler returns.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, known := h.clients[client]
	if known {
		delete(h.clients, client)
		h.stats.ConnectedClients = len(h.clients)
		h.stats.LastActivity = time.Now()
	}
	h.mu.Unlock()

	if !known {
		return
	}

	h.streams.RemoveConnection(client.ID)
	if h.onDisconnect != nil {
		h.onDisconnect(client.ID)
	}
	client.closeSend()

	if h.collector != nil {
		h.collector.WebSocketDisconnected()
		h.collector.SetStreamSubscriptions(h.streams.Size())
	}

	h.logger.WithFields(logrus.Fields{
		"connection_id": client.ID,
		"user_id":       client.Principal.UserID,
	}).Info("WebSocket client disconnected")
}

func (h *Hub) broadcastMessage(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	h.stats.MessagesSent++

	for _, client := range clients {
		client.sendRaw(message)
	}
}

func (h *Hub) updateStats() {
	h.mu.Lock()
	h.stats.ConnectedClients = len(h.clients)
	h.mu.Unlock()
}

// BroadcastToAll broadcasts a message to all connected clients
func (h *Hub) BroadcastToAll(message Message) {
	select {
	case h.broadcast <- message.ToJSON():
	default:
		h.logger.Warn("Broadcast channel is full, message dropped")
	}
}

// BroadcastToRoom delivers a message to every client in a room
func (h *Hub) BroadcastToRoom(room string, message Message) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.IsInRoom(room) {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	data := message.ToJSON()
	for _, client := range clients {
		client.sendRaw(data)
	}

	if h.collector != nil {
		h.collector.RecordWebSocketMessage("out", message.Type)
	}

	h.logger.WithFields(logrus.Fields{
		"room":         room,
		"clients_sent": len(clients),
		"message_type": message.Type,
	}).Debug("Message broadcasted to room")
}

// BroadcastToUser delivers a message to every connection of one user
func (h *Hub) BroadcastToUser(userID string, message Message) {
	h.BroadcastToRoom(UserRoom(userID), message)
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() *HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	statsCopy := *h.stats
	statsCopy.ConnectedClients = len(h.clients)
	return &statsCopy
}

// GetClientCount returns the current number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetClientByID returns a client by its connection ID, or nil
func (h *Hub) GetClientByID(connectionID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.ID == connectionID {
			return client
		}
	}
	return nil
}
