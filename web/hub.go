package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pi-motion-recorder/recorder"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub pushes completed captures to connected WebSocket clients
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	// Connected clients
	clients map[string]*client
	mu      sync.RWMutex

	allowedOrigins []string
	sendBufferSize int
	published      uint64
}

// client represents a connected WebSocket client
type client struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	logger *zap.Logger

	// Send channel for outgoing messages
	send chan []byte

	closed bool
	mu     sync.RWMutex

	connectedAt time.Time
	lastPing    time.Time
}

// Message is the envelope of every message on the feed
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// NewHub creates a new capture feed hub
func NewHub(allowedOrigins []string, sendBufferSize int, logger *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if sendBufferSize <= 0 {
		sendBufferSize = 16
	}

	h := &Hub{
		logger:         logger,
		clients:        make(map[string]*client),
		allowedOrigins: allowedOrigins,
		sendBufferSize: sendBufferSize,
	}

	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	return h
}

// checkOrigin validates the request origin against allowed origins
func (h *Hub) checkOrigin(r *http.Request) bool {
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" {
			return true
		}
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		// No origin header - allow for non-browser clients
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	h.logger.Warn("Origin not allowed",
		zap.String("origin", origin),
		zap.Strings("allowed_origins", h.allowedOrigins))
	return false
}

// HandleWebSocket handles WebSocket connections
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()

	now := time.Now()
	c := &client{
		id:          clientID,
		conn:        conn,
		hub:         h,
		logger:      h.logger.With(zap.String("client_id", clientID)),
		send:        make(chan []byte, h.sendBufferSize),
		connectedAt: now,
		lastPing:    now,
	}

	h.mu.Lock()
	h.clients[clientID] = c
	h.mu.Unlock()

	c.logger.Info("Client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.Header.Get("User-Agent")))

	go c.writePump()
	go c.readPump()
}

// Publish sends a completed capture to every client. Clients whose buffer is
// full are disconnected rather than blocking the caller.
func (h *Hub) Publish(info recorder.CaptureInfo) {
	data, err := json.Marshal(Message{Type: "capture", Data: info})
	if err != nil {
		h.logger.Error("Failed to marshal capture message", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.published++
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.enqueue(data); err != nil {
			c.logger.Warn("Dropping client", zap.Error(err))
			c.close()
		}
	}
}

// readPump handles incoming messages from the client
func (c *client) readPump() {
	defer c.close()

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "ping":
			c.mu.Lock()
			c.lastPing = time.Now()
			c.mu.Unlock()
			c.sendMessage("pong", nil)
		default:
			c.sendMessage("error", map[string]string{"message": fmt.Sprintf("unknown message type: %s", msg.Type)})
		}
	}
}

// writePump handles outgoing messages to the client
func (c *client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.logger.Error("WebSocket write error", zap.Error(err))
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *client) sendMessage(msgType string, data interface{}) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	if err := c.enqueue(payload); err != nil {
		c.logger.Warn("Failed to queue message", zap.String("type", msgType), zap.Error(err))
	}
}

// enqueue never blocks.
func (c *client) enqueue(payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("client connection closed")
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return fmt.Errorf("send buffer full - client too slow")
	}
}

// close closes the client connection
func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	if c.hub != nil {
		c.hub.mu.Lock()
		delete(c.hub.clients, c.id)
		c.hub.mu.Unlock()
	}

	c.logger.Info("Client disconnected")
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetStats returns feed statistics
func (h *Hub) GetStats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"clients":   len(h.clients),
		"published": h.published,
	}
}

// Close disconnects all clients
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	h.logger.Info("Closing capture feed", zap.Int("clients", len(clients)))
	for _, c := range clients {
		c.close()
	}
}
