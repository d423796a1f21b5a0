package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sellerwatch/sellerwatch/internal/model"
)

const (
	writeTimeout    = 10 * time.Second
	clientQueueSize = 64
)

// eventMessage is the wire shape sent to subscribers.
type eventMessage struct {
	ID         string          `json:"id"`
	SellerID   string          `json:"seller_id"`
	ProductID  string          `json:"product_id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	DetectedAt time.Time       `json:"detected_at"`
}

// Hub fans delivered change events out to WebSocket clients.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and subscribes the client until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, clientQueueSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("stream client connected", "clients", total)

	go h.writeLoop(c)
	h.readLoop(c)
}

// Observe queues one event for broadcast. Implements the dispatcher's
// Observer interface.
func (h *Hub) Observe(ev model.ChangeEvent) {
	msg := eventMessage{
		ID:         ev.ID.String(),
		SellerID:   ev.SellerID,
		ProductID:  ev.ProductID,
		Kind:       string(ev.Kind),
		Payload:    ev.Payload,
		DetectedAt: ev.DetectedAt.UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("marshal stream event", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Queue full; drop the laggard instead of stalling.
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown disconnects all clients and rejects new ones.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	return nil
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)

	// Subscribers never send application data; the read loop only
	// surfaces disconnects and control frames.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	c.conn.Close()
}
