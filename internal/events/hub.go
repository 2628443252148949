package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wardline/authcore/internal/domain"
)

// WSMessage is the envelope pushed to a subscriber over the real-time
// channel. Delivery is at-most-once and in publication order per client; a
// disconnected client loses whatever was sent while it was gone, there is
// no replay buffer.
type WSMessage struct {
	Type          string    `json:"type"`
	EventID       uuid.UUID `json:"event_id"`
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Payload       any       `json:"payload,omitempty"`
}

const wsSendBufferSize = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Hub fans out published events to connected websocket clients. A client
// only receives events addressed to its own user (SubjectUserID) or with
// no subject at all (system-wide events), never another user's events.
type Hub struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one authenticated subscriber connection.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, clients: make(map[*WSClient]struct{})}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client, closing its send channel exactly once.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if existed {
		close(c.send)
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast pushes record to every client entitled to see it: the hub lock
// is held only to snapshot the client list, never while sending.
func (h *Hub) Broadcast(record *domain.EventRecord) {
	msg := WSMessage{
		Type:          "event",
		EventID:       record.ID,
		EventType:     record.Type,
		Timestamp:     record.Timestamp,
		CorrelationID: record.CorrelationID,
		Payload:       record.Payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal websocket event failed", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if record.SubjectUserID == nil || *record.SubjectUserID == c.userID {
			c.trySend(data)
		}
	}
}

// closeAll disconnects every client, for use on server shutdown.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
}

// Shutdown closes every connected client. Safe to call once.
func (h *Hub) Shutdown() { h.closeAll() }

// ServeWS upgrades the request to a websocket connection scoped to userID,
// the identity already authenticated by the HTTP middleware chain.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	c := &WSClient{hub: h, conn: conn, send: make(chan []byte, wsSendBufferSize), userID: userID}
	h.Register(c)
	go c.writePump()
	go c.readPump()
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// This channel is push-only: any inbound frame is treated as a
		// liveness signal and otherwise discarded.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend drops the message rather than blocking a slow client; recovers
// from a send on an already-closed channel during a racing Unregister.
func (c *WSClient) trySend(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
	}
}
