package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xtrntr/blockmarket/internal/exchange"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 16
)

type wsMessage struct {
	Type string            `json:"type"`
	Data exchange.Snapshot `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes every recomputed market snapshot to the connected clients.
// A client that falls behind by more than sendBuffer messages is dropped.
type Hub struct {
	Upgrader websocket.Upgrader
	Logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		Logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

func encodeSnapshot(s exchange.Snapshot) ([]byte, error) {
	return json.Marshal(wsMessage{Type: "snapshot", Data: s})
}

// Broadcast queues s for every client. It never blocks on a slow connection.
func (h *Hub) Broadcast(s exchange.Snapshot) {
	data, err := encodeSnapshot(s)
	if err != nil {
		h.Logger.Error("failed to marshal snapshot", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.Logger.Warn("dropping slow websocket client", zap.String("remote", c.conn.RemoteAddr().String()))
			h.removeLocked(c)
		}
	}
}

// Len returns the number of connected clients
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// HandleWebSocket upgrades the connection and sends the current snapshot,
// then every later one.
func (h *Hub) HandleWebSocket(ex *exchange.Exchange) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.Logger.Warn("failed to upgrade connection", zap.Error(err))
			return
		}

		client := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
		if data, err := encodeSnapshot(ex.Snapshot()); err == nil {
			client.send <- data
		}
		h.mu.Lock()
		h.clients[client] = struct{}{}
		h.mu.Unlock()

		go h.writePump(client)

		// Keep connection alive and handle disconnection
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(client)
				return
			}
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.Logger.Debug("websocket write failed", zap.Error(err))
			h.remove(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
