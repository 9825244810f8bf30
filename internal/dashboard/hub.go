// File: internal/dashboard/hub.go
// ============================================
package dashboard

import (
	"context"
	"net/http"
	"sync"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"smart-trading-bot/internal/logging"
	"smart-trading-bot/pkg/types"
)

const (
	sendBuffer   = 16
	writeTimeout = 5 * time.Second
)

// Message is the envelope pushed to every websocket client.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans state snapshots out to websocket clients. Clients that cannot
// keep up are dropped.
type Hub struct {
	upgrader websocket.Upgrader
	logger   logging.LoggerInterface

	mu      sync.Mutex
	clients map[*client]struct{}
	latest  []byte
}

func NewHub(logger logging.LoggerInterface) *Hub {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Publish is registered as an orchestrator observer.
func (h *Hub) Publish(state types.BotState) {
	data, err := json.Marshal(Message{Type: "state", Data: state})
	if err != nil {
		h.logger.Error("❌ Dashboard marshal error: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = data
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warning("⚠️ Dashboard client too slow, dropping")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ServeHTTP upgrades the request and streams state until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warning("WebSocket upgrade error: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.latest != nil {
		c.send <- h.latest
	}
	h.mu.Unlock()
	h.logger.Debug("📡 Dashboard client connected (%s)", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.unregister(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// readPump discards client input and returns once the connection drops.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run disconnects every client once ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	return nil
}
