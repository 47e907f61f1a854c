package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"janitor/internal/engine"
	"janitor/internal/observability"
)

const (
	maxWSConnections = 200
	wsWriteTimeout   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans run notifications out to websocket subscribers of the same
// tenant. It implements engine.Notifier.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]string
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[*websocket.Conn]string), logger: logger}
}

// Register adds conn as a subscriber for tenant. It returns false when the
// hub is full; the caller then closes conn.
func (h *Hub) Register(conn *websocket.Conn, tenant string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= maxWSConnections {
		h.logger.Warn("websocket connection rejected", "max", maxWSConnections)
		return false
	}
	h.clients[conn] = tenant
	observability.WebsocketClients.Set(float64(len(h.clients)))
	h.logger.Debug("websocket client registered", "tenant", tenant, "total", len(h.clients))
	return true
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(conn)
}

func (h *Hub) drop(conn *websocket.Conn) {
	if _, ok := h.clients[conn]; !ok {
		return
	}
	delete(h.clients, conn)
	conn.Close()
	observability.WebsocketClients.Set(float64(len(h.clients)))
}

// Publish sends n to every subscriber of n.Tenant. Slow or dead
// connections are dropped.
func (h *Hub) Publish(n engine.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, tenant := range h.clients {
		if tenant != n.Tenant {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(n); err != nil {
			h.logger.Debug("websocket write failed", "tenant", tenant, "err", err)
			h.drop(conn)
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		h.drop(conn)
	}
}

// serveWS upgrades the request and keeps the connection registered until
// the client goes away. Incoming messages are ignored.
func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromContext(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	if !h.Register(conn, tenant) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	defer h.Unregister(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
