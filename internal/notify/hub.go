package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const hubWriteWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub streams every reply to connected websocket clients, e.g. an
// operator dashboard. Slow or gone clients are dropped.
type Hub struct {
	lock    sync.Mutex
	clients map[*websocket.Conn]bool
	logger  *zap.Logger
}

// NewHub returns an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[*websocket.Conn]bool), logger: logger}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.lock.Lock()
	h.clients[conn] = true
	h.lock.Unlock()
	h.logger.Info("reply stream client connected", zap.String("remote", r.RemoteAddr))

	// Drain reads so close frames are processed.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// SendMessage implements Sink.
func (h *Hub) SendMessage(_ context.Context, text string) error {
	h.broadcast(websocket.TextMessage, []byte(text))
	return nil
}

// SendFile implements Sink; clients get the same JSON inline.
func (h *Hub) SendFile(_ context.Context, _ string, data []byte) error {
	h.broadcast(websocket.TextMessage, data)
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.lock.Lock()
	defer h.lock.Unlock()
	for c := range h.clients {
		c.Close()
		delete(h.clients, c)
	}
}

func (h *Hub) broadcast(kind int, data []byte) {
	h.lock.Lock()
	defer h.lock.Unlock()

	for c := range h.clients {
		_ = c.SetWriteDeadline(time.Now().Add(hubWriteWait))
		if err := c.WriteMessage(kind, data); err != nil {
			c.Close()
			delete(h.clients, c)
		}
	}
}

func (h *Hub) drop(c *websocket.Conn) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.clients[c] {
		c.Close()
		delete(h.clients, c)
	}
}
