package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	appLog "remindcal/internal/log"
	"remindcal/internal/model"
)

const writeTimeout = 5 * time.Second

// Hub pushes fired reminders to connected WebSocket clients.
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]struct{})}
}

// Handler upgrades the request and keeps the connection registered until
// the client goes away. Client messages are ignored.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			appLog.Error("hub: websocket accept failed", err, "remote", r.RemoteAddr)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		h.add(conn)
		defer h.remove(conn)

		ctx := conn.CloseRead(r.Context())
		<-ctx.Done()
	}
}

// Deliver broadcasts n to every client. A slow or broken client is
// dropped; it does not fail the delivery.
func (h *Hub) Deliver(ctx context.Context, n model.Notification) error {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(wctx, c, n)
		cancel()
		if err != nil {
			appLog.Warn("hub: dropping client after write failure", "err", err)
			h.remove(c)
			_ = c.Close(websocket.StatusPolicyViolation, "write failed")
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}
