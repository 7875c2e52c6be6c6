package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamEvent is one push message on the websocket feed. The short field
// names follow the exchange stream convention, e for event type and T for
// the virtual timestamp.
type StreamEvent struct {
	Type string `json:"e"`
	Time int64  `json:"T"`
	Data any    `json:"data"`
}

// StreamHub fans simulation events out to every connected websocket
// client. Clients are write-only, inbound frames are drained and dropped.
type StreamHub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewStreamHub(log *slog.Logger) *StreamHub {
	if log == nil {
		log = slog.Default()
	}
	return &StreamHub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("stream client connected", "remote", conn.RemoteAddr().String())

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

// Broadcast pushes one event to every client. A client that fails a write
// is dropped, slow consumers must not stall the simulation.
func (h *StreamHub) Broadcast(eventType string, at time.Time, data any) {
	event := StreamEvent{Type: eventType, Time: at.UnixMilli(), Data: data}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(event); err != nil {
			h.log.Debug("stream write failed, dropping client", "error", err)
			h.drop(conn)
		}
	}
}

func (h *StreamHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		_ = conn.Close()
	}
	h.conns = make(map[*websocket.Conn]struct{})
}

func (h *StreamHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	_ = conn.Close()
}
