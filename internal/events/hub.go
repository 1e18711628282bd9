package events

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const hubWriteTimeout = 5 * time.Second

// Hub keeps websocket clients and broadcasts events to them. It is also a Channel, so a single-process
// deployment can feed it directly from the Sink.
type Hub struct {
	log       *slog.Logger
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mu        sync.Mutex
}

var _ Channel = (*Hub)(nil)

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 64),
	}
}

// Run delivers queued broadcasts until ctx is done, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				_ = c.Close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				_ = c.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.log.Debug("dropping websocket client", "remote", c.RemoteAddr().String(), "err", err)
					_ = c.Close()
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ServeHTTP upgrades the request and registers the connection until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Info("websocket client connected", "clients", total)

	// Drain client frames so close messages are noticed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		_ = conn.Close()
	}
	total = len(h.clients)
	h.mu.Unlock()
	h.log.Info("websocket client disconnected", "clients", total)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues e for every connected client, dropping it if the hub is saturated.
func (h *Hub) Broadcast(e Event) {
	body, err := e.Encode()
	if err != nil {
		return
	}
	select {
	case h.broadcast <- body:
	default:
		h.log.Debug("websocket hub saturated, dropping event", "event_type", e.Type)
	}
}

func (h *Hub) Name() string { return "websocket" }

func (h *Hub) Send(ctx context.Context, e Event) error {
	body, err := e.Encode()
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- body:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Close() error { return nil }
