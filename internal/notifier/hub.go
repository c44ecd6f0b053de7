package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amishk599/careerscan/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

var _ model.Notifier = (*Hub)(nil)

// Event is the JSON envelope written to websocket subscribers.
type Event struct {
	Type     string                 `json:"type"` // "progress" or "completed"
	RunID    string                 `json:"run_id"`
	Progress *model.RunProgress     `json:"progress,omitempty"`
	Result   *model.CompletionEvent `json:"result,omitempty"`
}

type hubMessage struct {
	runID string
	data  []byte
}

// Hub broadcasts run events to connected websocket clients. A client that
// connects with ?run_id=<id> only receives that run's events.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}

	broadcast  chan hubMessage
	register   chan *client
	unregister chan *client
}

type client struct {
	hub   *Hub
	conn  *websocket.Conn
	runID string
	send  chan []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan hubMessage, 1024),
		register:   make(chan *client, 64),
		unregister: make(chan *client, 64),
	}
}

// Run dispatches registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket connected", "run_id", c.runID, "clients", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket disconnected", "clients", total)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if c.runID != "" && c.runID != msg.runID {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Slow consumer.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Progress(p model.RunProgress) {
	snap := p.Clone()
	h.publish(Event{Type: "progress", RunID: p.RunID, Progress: &snap})
}

func (h *Hub) Completed(e model.CompletionEvent) {
	h.publish(Event{Type: "completed", RunID: e.RunID, Result: &e})
}

func (h *Hub) publish(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("encoding websocket event", "error", err)
		return
	}
	select {
	case h.broadcast <- hubMessage{runID: ev.RunID, data: b}:
	default:
		h.logger.Warn("websocket broadcast dropped", "run_id", ev.RunID, "reason", "buffer_full")
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		runID: r.URL.Query().Get("run_id"),
		send:  make(chan []byte, sendBuffer),
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// readPump discards client messages and notices disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
