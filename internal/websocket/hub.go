// Package websocket pushes batch run status events to connected clients.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Message is the envelope sent to clients.
type Message struct {
	Type      string      `json:"type"`
	Phase     string      `json:"phase,omitempty"`
	Status    string      `json:"status,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub maintains the set of active clients and broadcasts status events to
// them. It satisfies batch.Hub.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	running    bool
	logger     *slog.Logger
}

// NewHub creates a hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "websocket.hub")),
	}
}

// Start launches the hub loop. Safe to call once.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()
	go h.run()
}

// Stop shuts the hub down and closes all client connections.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()
	close(h.quit)
}

// Attach hands a client to the hub loop. It reports false when the hub is
// not running, so a late upgrade never blocks on a loop that has exited.
func (h *Hub) Attach(client *Client) bool {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return false
	}
	select {
	case h.register <- client:
		return true
	case <-h.quit:
		return false
	}
}

// detach removes a client without blocking when the loop has already shut
// down; Stop closes every client send channel itself.
func (h *Hub) detach(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

func (h *Hub) run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("hub shut down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", slog.Int("clients", count))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", slog.Int("clients", count))

		case payload := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					// Slow consumer; drop it rather than block the hub.
					go func(c *Client) { h.detach(c) }(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastUpdate implements batch.Hub: it fans a status event out to all
// connected clients.
func (h *Hub) BroadcastUpdate(eventType, phase, status string, metadata interface{}) {
	msg := Message{
		Type:      eventType,
		Phase:     phase,
		Status:    status,
		Data:      metadata,
		Timestamp: time.Now(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("failed to marshal broadcast", slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("broadcast buffer full, dropping event", slog.String("type", eventType))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
