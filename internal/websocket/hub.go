// Package websocket broadcasts committed ledger events to subscribed
// clients. The hub implements ledger.Publisher; events reach subscribers
// only after the validation transaction commits.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"licenseledger/internal/ledger"
)

// Message envelope types sent to clients
const (
	TypeConnection = "connection"
	TypeActivity   = "activity"
)

// Hub maintains the set of active clients and fans events out to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	logger  *slog.Logger
	quit    chan struct{}
	running bool
}

// NewHub creates a hub; call Start before serving connections
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket_hub")),
		quit:       make(chan struct{}),
	}
}

// Start launches the hub loop, once
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

func (h *Hub) run() {
	for {
		select {
		case <-h.quit:
			h.logger.Info("hub shutting down")
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("client registered",
				slog.String("client_id", client.id),
				slog.Int("total_clients", count))

			client.sendEnvelope(TypeConnection, map[string]any{
				"status":    "connected",
				"timestamp": time.Now().UTC(),
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("client unregistered",
				slog.String("client_id", client.id),
				slog.Int("total_clients", count))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer: drop the connection rather than
					// block the hub loop.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish implements ledger.Publisher. Safe to call from any goroutine;
// drops the event if the hub's buffer is full.
func (h *Hub) Publish(event ledger.Event) {
	envelope := map[string]any{
		"type":      TypeActivity,
		"data":      event,
		"timestamp": time.Now().UTC(),
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Error("failed to encode event", slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("broadcast buffer full, dropping event",
			slog.String("license_key", event.LicenseKey))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown stops the hub loop and disconnects all clients
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
}
