package socketserver

import (
	"sync"

	"github.com/blindodon/mastodon-core/internal/logger"
)

type broadcastFrame struct {
	name  string
	frame []byte
}

// Hub maintains the set of active clients and handles broadcasting
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	broadcast  chan broadcastFrame
	register   chan *Client
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once
	log      *logger.Logger
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcastFrame, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        logger.Global().WithPrefix("hub"),
	}
}

// Run starts the hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastFrame(msg)

		case <-h.done:
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	h.log.Debug("client registered: %s (total: %d)", client.ID, len(h.clients))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		h.log.Debug("client unregistered: %s (total: %d)", client.ID, len(h.clients))
	}
}

// broadcastFrame queues the frame on every client. A client with a full
// queue misses it.
func (h *Hub) broadcastFrame(msg broadcastFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.sendEvent(msg.frame) {
			h.log.Warn("dropped %s for client %s: send queue full", msg.name, client.ID)
		}
	}
}

// RegisterClient adds a client (called from client goroutine)
func (h *Hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// UnregisterClient removes a client (called from client goroutine)
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues an encoded event for every registered client. Events
// broadcast after Shutdown are discarded.
func (h *Hub) Broadcast(name string, frame []byte) {
	select {
	case h.broadcast <- broadcastFrame{name: name, frame: frame}:
	case <-h.done:
	}
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Shutdown stops the event loop. Clients are closed by their server.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() { close(h.done) })
}
