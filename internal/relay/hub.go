package relay

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"RoleChat/internal/syncbin"
)

const clientBuffer = 16

type client struct {
	id   string
	send chan syncbin.Record
}

// Hub fans sync records out to connected clients. A client that falls
// behind by more than its buffer misses records.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
	last    *syncbin.Record
	closed  bool
	logger  *slog.Logger
	metrics *Metrics
}

// NewHub creates an empty hub.
func NewHub(metrics *Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		logger:  logger,
		metrics: metrics,
	}
}

// register adds a client. It receives the last broadcast record first. On a
// closed hub the returned client's channel is already closed.
func (h *Hub) register() *client {
	c := &client{id: uuid.NewString(), send: make(chan syncbin.Record, clientBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.send)
		return c
	}
	if h.last != nil {
		c.send <- *h.last
	}
	h.clients[c.id] = c
	h.metrics.Clients.Set(float64(len(h.clients)))
	h.logger.Info("relay client connected", "client_id", c.id)
	return c
}

// unregister removes c and closes its channel. Safe to call more than once.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.metrics.Clients.Set(float64(len(h.clients)))
	h.logger.Info("relay client disconnected", "client_id", c.id)
}

// Broadcast queues rec for every client.
func (h *Hub) Broadcast(rec syncbin.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.last = &rec
	h.metrics.Broadcasts.Inc()
	for _, c := range h.clients {
		select {
		case c.send <- rec:
		default:
			h.metrics.Dropped.Inc()
			h.logger.Warn("relay client too slow, record dropped", "client_id", c.id)
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
	h.metrics.Clients.Set(0)
}
