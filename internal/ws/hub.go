// Package ws implements the push channel: a websocket hub that fans
// periodic snapshots out to subscribed clients. Delivery is best-effort;
// slow subscribers lose oldest frames first and dead ones are dropped.
package ws

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/stratuspay/cascade/internal/metrics"
)

// Message is one server-originated frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub owns the subscriber set. All mutation happens on the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

// NewHub creates a hub; call Run to start it.
func NewHub(log zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
		log:        log.With().Str("service", "ws").Logger(),
		metrics:    m,
	}
}

// Run processes registrations and broadcasts until Stop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.gauge()
			h.log.Debug().Int("clients", len(h.clients)).Msg("subscriber connected")
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.gauge()
				h.log.Debug().Int("clients", len(h.clients)).Msg("subscriber dropped")
			}
		case frame := <-h.broadcast:
			for c := range h.clients {
				c.enqueue(frame)
			}
		case <-h.done:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.gauge()
			return
		}
	}
}

// Broadcast sends a typed message to every live subscriber.
func (h *Hub) Broadcast(msg Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("type", msg.Type).Msg("failed to encode frame")
		return
	}
	select {
	case h.broadcast <- frame:
	case <-h.done:
	}
}

// Stop disconnects all subscribers and ends Run.
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) gauge() {
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(len(h.clients)))
	}
}
