// Package ws pushes evaluation results to browsers over websockets. Clients
// subscribe to one topic per connection.
package ws

import (
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"threatwatch/internal/events"
	"threatwatch/internal/logging"
	"threatwatch/internal/metrics"
)

const sendBuffer = 16

// Hub tracks websocket clients per topic and remembers the last message of
// each topic so new subscribers see current state immediately.
type Hub struct {
	clients map[string]map[*client]bool
	last    map[string][]byte
	mu      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*client]bool),
		last:    make(map[string][]byte),
	}
}

func (h *Hub) register(topic string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*client]bool)
	}
	h.clients[topic][c] = true
	if msg, ok := h.last[topic]; ok {
		c.send <- msg
	}
	metrics.WSConnections.Inc()
	logging.Debug().Str("topic", topic).Int("clients", len(h.clients[topic])).Msg("websocket client registered")
}

func (h *Hub) unregister(topic string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(topic, c)
}

func (h *Hub) removeLocked(topic string, c *client) {
	conns, ok := h.clients[topic]
	if !ok || !conns[c] {
		return
	}
	delete(conns, c)
	close(c.send)
	if len(conns) == 0 {
		delete(h.clients, topic)
	}
	metrics.WSConnections.Dec()
	logging.Debug().Str("topic", topic).Msg("websocket client unregistered")
}

// HasClients reports whether anyone is subscribed to topic.
func (h *Hub) HasClients(topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic]) > 0
}

// Topics returns the topics with at least one client, sorted.
func (h *Hub) Topics() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	topics := make([]string, 0, len(h.clients))
	for t := range h.clients {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

// Broadcast queues data for every client of topic. A client whose queue is
// full is disconnected.
func (h *Hub) Broadcast(topic string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last[topic] = data
	for c := range h.clients[topic] {
		select {
		case c.send <- data:
			metrics.WSMessagesSent.WithLabelValues(topic).Inc()
		default:
			logging.Warn().Str("topic", topic).Msg("websocket client too slow, dropping")
			h.removeLocked(topic, c)
		}
	}
}

// OnEvent implements events.Handler.
func (h *Hub) OnEvent(e events.Event) {
	data, err := json.Marshal(NewMessage(e))
	if err != nil {
		logging.Error().Err(err).Str("topic", string(e.Topic)).Msg("failed to marshal websocket message")
		return
	}
	h.Broadcast(string(e.Topic), data)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic, conns := range h.clients {
		for c := range conns {
			h.removeLocked(topic, c)
		}
	}
}
