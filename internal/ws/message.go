package ws

import (
	"time"

	"threatwatch/internal/events"
)

// Message is the JSON frame pushed to websocket clients.
type Message struct {
	Type      string    `json:"type"` // topic: threat, motion or a source domain
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewMessage wraps a bus event for the wire.
func NewMessage(e events.Event) *Message {
	return &Message{
		Type:      string(e.Topic),
		Timestamp: e.At,
		Data:      e.Payload,
	}
}
