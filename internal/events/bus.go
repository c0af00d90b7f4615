// Package events fans evaluation results out to the websocket hub and the
// gRPC health service.
package events

import (
	"sync"
	"time"

	"threatwatch/internal/metrics"
)

// Topic names a stream of events. Source domains are topics too.
type Topic string

const (
	TopicThreat Topic = "threat"
	TopicMotion Topic = "motion"
)

// Event is one published result. Payload is a threat.Evaluation for
// TopicThreat, a motion.Status for TopicMotion and a sources.Result for a
// domain topic.
type Event struct {
	Topic   Topic     `json:"type"`
	At      time.Time `json:"timestamp"`
	Payload any       `json:"data"`
}

// Handler receives events synchronously from Publish.
type Handler interface {
	OnEvent(Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Event)

func (f HandlerFunc) OnEvent(e Event) { f(e) }

// Bus provides pub/sub for evaluation results.
type Bus struct {
	subscribers map[*subscription]bool
	mu          sync.RWMutex
}

type subscription struct {
	topic   Topic // empty receives every topic
	channel chan Event
	handler Handler
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[*subscription]bool)}
}

// Subscribe registers a handler for every topic and returns an unsubscribe
// function.
func (b *Bus) Subscribe(h Handler) func() {
	return b.add(&subscription{handler: h})
}

// SubscribeTopic registers a handler for a single topic.
func (b *Bus) SubscribeTopic(topic Topic, h Handler) func() {
	return b.add(&subscription{topic: topic, handler: h})
}

// SubscribeChannel returns a buffered channel receiving events of topic, or
// of every topic when topic is empty. Events are dropped while the channel
// is full.
func (b *Bus) SubscribeChannel(topic Topic, bufferSize int) (<-chan Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}
	ch := make(chan Event, bufferSize)
	sub := &subscription{topic: topic, channel: ch}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}
}

func (b *Bus) add(sub *subscription) func() {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// Publish delivers e to every matching subscriber. Handlers run in the
// caller's goroutine, in no particular order.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.topic != "" && sub.topic != e.Topic {
			continue
		}
		if sub.handler != nil {
			sub.handler.OnEvent(e)
			continue
		}
		select {
		case sub.channel <- e:
		default:
			metrics.EventsDropped.WithLabelValues(string(e.Topic)).Inc()
		}
	}
	metrics.EventsPublished.WithLabelValues(string(e.Topic)).Inc()
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close removes every subscriber and closes subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
