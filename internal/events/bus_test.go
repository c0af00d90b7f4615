package events

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"threatwatch/internal/metrics"
)

func TestPublishFiltersByTopic(t *testing.T) {
	b := NewBus()

	var mu sync.Mutex
	var all, threat []Topic
	b.Subscribe(HandlerFunc(func(e Event) {
		mu.Lock()
		all = append(all, e.Topic)
		mu.Unlock()
	}))
	unsub := b.SubscribeTopic(TopicThreat, HandlerFunc(func(e Event) {
		mu.Lock()
		threat = append(threat, e.Topic)
		mu.Unlock()
	}))

	b.Publish(Event{Topic: TopicMotion})
	b.Publish(Event{Topic: TopicThreat})
	unsub()
	b.Publish(Event{Topic: TopicThreat})

	if len(all) != 3 {
		t.Errorf("all = %v", all)
	}
	if len(threat) != 1 {
		t.Errorf("threat = %v", threat)
	}
	if b.SubscriberCount() != 1 {
		t.Errorf("subscribers = %d", b.SubscriberCount())
	}
}

func TestPublishStampsTime(t *testing.T) {
	b := NewBus()
	ch, unsub := b.SubscribeChannel("", 1)
	defer unsub()

	b.Publish(Event{Topic: "traffic"})
	if e := <-ch; e.At.IsZero() {
		t.Error("event time not set")
	}
}

func TestSubscribeChannelDropsWhenFull(t *testing.T) {
	b := NewBus()
	ch, unsub := b.SubscribeChannel("crime", 1)

	before := testutil.ToFloat64(metrics.EventsDropped.WithLabelValues("crime"))
	b.Publish(Event{Topic: "crime"})
	b.Publish(Event{Topic: "crime"})
	if got := testutil.ToFloat64(metrics.EventsDropped.WithLabelValues("crime")) - before; got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}

	unsub()
	unsub()
	if _, ok := <-ch; !ok {
		t.Fatal("buffered event lost")
	}
	if _, ok := <-ch; ok {
		t.Error("channel not closed after unsubscribe")
	}
}

func TestClose(t *testing.T) {
	b := NewBus()
	ch, _ := b.SubscribeChannel(TopicMotion, 1)
	b.Subscribe(HandlerFunc(func(Event) {}))
	b.Close()
	if _, ok := <-ch; ok {
		t.Error("channel open after Close")
	}
	if b.SubscriberCount() != 0 {
		t.Error("subscribers remain after Close")
	}
}
