package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"threatwatch/internal/events"
)

func startServer(t *testing.T, hub *Hub) string {
	t.Helper()
	valid := func(topic string) bool { return topic == "threat" || topic == "traffic" }
	srv := httptest.NewServer(NewHandler(hub, valid))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func TestBroadcastReachesTopicSubscribers(t *testing.T) {
	hub := NewHub()
	base := startServer(t, hub)

	threatConn := dial(t, base+"/ws/threat")
	dial(t, base+"/ws/traffic")
	waitFor(t, func() bool { return hub.ClientCount() == 2 })

	hub.OnEvent(events.Event{Topic: events.TopicThreat, At: time.Now(), Payload: map[string]string{"level": "HIGH"}})

	m := readMessage(t, threatConn)
	if m.Type != "threat" {
		t.Errorf("type = %q", m.Type)
	}
	if data, ok := m.Data.(map[string]any); !ok || data["level"] != "HIGH" {
		t.Errorf("data = %#v", m.Data)
	}
	if got := hub.Topics(); len(got) != 2 || got[0] != "threat" || got[1] != "traffic" {
		t.Errorf("topics = %v", got)
	}
}

func TestNewSubscriberGetsLastMessage(t *testing.T) {
	hub := NewHub()
	base := startServer(t, hub)

	hub.OnEvent(events.Event{Topic: "traffic", At: time.Now(), Payload: "clear"})

	conn := dial(t, base+"/ws/traffic")
	if m := readMessage(t, conn); m.Type != "traffic" || m.Data != "clear" {
		t.Errorf("replayed = %+v", m)
	}
}

func TestUnknownTopicRejected(t *testing.T) {
	base := startServer(t, NewHub())
	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/lottery", nil)
	if err == nil {
		t.Fatal("dial to unknown topic succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("resp = %v", resp)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	hub := NewHub()
	base := startServer(t, hub)

	conn := dial(t, base+"/ws/threat")
	waitFor(t, func() bool { return hub.HasClients("threat") })
	conn.Close()
	waitFor(t, func() bool { return !hub.HasClients("threat") })
}
