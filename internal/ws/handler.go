package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"threatwatch/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	// Access control happens in the auth middleware in front of the handler.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Handler upgrades /ws/{topic} requests and subscribes the connection.
type Handler struct {
	hub   *Hub
	valid func(topic string) bool
}

// NewHandler creates a handler. valid rejects unknown topics before the
// upgrade.
func NewHandler(hub *Hub, valid func(topic string) bool) *Handler {
	return &Handler{hub: hub, valid: valid}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/ws/"), "/")
	if topic == "" || !h.valid(topic) {
		http.Error(w, "unknown topic", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	logging.Info().Str("topic", topic).Str("remote", r.RemoteAddr).Msg("websocket connected")

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.hub.register(topic, c)

	go c.writePump()
	go h.readPump(topic, c)
}

// readPump only watches for disconnects and pongs.
func (h *Handler) readPump(topic string, c *client) {
	defer func() {
		h.hub.unregister(topic, c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("topic", topic).Msg("websocket read error")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
