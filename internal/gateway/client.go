package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     buildCheckOrigin(),
}

const (
	pongWait   = 60 * time.Second // Time allowed to read the next pong
	pingPeriod = 30 * time.Second // Send pings at this interval (must be < pongWait)
	writeWait  = 10 * time.Second // Time allowed to write a message
	maxMsgSize = 4096             // Clients only send small control frames
	sendBuffer = 256              // Per-client outbound channel buffer
)

// Client is one active WebSocket connection. All writes go through the
// send channel and the writePump goroutine, so ping, ack, and broadcast
// writes never race.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// channels is the client's subscription set, guarded by hub.mu.
	channels map[string]struct{}

	done chan struct{}
	once sync.Once
}

// buildCheckOrigin returns the upgrader origin policy. In production
// (GAUNTLET_ENV=production) only origins listed in GATEWAY_ALLOWED_ORIGINS
// are accepted; anywhere else all origins are allowed.
func buildCheckOrigin() func(r *http.Request) bool {
	env := os.Getenv("GAUNTLET_ENV")
	allowedRaw := os.Getenv("GATEWAY_ALLOWED_ORIGINS")

	if env == "production" && allowedRaw != "" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedRaw, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
		slog.Info("[Gateway] Origin allowlist active", "count", len(allowed))
		return func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowed[origin] {
				return true
			}
			slog.Info("[Gateway] Rejected connection", "origin", origin)
			return false
		}
	}

	if env == "production" && allowedRaw == "" {
		slog.Warn("[Gateway] GATEWAY_ALLOWED_ORIGINS not set in production, allowing all origins")
	}
	return func(r *http.Request) bool { return true }
}

// HandleWebSocket upgrades the request and starts the client's pumps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[Gateway] WebSocket upgrade failed", "error", err)
		return
	}

	c := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		channels: make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	h.addClient(c)
	slog.Info("[Gateway] Client connected", "remote", conn.RemoteAddr().String())

	go c.writePump()
	go c.readPump()
}

// close shuts the connection down exactly once.
func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.hub.removeClient(c)
		c.conn.Close()
		slog.Info("[Gateway] Client disconnected", "remote", c.conn.RemoteAddr().String())
	})
}

// writePump owns all writes to the connection: broadcasts, acks, pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Warn("[Gateway] Write failed", "error", err)
				return
			}

			// Drain whatever queued up while we were writing.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					slog.Warn("[Gateway] Batch write failed", "error", err)
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// controlFrame is the only message shape clients send.
type controlFrame struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// readPump owns all reads; it handles subscribe/unsubscribe control frames.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("[Gateway] Read error", "error", err)
			}
			return
		}

		var frame controlFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.reply(map[string]string{"error": "invalid frame"})
			continue
		}

		switch frame.Action {
		case "subscribe":
			if frame.Channel == "" {
				c.reply(map[string]string{"error": "channel required"})
				continue
			}
			c.hub.subscribe(c, frame.Channel)
			c.reply(map[string]string{"status": "subscribed", "channel": frame.Channel})

		case "unsubscribe":
			c.hub.unsubscribe(c, frame.Channel)
			c.reply(map[string]string{"status": "unsubscribed", "channel": frame.Channel})

		default:
			c.reply(map[string]string{"error": "unknown action"})
		}
	}
}

// reply queues a control response without ever blocking the read loop.
func (c *Client) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("[Gateway] Send buffer full, dropping reply")
	}
}
