// Package gateway is the real-time push channel to end-user clients.
//
// Clients connect over WebSocket, subscribe to named channels with small
// JSON control frames, and receive event envelopes. Publishing is
// fire-and-forget: the worker never learns about delivery failures beyond
// a log line, and a client that stops draining its buffer loses events
// rather than stalling the phase loop. Within one channel, envelopes
// arrive in publish order.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gauntlet/worker/internal/metrics"
)

// Envelope is the wire form of one broadcast event.
type Envelope struct {
	ID        string      `json:"id"`
	Channel   string      `json:"channel"`
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"ts"`
}

// Hub tracks connected clients and their channel subscriptions.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	channels map[string]map[*Client]struct{}

	metrics *metrics.Metrics
}

// NewHub creates an empty hub. m must be non-nil.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		clients:  make(map[*Client]struct{}),
		channels: make(map[string]map[*Client]struct{}),
		metrics:  m,
	}
}

// Publish fans an event out to every subscriber of channel. Errors are
// logged and swallowed; slow clients get the event dropped instead of
// blocking the caller. Calls from a single goroutine reach each client in
// order.
func (h *Hub) Publish(ctx context.Context, channel, event string, payload interface{}) {
	env := Envelope{
		ID:        uuid.NewString(),
		Channel:   channel,
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("[Gateway] Dropping unmarshalable event", "channel", channel, "event", event, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.channels[channel]))
	for c := range h.channels[channel] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			h.metrics.GatewayDrops.Inc()
			slog.Warn("[Gateway] Client behind, dropping event", "channel", channel, "event", event)
		}
	}

	h.metrics.RecordBroadcast(channel)
	slog.Debug("[Gateway] Published", "channel", channel, "event", event, "subscribers", len(targets))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.GatewayClients.Inc()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		for ch := range c.channels {
			delete(h.channels[ch], c)
			if len(h.channels[ch]) == 0 {
				delete(h.channels, ch)
			}
		}
		h.metrics.GatewayClients.Dec()
	}
	h.mu.Unlock()
}

func (h *Hub) subscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][c] = struct{}{}
	c.channels[channel] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels[channel], c)
	if len(h.channels[channel]) == 0 {
		delete(h.channels, channel)
	}
	delete(c.channels, channel)
}
