// Package api exposes the scanner's REST and WebSocket surface: pairs,
// candles, signals, detectors, strategies, scan control, and a live
// per-symbol candle feed.
package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/marketscan/scanner/pkg/types"
)

// wsMessage is the envelope pushed to WebSocket clients.
type wsMessage struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// wsClient is one subscribed WebSocket connection.
type wsClient struct {
	id      string
	hub     *hub
	conn    *websocket.Conn
	send    chan []byte
	channel string
}

// hub fans out per-channel broadcasts (one channel per "symbol:tf" pair)
// to subscribed clients, adapted from the teacher's own pub/sub hub
// pattern down to a single implicit channel per client (this API's
// WebSocket route is scoped to one symbol/tf per connection, unlike the
// teacher's multi-channel subscribe/unsubscribe protocol).
type hub struct {
	logger     *zap.Logger
	mu         sync.RWMutex
	channels   map[string]map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
}

func newHub(logger *zap.Logger) *hub {
	return &hub{
		logger:     logger,
		channels:   make(map[string]map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

func (h *hub) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if h.channels[c.channel] == nil {
				h.channels[c.channel] = map[*wsClient]bool{}
			}
			h.channels[c.channel][c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.channels[c.channel]; ok {
				if _, present := clients[c]; present {
					delete(clients, c)
					close(c.send)
				}
				if len(clients) == 0 {
					delete(h.channels, c.channel)
				}
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.broadcastAll(wsMessage{Type: "heartbeat", Timestamp: time.Now().UnixMilli()})
		}
	}
}

func (h *hub) broadcastAll(msg wsMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.channels {
		for c := range clients {
			select {
			case c.send <- body:
			default:
			}
		}
	}
}

// publishCandle pushes the latest candle for channel ("SYMBOL:TF") to
// every client subscribed to it.
func (h *hub) publishCandle(channel string, candle types.Candle) {
	data, err := json.Marshal(candle)
	if err != nil {
		h.logger.Warn("hub: failed to marshal candle", zap.Error(err))
		return
	}
	msg := wsMessage{Type: "candle", Channel: channel, Data: data, Timestamp: time.Now().UnixMilli()}
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.channels[channel] {
		select {
		case c.send <- body:
		default:
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
