// Package ws streams book and trade updates to subscribed clients. Adapted
// from the teacher's internal/ws/hub.go, rekeyed by instrument ticker
// instead of market ID; otherwise unchanged.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Msg is a message sent to clients.
type Msg struct {
	Type   string `json:"type"`
	Ticker string `json:"ticker"`
	Data   any    `json:"data"`
}

// Hub manages per-ticker WebSocket subscriptions.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*conn]bool // ticker -> set of conns
	allConn map[*conn]bool
}

type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	hub    *Hub
	ticker string
}

func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[*conn]bool),
		allConn: make(map[*conn]bool),
	}
}

// Publish sends a message to all subscribers of a ticker.
func (h *Hub) Publish(ticker, msgType string, data any) {
	msg := Msg{Type: msgType, Ticker: ticker, Data: data}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	room := h.rooms[ticker]
	h.mu.RUnlock()
	for c := range room {
		select {
		case c.send <- b:
		default:
			// slow client, drop
		}
	}
}

// HandleWS is the HTTP handler for WebSocket connections.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	c := &conn{
		ws:   wsConn,
		send: make(chan []byte, 64),
		hub:  h,
	}
	h.mu.Lock()
	h.allConn[c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (c *conn) readPump() {
	defer func() {
		c.hub.removeConn(c)
		c.ws.Close()
	}()
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		// Subscription message: {"action":"subscribe","ticker":"..."}
		var sub struct {
			Action string `json:"action"`
			Ticker string `json:"ticker"`
		}
		if err := json.Unmarshal(msg, &sub); err != nil {
			continue
		}
		switch sub.Action {
		case "subscribe":
			c.hub.subscribe(c, sub.Ticker)
		case "unsubscribe":
			c.hub.unsubscribe(c, sub.Ticker)
		}
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
}

func (h *Hub) subscribe(c *conn, ticker string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.ticker != "" {
		if room, ok := h.rooms[c.ticker]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, c.ticker)
			}
		}
	}
	c.ticker = ticker
	room, ok := h.rooms[ticker]
	if !ok {
		room = make(map[*conn]bool)
		h.rooms[ticker] = room
	}
	room[c] = true
}

func (h *Hub) unsubscribe(c *conn, ticker string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[ticker]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, ticker)
		}
	}
	if c.ticker == ticker {
		c.ticker = ""
	}
}

func (h *Hub) removeConn(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.allConn, c)
	if c.ticker != "" {
		if room, ok := h.rooms[c.ticker]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, c.ticker)
			}
		}
	}
	close(c.send)
}
