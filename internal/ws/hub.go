package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Msg is a message sent to clients. MarketID is omitted for protocol-wide
// events.
type Msg struct {
	Type     string  `json:"type"`
	MarketID *uint64 `json:"market_id,omitempty"`
	Data     any     `json:"data"`
}

// Hub manages per-market WebSocket subscriptions.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[uint64]map[*conn]bool // marketID -> set of conns
	allConn map[*conn]bool
}

type conn struct {
	ws      *websocket.Conn
	send    chan []byte
	hub     *Hub
	markets map[uint64]bool
}

func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[uint64]map[*conn]bool),
		allConn: make(map[*conn]bool),
	}
}

// Publish sends a message to the subscribers of a market, or to every
// connection when marketID is nil.
func (h *Hub) Publish(marketID *uint64, msgType string, data any) {
	msg := Msg{Type: msgType, MarketID: marketID, Data: data}
	b, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ws] marshal %s: %v", msgType, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	targets := h.allConn
	if marketID != nil {
		targets = h.rooms[*marketID]
	}
	for c := range targets {
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
		log.Printf("[ws] upgrade error: %v", err)
		return
	}
	c := &conn{
		ws:      wsConn,
		send:    make(chan []byte, 64),
		hub:     h,
		markets: make(map[uint64]bool),
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
		// {"action":"subscribe","market_id":1}
		var sub struct {
			Action   string `json:"action"`
			MarketID uint64 `json:"market_id"`
		}
		if err := json.Unmarshal(msg, &sub); err != nil {
			continue
		}
		switch sub.Action {
		case "subscribe":
			c.hub.subscribe(c, sub.MarketID)
		case "unsubscribe":
			c.hub.unsubscribe(c, sub.MarketID)
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

// subscribe adds a market to the connection's set; a client may follow
// several markets at once.
func (h *Hub) subscribe(c *conn, marketID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[marketID]
	if !ok {
		room = make(map[*conn]bool)
		h.rooms[marketID] = room
	}
	room[c] = true
	c.markets[marketID] = true
}

func (h *Hub) unsubscribe(c *conn, marketID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(c, marketID)
}

func (h *Hub) removeConn(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.allConn, c)
	for id := range c.markets {
		h.leave(c, id)
	}
	close(c.send)
}

// leave drops c from one room (must hold lock).
func (h *Hub) leave(c *conn, marketID uint64) {
	if room, ok := h.rooms[marketID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, marketID)
		}
	}
	delete(c.markets, marketID)
}

// Subscribers reports how many connections follow a market.
func (h *Hub) Subscribers(marketID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[marketID])
}
