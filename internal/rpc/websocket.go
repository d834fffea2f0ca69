package rpc

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klingon-exchange/walletd/internal/session"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 30 * time.Second
	wsMaxMessageSize = 4096
	wsClientBuffer   = 256
	wsHubBuffer      = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventType is the type of a WebSocket event.
type EventType string

// Session events, named as the controller publishes them.
const (
	EventStateChanged       = EventType(session.EventStateChanged)
	EventBalanceUpdated     = EventType(session.EventBalanceUpdated)
	EventTransferSubmitted  = EventType(session.EventTransferSubmitted)
	EventTransferConfirmed  = EventType(session.EventTransferConfirmed)
	EventNotificationResult = EventType(session.EventNotificationResult)
	EventError              = EventType(session.EventError)
)

// WSEvent is one message pushed to clients. Several events queued for the
// same client are written in one frame, separated by newlines.
type WSEvent struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// WSSubscription is a client request to change its event filter. Action is
// "subscribe" or "unsubscribe". A client without subscriptions gets every
// event.
type WSSubscription struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

// WSClient is one WebSocket connection.
type WSClient struct {
	conn *websocket.Conn
	hub  *WSHub
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[EventType]bool
}

func newWSClient(hub *WSHub, conn *websocket.Conn) *WSClient {
	return &WSClient{
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, wsClientBuffer),
		subscriptions: make(map[EventType]bool),
	}
}

// wants reports whether the client's filter lets t through.
func (c *WSClient) wants(t EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[t]
}

func (c *WSClient) applySubscription(sub WSSubscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range sub.Events {
		switch sub.Action {
		case "subscribe":
			c.subscriptions[EventType(name)] = true
		case "unsubscribe":
			delete(c.subscriptions, EventType(name))
		}
	}
}

// WSHub fans controller events out to WebSocket clients. Only the Run
// goroutine adds or removes clients.
type WSHub struct {
	log *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	events     chan *WSEvent
	register   chan *WSClient
	unregister chan *WSClient

	done     chan struct{}
	stopOnce sync.Once
}

// NewWSHub creates a hub. Call Run to start it.
func NewWSHub() *WSHub {
	return &WSHub{
		log:        logging.GetDefault().Component("ws"),
		clients:    make(map[*WSClient]struct{}),
		events:     make(chan *WSEvent, wsHubBuffer),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
	}
}

// Run is the hub loop. It returns after Stop, closing every client.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

// Stop ends the hub loop.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues an event for subscribed clients. It never blocks; when
// the hub is backed up the event is dropped.
func (h *WSHub) Broadcast(eventType EventType, data interface{}) {
	ev := &WSEvent{Type: eventType, Data: data, Timestamp: time.Now().Unix()}
	select {
	case h.events <- ev:
	default:
		h.log.Warn("Event queue full, dropping event", "type", eventType)
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHub) add(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("WebSocket client connected", "clients", n)
}

func (h *WSHub) remove(c *WSClient) {
	h.mu.Lock()
	h.dropLocked(c)
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("WebSocket client disconnected", "clients", n)
}

// dropLocked forgets c and closes its queue. Caller holds h.mu.
func (h *WSHub) dropLocked(c *WSClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// deliver hands ev to every interested client. Clients whose queue is full
// are disconnected after the pass.
func (h *WSHub) deliver(ev *WSEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("Failed to marshal event", "type", ev.Type, "error", err)
		return
	}

	var slow []*WSClient
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(ev.Type) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		h.dropLocked(c)
	}
	h.mu.Unlock()
	h.log.Warn("Dropped slow WebSocket clients", "count", len(slow), "type", ev.Type)
}

func (h *WSHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.dropLocked(c)
	}
}

// handleWS upgrades the request and attaches the client to the hub.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("WebSocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(s.wsHub, conn)
	select {
	case s.wsHub.register <- c:
	case <-s.wsHub.done:
		conn.Close()
		return
	}

	go c.writeLoop()
	go c.readLoop()
}

// readLoop applies subscription messages until the connection fails.
func (c *WSClient) readLoop() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("WebSocket read error", "error", err)
			}
			return
		}

		var sub WSSubscription
		if err := json.Unmarshal(msg, &sub); err != nil {
			c.hub.log.Debug("Ignoring WebSocket message", "error", err)
			continue
		}
		c.applySubscription(sub)
	}
}

// writeLoop drains the send queue and keeps the connection alive with pings.
func (c *WSClient) writeLoop() {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeFrame(msg); err != nil {
				return
			}

		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeFrame writes msg and whatever is already queued behind it as one
// text frame.
func (c *WSClient) writeFrame(msg []byte) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	w.Write(msg)

	for queued := len(c.send); queued > 0; queued-- {
		next, ok := <-c.send
		if !ok {
			break
		}
		w.Write([]byte{'\n'})
		w.Write(next)
	}
	return w.Close()
}
