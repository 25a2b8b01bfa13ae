package ws

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"petwatch/internal/pipeline"
)

// AllCameras is the subscription key receiving events of every camera.
const AllCameras = "all"

const (
	writeWait   = 10 * time.Second
	eventBuffer = 256
)

// client serializes writes to one connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// EventHub fans pipeline events out to WebSocket clients.
type EventHub struct {
	// clients maps camera key -> set of clients
	clients map[string]map[*client]bool
	mu      sync.RWMutex
}

// NewEventHub creates a new event hub
func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[string]map[*client]bool),
	}
}

// register adds a client for a camera key
func (h *EventHub) register(key string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[key] == nil {
		h.clients[key] = make(map[*client]bool)
	}
	h.clients[key][c] = true
	log.Printf("[WS] Client registered for camera %s (total: %d)", key, len(h.clients[key]))
}

// unregister removes a client for a camera key
func (h *EventHub) unregister(key string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[key]; ok {
		if _, ok := conns[c]; !ok {
			return
		}
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, key)
		}
		log.Printf("[WS] Client unregistered for camera %s", key)
	}
}

// HasClients returns true if there are any clients connected for a key
func (h *EventHub) HasClients(key string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[key]) > 0
}

// ClientCount returns the total number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// Run forwards bus events to clients until ctx is done or the bus closes.
// Events arriving while clients are slow are dropped by the bus, so camera
// loops never wait on a websocket write.
func (h *EventHub) Run(ctx context.Context, bus *pipeline.EventBus) {
	events, unsubscribe := bus.SubscribeChannel(eventBuffer)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.OnEvent(ev)
		}
	}
}

// OnEvent implements pipeline.EventHandler.
func (h *EventHub) OnEvent(ev *pipeline.Event) {
	key := strconv.Itoa(ev.CameraID)
	if !h.HasClients(key) && !h.HasClients(AllCameras) {
		return
	}

	data, err := json.Marshal(NewEventMessage(ev))
	if err != nil {
		log.Printf("[WS] Error marshaling event message: %v", err)
		return
	}
	h.Broadcast(key, data)
	h.Broadcast(AllCameras, data)
}

// Broadcast sends a message to all clients subscribed to key. Clients that
// cannot be written are dropped.
func (h *EventHub) Broadcast(key string, message []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[key]))
	for c := range h.clients[key] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(websocket.TextMessage, message); err != nil {
			log.Printf("[WS] Error sending to client: %v", err)
			h.unregister(key, c)
			c.conn.Close()
		}
	}
}

var _ pipeline.EventHandler = (*EventHub)(nil)
