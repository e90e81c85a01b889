// Package eventstream broadcasts eventbus.Event lifecycle notifications to
// connected dashboard websocket clients, grouped by correlation id.
package eventstream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/aosanya/workflowforge/internal/eventbus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans eventbus.Event values out to websocket clients subscribed to one
// correlation id.
type Hub struct {
	events *eventbus.Bus

	mu      sync.Mutex
	clients map[string]map[*websocket.Conn]bool
}

// New wires a Hub around the shared event bus.
func New(events *eventbus.Bus) *Hub {
	return &Hub{events: events, clients: make(map[string]map[*websocket.Conn]bool)}
}

// Run subscribes to the event bus and dispatches every event to clients
// watching its correlation id. It blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	id, ch := h.events.Subscribe()
	defer h.events.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(event)
		}
	}
}

// ServeWS upgrades the request to a websocket connection and registers it
// against the correlationId path/query parameter, replaying nothing (a
// client only sees events published after it connects).
func (h *Hub) ServeWS(c *gin.Context) {
	correlationID := c.Param("correlationId")
	if correlationID == "" {
		correlationID = c.Query("correlationId")
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("failed to upgrade event stream connection")
		return
	}

	h.addClient(correlationID, conn)
	go h.readPump(correlationID, conn)
}

func (h *Hub) addClient(correlationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[correlationID]
	if !ok {
		set = make(map[*websocket.Conn]bool)
		h.clients[correlationID] = set
	}
	set[conn] = true
}

func (h *Hub) removeClient(correlationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.clients[correlationID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.clients, correlationID)
		}
	}
	conn.Close()
}

// readPump drains (and discards) client frames so that a disconnect surfaces
// as a read error and the client is removed; no read deadline is set, and
// dashboard clients are not expected to send anything back.
func (h *Hub) readPump(correlationID string, conn *websocket.Conn) {
	defer h.removeClient(correlationID, conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) broadcast(event eventbus.Event) {
	if event.CorrelationID == "" {
		return
	}

	h.mu.Lock()
	set, ok := h.clients[event.CorrelationID]
	if !ok || len(set) == 0 {
		h.mu.Unlock()
		return
	}
	conns := make([]*websocket.Conn, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	payload, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).Warn("failed to marshal event for stream broadcast")
		return
	}

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.removeClient(event.CorrelationID, conn)
		}
	}
}
