package events

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	defaultClientBuffer = 64
	writeTimeout        = 5 * time.Second
)

// Hub streams bus events to websocket observers, grouped by learner. Each
// connection has its own queue, so delivery order per connection matches bus
// order. A connection whose queue fills up is closed.
type Hub struct {
	mu        sync.RWMutex
	learners  map[string]map[*client]struct{}
	bufferLen int
}

type client struct {
	send   chan Event
	closed bool
}

// NewHub creates an empty websocket hub.
func NewHub() *Hub {
	return &Hub{
		learners:  make(map[string]map[*client]struct{}),
		bufferLen: defaultClientBuffer,
	}
}

// Attach routes every bus event to the learner's connections.
func (h *Hub) Attach(bus *Bus) (detach func()) {
	return bus.Subscribe(h.broadcast)
}

// Clients returns how many connections a learner has open.
func (h *Hub) Clients(learnerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.learners[learnerID])
}

// Serve upgrades the request and streams the learner's events until either side
// closes the connection.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, learnerID string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "learner_id", learnerID, "error", err)
		return
	}
	defer conn.CloseNow()

	c := h.add(learnerID)
	defer h.remove(learnerID, c)

	slog.Info("events client connected", "learner_id", learnerID, "total", h.Clients(learnerID))

	// Observers only listen; CloseRead handles control frames and reports peer close.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "client too slow")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				slog.Debug("events write failed", "learner_id", learnerID, "error", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

func (h *Hub) add(learnerID string) *client {
	c := &client{send: make(chan Event, h.bufferLen)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.learners[learnerID] == nil {
		h.learners[learnerID] = make(map[*client]struct{})
	}
	h.learners[learnerID][c] = struct{}{}
	return c
}

func (h *Hub) remove(learnerID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.learners[learnerID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	if len(conns) == 0 {
		delete(h.learners, learnerID)
	}
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.learners[ev.LearnerID] {
		if c.closed {
			continue
		}
		select {
		case c.send <- ev:
		default:
			slog.Warn("events client too slow, disconnecting", "learner_id", ev.LearnerID)
			c.closed = true
			close(c.send)
		}
	}
}
