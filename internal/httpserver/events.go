package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hopecore/community/internal/domain"
)

const (
	eventWriteTimeout = 10 * time.Second

	// eventPongWait bounds how long a silent client is kept; pings go out at
	// eventPingPeriod so a healthy client always answers in time.
	eventPongWait   = 60 * time.Second
	eventPingPeriod = (eventPongWait * 9) / 10

	// eventReadLimit caps inbound frames; clients have nothing to say on
	// this stream beyond control messages.
	eventReadLimit = 512
)

// eventHub pushes session transitions to connected clients over websockets.
// Content changes are not pushed; clients refetch those.
type eventHub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[*eventConn]struct{}
	lastSeen *sessionEvent
}

// eventConn serializes writes to one subscriber. Observers run on whichever
// goroutine performed the actor transition, so two transitions can reach the
// same connection concurrently and gorilla allows only one writer at a time.
type eventConn struct {
	conn *websocket.Conn

	writeMu  sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
}

func (c *eventConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
	return c.conn.WriteJSON(v)
}

type sessionEvent struct {
	Type  string         `json:"type"`
	Actor map[string]any `json:"actor"`
}

func newEventHub(logger *slog.Logger) *eventHub {
	return &eventHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*eventConn]struct{}),
	}
}

// onActorChanged is registered as a session observer. It fans the transition
// out to every connected client.
func (h *eventHub) onActorChanged(_ context.Context, actor domain.Actor) {
	event := &sessionEvent{
		Type:  "session_changed",
		Actor: actorView(actor),
	}

	h.mu.Lock()
	h.lastSeen = event
	conns := make([]*eventConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.writeJSON(event); err != nil {
			h.logger.Warn("dropping event subscriber", "error", err)
			h.remove(c)
		}
	}
}

func (h *eventHub) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn.SetReadLimit(eventReadLimit)
	conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})

	c := &eventConn{conn: conn, stop: make(chan struct{})}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	snapshot := h.lastSeen
	h.mu.Unlock()

	// New subscribers get the current state immediately so they never have
	// to wait for the next transition.
	if snapshot != nil {
		if err := c.writeJSON(snapshot); err != nil {
			h.remove(c)
			return
		}
	}

	go h.pingLoop(c)
	go h.readLoop(c)
}

// readLoop exists to notice client disconnects and run the pong handler;
// inbound messages are ignored.
func (h *eventHub) readLoop(c *eventConn) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

// pingLoop keeps the read deadline moving for healthy clients. WriteControl
// is safe alongside the serialized data writes.
func (h *eventHub) pingLoop(c *eventConn) {
	ticker := time.NewTicker(eventPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(eventWriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *eventHub) remove(c *eventConn) {
	h.mu.Lock()
	_, present := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stop) })
	if present {
		c.conn.Close()
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	conns := make([]*eventConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[*eventConn]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		c.stopOnce.Do(func() { close(c.stop) })
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(eventWriteTimeout))
		c.conn.Close()
	}
}
