package bridge

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Envelope frames every event pushed over the WebSocket stream.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Envelope types on the event stream.
const (
	EventAlert      = "alert"
	EventState      = "state"
	EventAssessment = "assessment"
	EventOffTrail   = "offtrail"
)

// sendBuffer is the per-client queue depth. A stalled shell misses events
// rather than blocking the broadcaster; the UI re-syncs from /v1/status.
const sendBuffer = 64

// Hub fans guardian events out to connected WebSocket clients.
type Hub struct {
	log zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	send chan []byte
}

func newHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

// register adds a client. After close the returned client's channel is
// already closed, so its connection winds down immediately.
func (h *Hub) register() *client {
	c := &client{send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.send)
		return c
	}
	h.clients[c] = struct{}{}
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Broadcast marshals the envelope once and queues it on every client without
// blocking.
func (h *Hub) Broadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error().Err(err).Str("type", env.Type).Msg("encoding event envelope")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn().Str("type", env.Type).Msg("dropping event for slow client")
		}
	}
}

func (h *Hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// close hangs up every client and rejects future registrations.
func (h *Hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The listener is loopback-only; the shell's webview origin is not a
	// meaningful trust boundary here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents upgrades the connection and streams envelopes until the shell
// hangs up or the bridge shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	c := s.hub.register()
	defer s.hub.unregister(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}

		// Hub shut down: say goodbye and unblock the read loop.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	// The shell sends nothing; reading only surfaces the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	<-done
}
