package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ayusman/kathakali/internal/app"
	"github.com/ayusman/kathakali/internal/rig"
)

const writeWait = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// rigMessage is one websocket push.
type rigMessage struct {
	Rig    rig.Snapshot `json:"rig"`
	Status app.Status   `json:"status"`
}

// RigHandler pushes rig snapshots to websocket clients whenever the
// pipeline has produced a new one.
type RigHandler struct {
	engine   Engine
	interval time.Duration
	log      zerolog.Logger
	clients  map[*websocket.Conn]bool
	mu       sync.RWMutex
	stop     chan struct{}
	once     sync.Once
}

// NewRigHandler creates a RigHandler and starts its broadcast loop.
func NewRigHandler(e Engine, interval time.Duration, log zerolog.Logger) *RigHandler {
	h := &RigHandler{
		engine:   e,
		interval: interval,
		log:      log.With().Str("component", "ws").Logger(),
		clients:  make(map[*websocket.Conn]bool),
		stop:     make(chan struct{}),
	}
	go h.broadcast()
	return h
}

// ServeHTTP handles WebSocket upgrade requests. A client receives the
// current state immediately, then every change.
func (h *RigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	if msg, err := h.message(); err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, msg)
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Clients returns the number of connected clients.
func (h *RigHandler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops the broadcast loop and disconnects every client.
func (h *RigHandler) Close() {
	h.once.Do(func() {
		close(h.stop)
		h.mu.Lock()
		for conn := range h.clients {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			conn.Close()
		}
		h.mu.Unlock()
	})
}

func (h *RigHandler) message() ([]byte, error) {
	return json.Marshal(rigMessage{Rig: h.engine.Latest(), Status: h.engine.Status()})
}

// broadcast sends each new snapshot to all connected clients.
func (h *RigHandler) broadcast() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}

		if h.Clients() == 0 {
			continue
		}

		ts := h.engine.Latest().Timestamp
		if ts == last {
			continue
		}
		last = ts

		msg, err := h.message()
		if err != nil {
			h.log.Error().Err(err).Msg("failed to encode rig state")
			continue
		}

		h.mu.RLock()
		for conn := range h.clients {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug().Err(err).Msg("websocket write failed")
			}
		}
		h.mu.RUnlock()
	}
}
