package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"lockstep/pkg/interfaces"
	"lockstep/pkg/types"
)

// upgrader holds the settings for promoting HTTP requests to WebSocket
// connections.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Game clients connect from arbitrary local networks; origin
		// checking belongs to a reverse proxy if one is deployed.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Coordinator is the hub-side surface the handler feeds. Everything a client
// does after the upgrade flows through here so that a single goroutine
// serializes all state mutations.
type Coordinator interface {
	RegisterConnection(conn interfaces.Connection) error
	UnregisterConnection(connID string)
	SendEnvelope(conn interfaces.Connection, env types.Envelope) error
}

// Options configure the per-connection heartbeat.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

// DefaultOptions returns heartbeat settings suitable for home networks.
func DefaultOptions() Options {
	return Options{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}

// Handler accepts WebSocket connections and pumps decoded envelopes into the
// coordinator. It holds no protocol state; a connection's identity within a
// session lives in the registry and is assigned by the router on host/join.
type Handler struct {
	coordinator Coordinator
	opts        Options
}

// NewHandler creates a WebSocket handler.
func NewHandler(coordinator Coordinator, opts Options) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultOptions().PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultOptions().ReadTimeout
	}
	return &Handler{coordinator: coordinator, opts: opts}
}

// HandleWebSocket upgrades the request and starts the connection's read
// pump. Unlike token-authenticated designs there is nothing to validate
// up front: a fresh connection is anonymous until its first host_request or
// join_request succeeds.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn)

	if err := h.coordinator.RegisterConnection(wsConn); err != nil {
		log.Printf("Failed to register connection %s: %v", wsConn.ID(), err)
		_ = wsConn.Close()
		return
	}

	go h.handleConnection(wsConn, conn)
}

// handleConnection runs the read pump and heartbeat for one connection and
// reports the disconnect when either ends.
func (h *Handler) handleConnection(wsConn *Connection, raw *websocket.Conn) {
	defer func() {
		h.coordinator.UnregisterConnection(wsConn.ID())
		_ = wsConn.Close()
	}()

	if err := raw.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := wsConn.Ping(); err != nil {
					return
				}
			case <-wsConn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on %s: %v", wsConn.ID(), err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("Malformed envelope from %s: %v", wsConn.ID(), err)
			_ = wsConn.WriteEnvelope(types.MessageTypeError, types.ErrorNotify{Message: "malformed message"})
			continue
		}

		if err := env.Validate(); err != nil || !types.IsClientMessageType(env.Type) {
			log.Printf("Rejected envelope from %s: type=%q err=%v", wsConn.ID(), env.Type, err)
			_ = wsConn.WriteEnvelope(types.MessageTypeError, types.ErrorNotify{Message: "unsupported message type"})
			continue
		}

		if err := h.coordinator.SendEnvelope(wsConn, env); err != nil {
			log.Printf("Dropped envelope from %s: type=%s err=%v", wsConn.ID(), env.Type, err)
			_ = wsConn.WriteEnvelope(types.MessageTypeError, types.ErrorNotify{Message: "server busy, message dropped"})
		}
	}
}
