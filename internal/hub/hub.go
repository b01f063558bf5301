package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"lockstep/internal/websocket"
	"lockstep/pkg/interfaces"
	"lockstep/pkg/types"
)

// messageEvent pairs a decoded envelope with the connection that sent it.
type messageEvent struct {
	conn interfaces.Connection
	env  types.Envelope
}

// Hub serializes every session lifecycle transition onto one goroutine.
// Transport goroutines feed it messages and disconnect notices through
// buffered channels; the run loop applies them to the lifecycle handler one
// at a time, so host, join, leave and tick transitions never interleave.
type Hub struct {
	registry *websocket.Registry
	handler  interfaces.LifecycleHandler

	messageCh    chan messageEvent
	disconnectCh chan string

	stallInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewHub creates a hub over the given registry and lifecycle handler.
// stallInterval is how often the handler's stall check runs; zero or
// negative disables it.
func NewHub(registry *websocket.Registry, handler interfaces.LifecycleHandler, stallInterval time.Duration) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:      registry,
		handler:       handler,
		messageCh:     make(chan messageEvent, 256),
		disconnectCh:  make(chan string, 64),
		stallInterval: stallInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches the run loop.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.run()
	log.Printf("Hub started: stall_interval=%s", h.stallInterval)
}

// Stop shuts the run loop down and waits for it to drain.
func (h *Hub) Stop() {
	h.once.Do(func() {
		h.cancel()
		h.wg.Wait()
		log.Printf("Hub stopped")
	})
}

// RegisterConnection adds a new, unbound connection to the registry. The
// connection holds no session state until a host or join message binds it,
// so registration does not need run-loop serialization.
func (h *Hub) RegisterConnection(conn interfaces.Connection) error {
	select {
	case <-h.ctx.Done():
		return ErrHubClosed
	default:
	}
	return h.registry.Add(conn)
}

// UnregisterConnection queues a disconnect for the run loop. Blocks until
// accepted so a dead device is always cleaned out of its session.
func (h *Hub) UnregisterConnection(connID string) {
	select {
	case h.disconnectCh <- connID:
	case <-h.ctx.Done():
		// Shutdown tears the registry down wholesale.
	}
}

// SendEnvelope queues a client message for the run loop. A full queue
// rejects the message rather than blocking the connection's read pump.
func (h *Hub) SendEnvelope(conn interfaces.Connection, env types.Envelope) error {
	select {
	case h.messageCh <- messageEvent{conn: conn, env: env}:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	default:
		return ErrHubBusy
	}
}

// run is the single goroutine that owns all lifecycle transitions.
func (h *Hub) run() {
	defer h.wg.Done()

	var stallC <-chan time.Time
	if h.stallInterval > 0 {
		ticker := time.NewTicker(h.stallInterval)
		defer ticker.Stop()
		stallC = ticker.C
	}

	for {
		select {
		case <-h.ctx.Done():
			h.drain()
			return

		case ev := <-h.messageCh:
			if err := h.handler.HandleMessage(h.ctx, ev.conn, ev.env); err != nil {
				log.Printf("Message handling failed: connection=%s type=%s err=%v", ev.conn.ID(), ev.env.Type, err)
				_ = ev.conn.WriteEnvelope(types.MessageTypeError, types.ErrorNotify{Message: "internal error"})
			}

		case connID := <-h.disconnectCh:
			h.handler.HandleDisconnect(h.ctx, connID)
			h.registry.Remove(connID)

		case <-stallC:
			h.handler.CheckStalls(h.ctx)
		}
	}
}

// drain processes queued disconnects during shutdown so audit records for
// in-flight departures still land, then closes every remaining connection.
func (h *Hub) drain() {
	for {
		select {
		case connID := <-h.disconnectCh:
			h.handler.HandleDisconnect(context.Background(), connID)
			h.registry.Remove(connID)
		default:
			h.registry.CloseAll()
			return
		}
	}
}

// GetStats reports queue depths for the ops API.
func (h *Hub) GetStats() map[string]int {
	return map[string]int{
		"queued_messages":    len(h.messageCh),
		"queued_disconnects": len(h.disconnectCh),
	}
}
