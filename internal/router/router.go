package router

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"lockstep/internal/barrier"
	"lockstep/internal/session"
	"lockstep/internal/websocket"
	"lockstep/pkg/interfaces"
	"lockstep/pkg/types"
)

// Router implements the session lifecycle protocol: host, join, lobby start,
// leave and tick submission. It is the only component that mutates the
// session manager, the connection registry and the tick barrier — each
// transition updates all three before returning, so they can never drift
// apart. The hub drives every method from its single goroutine, which
// serializes transitions without per-session locks.
type Router struct {
	sessions *session.Manager
	registry *websocket.Registry
	ticks    *barrier.Barrier
	limiter  *RateLimiter
	cleaner  *Cleaner

	stallWarning time.Duration
	// lastStallTick remembers the newest tick warned about per session, so a
	// stuck tick produces one notice, not one per check interval. Hub
	// goroutine only.
	lastStallTick map[types.SessionID]uint64
}

// NewRouter creates a session lifecycle router. A stallWarning of zero
// disables tick-stall notices; a rateLimitPerMinute of zero selects the
// default limit.
func NewRouter(sessions *session.Manager, registry *websocket.Registry, ticks *barrier.Barrier, stallWarning time.Duration, rateLimitPerMinute int) *Router {
	r := &Router{
		sessions:      sessions,
		registry:      registry,
		ticks:         ticks,
		limiter:       NewRateLimiter(rateLimitPerMinute, time.Minute),
		stallWarning:  stallWarning,
		lastStallTick: make(map[types.SessionID]uint64),
	}
	r.cleaner = NewCleaner(r)
	return r
}

// HandleMessage applies one client envelope. Protocol failures (unknown
// codes, non-host start requests, stale ids) are answered on conn and return
// nil; only internal faults surface as errors.
func (r *Router) HandleMessage(ctx context.Context, conn interfaces.Connection, env types.Envelope) error {
	if !r.limiter.Allow(conn.ID()) {
		_ = conn.WriteEnvelope(types.MessageTypeError, types.ErrorNotify{Message: "rate limit exceeded"})
		return nil
	}

	switch env.Type {
	case types.MessageTypeHostRequest:
		return r.handleHost(ctx, conn, env.Payload)
	case types.MessageTypeJoinRequest:
		return r.handleJoin(ctx, conn, env.Payload)
	case types.MessageTypeLobbyStartRequest:
		return r.handleLobbyStart(conn, env.Payload)
	case types.MessageTypeLeave:
		return r.handleLeave(ctx, conn)
	case types.MessageTypeInputTick:
		return r.handleInputTick(conn, env.Payload)
	default:
		return ErrUnhandledMessage
	}
}

// HandleDisconnect delegates to the cleaner, which recovers the device from
// the connection index and runs the leave transition.
func (r *Router) HandleDisconnect(ctx context.Context, connID string) {
	r.cleaner.HandleDisconnect(ctx, connID)
}

// handleHost creates a session with the requester as device 0 and binds the
// connection.
func (r *Router) handleHost(ctx context.Context, conn interfaces.Connection, payload json.RawMessage) error {
	var req types.HostRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		_ = conn.WriteEnvelope(types.MessageTypeHostReject, types.HostReject{Reason: types.ReasonInvalidDeviceName})
		return nil
	}

	if _, bound := r.registry.Lookup(conn.ID()); bound {
		_ = conn.WriteEnvelope(types.MessageTypeHostReject, types.HostReject{Reason: types.ReasonAlreadyInSession})
		return nil
	}

	if !types.IsValidDeviceName(req.DeviceName) {
		_ = conn.WriteEnvelope(types.MessageTypeHostReject, types.HostReject{Reason: types.ReasonInvalidDeviceName})
		return nil
	}

	sess, err := r.sessions.CreateSession(ctx)
	if err != nil {
		// The reject is the whole answer; returning an error here would make
		// the hub send a second notify for the same request.
		if !errors.Is(err, session.ErrServerFull) && !errors.Is(err, session.ErrCodeSpaceExhausted) {
			log.Printf("Session creation failed: err=%v", err)
		}
		_ = conn.WriteEnvelope(types.MessageTypeHostReject, types.HostReject{Reason: types.ReasonServerFull})
		return nil
	}

	deviceID, err := r.sessions.AddDevice(ctx, sess.ID, req.DeviceName)
	if err != nil {
		// Name was validated above and the session is fresh; reaching this
		// means the registries disagree. Unwind the empty session.
		log.Printf("Adding host device failed: session=%d err=%v", sess.ID, err)
		r.sessions.DestroySession(ctx, sess.ID)
		_ = conn.WriteEnvelope(types.MessageTypeHostReject, types.HostReject{Reason: types.ReasonServerFull})
		return nil
	}

	r.ticks.AddSession(sess.ID)
	if err := r.ticks.DeviceAdded(sess.ID, deviceID); err != nil {
		log.Printf("Barrier rejected new host device: session=%d device=%d err=%v", sess.ID, deviceID, err)
	}

	if err := r.registry.Bind(conn.ID(), sess.ID, deviceID); err != nil {
		// Connection vanished between upgrade and host. Roll the whole
		// transition back; the disconnect already raced us.
		r.sessions.RemoveDevice(ctx, sess.ID, deviceID)
		r.ticks.RemoveSession(sess.ID)
		return nil
	}

	return conn.WriteEnvelope(types.MessageTypeHostAccept, types.HostAccept{
		SessionCode: sess.Code,
		DeviceID:    deviceID,
	})
}

// handleJoin resolves the code, adds the device, binds the connection and
// broadcasts the new roster.
func (r *Router) handleJoin(ctx context.Context, conn interfaces.Connection, payload json.RawMessage) error {
	var req types.JoinRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		_ = conn.WriteEnvelope(types.MessageTypeJoinReject, types.JoinReject{Reason: types.ReasonInvalidDeviceName})
		return nil
	}

	if _, bound := r.registry.Lookup(conn.ID()); bound {
		_ = conn.WriteEnvelope(types.MessageTypeJoinReject, types.JoinReject{Reason: types.ReasonAlreadyInSession})
		return nil
	}

	if !types.IsValidDeviceName(req.DeviceName) {
		_ = conn.WriteEnvelope(types.MessageTypeJoinReject, types.JoinReject{Reason: types.ReasonInvalidDeviceName})
		return nil
	}

	sessionID, found := r.sessions.ResolveCode(req.SessionCode)
	if !found {
		_ = conn.WriteEnvelope(types.MessageTypeJoinReject, types.JoinReject{Reason: types.ReasonSessionCodeNotFound})
		return nil
	}

	deviceID, err := r.sessions.AddDevice(ctx, sessionID, req.DeviceName)
	if err != nil {
		reason := types.ReasonSessionCodeNotFound
		if errors.Is(err, session.ErrSessionFull) {
			reason = types.ReasonSessionFull
		}
		_ = conn.WriteEnvelope(types.MessageTypeJoinReject, types.JoinReject{Reason: reason})
		return nil
	}

	if err := r.ticks.DeviceAdded(sessionID, deviceID); err != nil {
		log.Printf("Barrier rejected joining device: session=%d device=%d err=%v", sessionID, deviceID, err)
	}

	if err := r.registry.Bind(conn.ID(), sessionID, deviceID); err != nil {
		r.removeDevice(ctx, sessionID, deviceID)
		return nil
	}

	devices, err := r.sessions.Devices(sessionID)
	if err != nil {
		devices = nil
	}

	if err := conn.WriteEnvelope(types.MessageTypeJoinAccept, types.JoinAccept{
		SessionCode: req.SessionCode,
		DeviceID:    deviceID,
		Devices:     devices,
	}); err != nil {
		log.Printf("Failed to deliver join accept: session=%d device=%d err=%v", sessionID, deviceID, err)
	}

	r.broadcast(sessionID, types.MessageTypeRosterUpdate, types.RosterUpdate{Devices: devices}, conn.ID())
	return nil
}

// handleLobbyStart notifies every device when the hosting device asks to
// begin play. Duplicate requests from the host produce a duplicate notify,
// which clients treat as a no-op.
func (r *Router) handleLobbyStart(conn interfaces.Connection, payload json.RawMessage) error {
	var req types.LobbyStartRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			_ = conn.WriteEnvelope(types.MessageTypeLobbyStartReject, types.LobbyStartReject{Reason: types.ReasonNotInSession})
			return nil
		}
	}

	binding, bound := r.registry.Lookup(conn.ID())
	if !bound {
		_ = conn.WriteEnvelope(types.MessageTypeLobbyStartReject, types.LobbyStartReject{Reason: types.ReasonNotInSession})
		return nil
	}

	// The code in the request must name the session this connection is
	// actually in. A stale code from a previous session is a client bug, not
	// a license to start someone else's game.
	if req.SessionCode != "" {
		if id, ok := r.sessions.ResolveCode(req.SessionCode); !ok || id != binding.SessionID {
			_ = conn.WriteEnvelope(types.MessageTypeLobbyStartReject, types.LobbyStartReject{Reason: types.ReasonNotInSession})
			return nil
		}
	}

	if binding.DeviceID != types.HostDeviceID {
		_ = conn.WriteEnvelope(types.MessageTypeLobbyStartReject, types.LobbyStartReject{Reason: types.ReasonNotHost})
		return nil
	}

	log.Printf("Lobby start: session=%d", binding.SessionID)
	r.broadcast(binding.SessionID, types.MessageTypeLobbyStartNotify, types.LobbyStartNotify{}, "")
	return nil
}

// handleLeave runs the leave transition for an explicit leave message.
// Leaving without a session is silently absorbed; the client may have raced
// its own disconnect.
func (r *Router) handleLeave(ctx context.Context, conn interfaces.Connection) error {
	binding, bound := r.registry.Unbind(conn.ID())
	if !bound {
		log.Printf("Leave from unbound connection %s ignored", conn.ID())
		return nil
	}

	r.removeDevice(ctx, binding.SessionID, binding.DeviceID)
	return nil
}

// handleInputTick records a device's tick input and releases the barrier
// when it completes the set.
func (r *Router) handleInputTick(conn interfaces.Connection, payload json.RawMessage) error {
	binding, bound := r.registry.Lookup(conn.ID())
	if !bound {
		_ = conn.WriteEnvelope(types.MessageTypeError, types.ErrorNotify{Message: "not in a session"})
		return nil
	}

	var tick types.InputTick
	if err := json.Unmarshal(payload, &tick); err != nil {
		_ = conn.WriteEnvelope(types.MessageTypeError, types.ErrorNotify{Message: "malformed input tick"})
		return nil
	}

	ready, err := r.ticks.Submit(binding.SessionID, binding.DeviceID, tick.Payload)
	if err != nil {
		// Expected when a submission races the device's own removal; the
		// session moved on without this input.
		log.Printf("Tick submission dropped: session=%d device=%d err=%v", binding.SessionID, binding.DeviceID, err)
		return nil
	}

	if ready {
		r.releaseTick(binding.SessionID)
	}
	return nil
}

// releaseTick broadcasts the aggregated tick exactly once and resets the
// barrier. The reset happens inside Release before any next-tick submission
// can be observed, because the hub goroutine is still here.
func (r *Router) releaseTick(sessionID types.SessionID) {
	tick, inputs, err := r.ticks.Release(sessionID)
	if err != nil {
		log.Printf("Tick release failed: session=%d err=%v", sessionID, err)
		return
	}

	delete(r.lastStallTick, sessionID)
	r.broadcast(sessionID, types.MessageTypeTickRelease, types.TickRelease{
		Tick:   tick,
		Inputs: inputs,
	}, "")
}

// removeDevice applies a device removal across the session manager and tick
// barrier, releasing the barrier if the departing device was the last
// straggler, and broadcasts the updated roster to the remaining devices.
func (r *Router) removeDevice(ctx context.Context, sessionID types.SessionID, deviceID types.DeviceID) {
	removed, ended := r.sessions.RemoveDevice(ctx, sessionID, deviceID)
	if !removed {
		return
	}

	if ended {
		r.ticks.RemoveSession(sessionID)
		delete(r.lastStallTick, sessionID)
		return
	}

	if r.ticks.DeviceRemoved(sessionID, deviceID) {
		r.releaseTick(sessionID)
	}

	devices, err := r.sessions.Devices(sessionID)
	if err != nil {
		return
	}
	r.broadcast(sessionID, types.MessageTypeRosterUpdate, types.RosterUpdate{Devices: devices}, "")
}

// CheckStalls emits one tick_stall notice per stuck tick for sessions that
// have been waiting on stragglers longer than the configured threshold, and
// piggybacks rate limiter cleanup on the same timer.
func (r *Router) CheckStalls(ctx context.Context) {
	r.limiter.Cleanup()

	if r.stallWarning <= 0 {
		return
	}

	for _, stall := range r.ticks.Stragglers(r.stallWarning) {
		if r.lastStallTick[stall.SessionID] == stall.Tick+1 {
			continue
		}
		r.lastStallTick[stall.SessionID] = stall.Tick + 1

		log.Printf("Tick stalled: session=%d tick=%d waiting=%v age=%s",
			stall.SessionID, stall.Tick, stall.Waiting, stall.Age.Round(time.Millisecond))
		r.broadcast(stall.SessionID, types.MessageTypeTickStall, types.TickStall{
			Tick:    stall.Tick,
			Waiting: stall.Waiting,
		}, "")
	}
}

// broadcast sends one payload to every connection bound into the session,
// except excludeConnID when set. Delivery failures are logged per connection
// and never abort the fan-out.
func (r *Router) broadcast(sessionID types.SessionID, msgType string, payload interface{}, excludeConnID string) {
	for _, conn := range r.registry.SessionConnections(sessionID) {
		if excludeConnID != "" && conn.ID() == excludeConnID {
			continue
		}
		if err := conn.WriteEnvelope(msgType, payload); err != nil {
			log.Printf("Failed to deliver %s to %s in session %d: %v", msgType, conn.ID(), sessionID, err)
		}
	}
}
