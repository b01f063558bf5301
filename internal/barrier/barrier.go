package barrier

import (
	"encoding/json"
	"sync"
	"time"

	"lockstep/pkg/types"
)

// Barrier is the lockstep gate: a session's simulation advances only when
// every joined device has submitted its input for the current tick. Per
// session it tracks which devices are still pending, stores the submitted
// payloads, and hands out the aggregated set exactly once per release.
//
// The barrier never decides membership; it mirrors the session manager
// through DeviceAdded/DeviceRemoved, driven by the router on every
// transition.
type Barrier struct {
	mu       sync.Mutex
	sessions map[types.SessionID]*sessionTick
}

// sessionTick is the per-session barrier state for the tick in flight.
type sessionTick struct {
	tick    uint64
	inputs  map[types.DeviceID]json.RawMessage // nil value = pending
	waiting time.Time                          // first submission of this tick; zero when idle
}

// Stall describes a session stuck mid-tick behind straggler devices.
type Stall struct {
	SessionID types.SessionID
	Tick      uint64
	Waiting   []types.DeviceID
	Age       time.Duration
}

// New creates an empty barrier.
func New() *Barrier {
	return &Barrier{sessions: make(map[types.SessionID]*sessionTick)}
}

// AddSession registers a session with no devices. Idempotent.
func (b *Barrier) AddSession(sessionID types.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.sessions[sessionID]; !exists {
		b.sessions[sessionID] = &sessionTick{
			inputs: make(map[types.DeviceID]json.RawMessage),
		}
	}
}

// RemoveSession drops all barrier state for a session. Idempotent.
func (b *Barrier) RemoveSession(sessionID types.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}

// DeviceAdded initializes the device's status to pending for the current
// tick. A device joining mid-tick therefore holds back the barrier until it
// submits, which keeps the released set complete for every member.
func (b *Barrier) DeviceAdded(sessionID types.SessionID, deviceID types.DeviceID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, exists := b.sessions[sessionID]
	if !exists {
		return ErrUnknownSession
	}
	if _, present := state.inputs[deviceID]; !present {
		state.inputs[deviceID] = nil
	}
	return nil
}

// DeviceRemoved drops the device's status entry and reports whether the
// removal satisfied the barrier for the remaining devices. Readiness must be
// re-evaluated here, not only on submission: a departing straggler would
// otherwise leave the session stuck until the next (never-arriving) input.
// Unknown sessions and devices are no-ops.
func (b *Barrier) DeviceRemoved(sessionID types.SessionID, deviceID types.DeviceID) (ready bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, exists := b.sessions[sessionID]
	if !exists {
		return false
	}
	delete(state.inputs, deviceID)
	return state.readyLocked()
}

// Submit records a device's input for the current tick and reports whether
// the barrier is now satisfied. Duplicate submissions within one tick are
// absorbed: the first payload wins and readiness is unaffected.
func (b *Barrier) Submit(sessionID types.SessionID, deviceID types.DeviceID, payload json.RawMessage) (ready bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, exists := b.sessions[sessionID]
	if !exists {
		return false, ErrUnknownSession
	}
	existing, present := state.inputs[deviceID]
	if !present {
		return false, ErrUnknownDevice
	}
	if existing == nil {
		if payload == nil {
			payload = json.RawMessage("null")
		}
		state.inputs[deviceID] = payload
		if state.waiting.IsZero() {
			state.waiting = time.Now()
		}
	}
	return state.readyLocked(), nil
}

// Ready reports whether every registered device has submitted.
func (b *Barrier) Ready(sessionID types.SessionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, exists := b.sessions[sessionID]
	if !exists {
		return false
	}
	return state.readyLocked()
}

// Release captures the aggregated inputs for the completed tick, resets every
// device to pending, and advances the tick counter — all under one lock hold,
// so no next-tick submission can slip in between capture and reset. Callers
// invoke it exactly once per Ready transition; releasing an unready or
// unknown session returns an error and changes nothing.
func (b *Barrier) Release(sessionID types.SessionID) (tick uint64, inputs map[types.DeviceID]json.RawMessage, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, exists := b.sessions[sessionID]
	if !exists {
		return 0, nil, ErrUnknownSession
	}
	if !state.readyLocked() {
		return 0, nil, ErrNotReady
	}

	tick = state.tick
	inputs = state.inputs
	reset := make(map[types.DeviceID]json.RawMessage, len(inputs))
	for id := range inputs {
		reset[id] = nil
	}
	state.inputs = reset
	state.tick++
	state.waiting = time.Time{}
	return tick, inputs, nil
}

// Stragglers returns every session that has been waiting on at least one
// pending device for longer than minAge, with the pending device ids. Age is
// measured from the tick's first submission; a session where nobody has
// submitted yet is idle, not stalled.
func (b *Barrier) Stragglers(minAge time.Duration) []Stall {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	var stalls []Stall
	for sessionID, state := range b.sessions {
		if state.waiting.IsZero() {
			continue
		}
		age := now.Sub(state.waiting)
		if age < minAge {
			continue
		}
		var waiting []types.DeviceID
		for id, payload := range state.inputs {
			if payload == nil {
				waiting = append(waiting, id)
			}
		}
		if len(waiting) == 0 {
			continue
		}
		stalls = append(stalls, Stall{
			SessionID: sessionID,
			Tick:      state.tick,
			Waiting:   waiting,
			Age:       age,
		})
	}
	return stalls
}

// Tick returns the current tick number for a session.
func (b *Barrier) Tick(sessionID types.SessionID) (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, exists := b.sessions[sessionID]
	if !exists {
		return 0, false
	}
	return state.tick, true
}

// GetStats returns barrier statistics.
func (b *Barrier) GetStats() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending := 0
	for _, state := range b.sessions {
		for _, payload := range state.inputs {
			if payload == nil {
				pending++
			}
		}
	}
	return map[string]int{
		"tracked_sessions": len(b.sessions),
		"pending_inputs":   pending,
	}
}

// readyLocked reports readiness; caller holds b.mu. Zero devices reports not
// ready: the session manager destroys empty sessions in the same transition,
// so an empty release must never fire.
func (s *sessionTick) readyLocked() bool {
	if len(s.inputs) == 0 {
		return false
	}
	for _, payload := range s.inputs {
		if payload == nil {
			return false
		}
	}
	return true
}
