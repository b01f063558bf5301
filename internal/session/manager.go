package session

import (
	"context"
	"log"
	"sync"
	"time"

	"lockstep/pkg/interfaces"
	"lockstep/pkg/types"
)

// Manager owns authoritative membership state for every live session. It is
// the only writer of device membership; the connection index and tick barrier
// hold device ids as lookup keys and are kept in step by the router on every
// transition.
type Manager struct {
	codes *CodeRegistry
	db    interfaces.DatabaseManager // nil disables the audit trail

	mu       sync.RWMutex
	sessions map[types.SessionID]*sessionState

	maxSessions          int // 0 means unlimited
	maxDevicesPerSession int // 0 means unlimited
}

// sessionState is the mutable record behind one live session. Devices stay
// ordered by join time; device ids are per-session monotonic and never reused
// within the session's lifetime.
type sessionState struct {
	code       types.SessionCode
	startTime  time.Time
	devices    []types.Device
	nextDevice types.DeviceID
}

// NewManager creates a new session manager. Limits of zero disable the
// respective cap.
func NewManager(codes *CodeRegistry, db interfaces.DatabaseManager, maxSessions, maxDevicesPerSession int) *Manager {
	return &Manager{
		codes:                codes,
		db:                   db,
		sessions:             make(map[types.SessionID]*sessionState),
		maxSessions:          maxSessions,
		maxDevicesPerSession: maxDevicesPerSession,
	}
}

// CreateSession allocates a code and id and inserts an empty session. The
// caller (the router's host transition) adds the hosting device immediately
// after; only RemoveDevice destroys sessions, so the empty window is never
// observable through the barrier.
func (m *Manager) CreateSession(ctx context.Context) (*types.Session, error) {
	m.mu.Lock()

	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, ErrServerFull
	}

	code, id, err := m.codes.Allocate()
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	state := &sessionState{
		code:      code,
		startTime: time.Now(),
	}
	m.sessions[id] = state

	snapshot := &types.Session{
		ID:        id,
		Code:      code,
		StartTime: state.startTime,
	}
	m.mu.Unlock()

	if m.db != nil {
		if err := m.db.RecordSessionStarted(ctx, snapshot); err != nil {
			log.Printf("Failed to record session start: session=%d err=%v", id, err)
		}
	}

	log.Printf("Session created: id=%d code=%s", id, code)
	return snapshot, nil
}

// AddDevice allocates a fresh device id within the session, stores the device
// name, and returns the id. The caller must register the device with the tick
// barrier in the same transition.
func (m *Manager) AddDevice(ctx context.Context, sessionID types.SessionID, name string) (types.DeviceID, error) {
	if !types.IsValidDeviceName(name) {
		return 0, ErrInvalidDeviceName
	}

	m.mu.Lock()

	state, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		return 0, ErrSessionNotFound
	}

	if m.maxDevicesPerSession > 0 && len(state.devices) >= m.maxDevicesPerSession {
		m.mu.Unlock()
		return 0, ErrSessionFull
	}

	device := types.Device{ID: state.nextDevice, Name: name}
	state.nextDevice++
	state.devices = append(state.devices, device)
	m.mu.Unlock()

	if m.db != nil {
		if err := m.db.RecordDeviceJoined(ctx, sessionID, device); err != nil {
			log.Printf("Failed to record device join: session=%d device=%d err=%v", sessionID, device.ID, err)
		}
	}

	log.Printf("Device joined: session=%d device=%d name=%q", sessionID, device.ID, name)
	return device.ID, nil
}

// RemoveDevice removes the device's membership. Removing an unknown session
// or device is a no-op so duplicate disconnect notifications are harmless.
// When the last device leaves, the session is destroyed and its code
// released. Returns whether a device was removed and whether the session
// ended with it.
func (m *Manager) RemoveDevice(ctx context.Context, sessionID types.SessionID, deviceID types.DeviceID) (removed, ended bool) {
	m.mu.Lock()

	state, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		return false, false
	}

	idx := -1
	for i, d := range state.devices {
		if d.ID == deviceID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return false, false
	}

	state.devices = append(state.devices[:idx], state.devices[idx+1:]...)

	ended = len(state.devices) == 0
	if ended {
		delete(m.sessions, sessionID)
		m.codes.Release(sessionID)
	}
	m.mu.Unlock()

	if m.db != nil {
		if err := m.db.RecordDeviceLeft(ctx, sessionID, deviceID); err != nil {
			log.Printf("Failed to record device leave: session=%d device=%d err=%v", sessionID, deviceID, err)
		}
		if ended {
			if err := m.db.RecordSessionEnded(ctx, sessionID); err != nil {
				log.Printf("Failed to record session end: session=%d err=%v", sessionID, err)
			}
		}
	}

	log.Printf("Device left: session=%d device=%d session_ended=%t", sessionID, deviceID, ended)
	return true, ended
}

// DestroySession removes a session outright, releasing its code, regardless
// of remaining devices. Used to unwind a partially built host transition;
// normal teardown goes through RemoveDevice. Idempotent.
func (m *Manager) DestroySession(ctx context.Context, sessionID types.SessionID) {
	m.mu.Lock()
	_, exists := m.sessions[sessionID]
	if exists {
		delete(m.sessions, sessionID)
		m.codes.Release(sessionID)
	}
	m.mu.Unlock()

	if !exists {
		return
	}

	if m.db != nil {
		if err := m.db.RecordSessionEnded(ctx, sessionID); err != nil {
			log.Printf("Failed to record session end: session=%d err=%v", sessionID, err)
		}
	}
	log.Printf("Session destroyed: id=%d", sessionID)
}

// Devices returns an ordered snapshot of the session's roster for broadcast.
func (m *Manager) Devices(sessionID types.SessionID) ([]types.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	devices := make([]types.Device, len(state.devices))
	copy(devices, state.devices)
	return devices, nil
}

// Session returns a point-in-time snapshot of one session.
func (m *Manager) Session(sessionID types.SessionID) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	devices := make([]types.Device, len(state.devices))
	copy(devices, state.devices)
	return &types.Session{
		ID:        sessionID,
		Code:      state.code,
		Devices:   devices,
		StartTime: state.startTime,
	}, nil
}

// ResolveCode maps a client-supplied code to a live session id.
func (m *Manager) ResolveCode(code types.SessionCode) (types.SessionID, bool) {
	return m.codes.Resolve(code)
}

// ListSessions returns snapshots of every live session, for the ops API.
func (m *Manager) ListSessions() []*types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*types.Session, 0, len(m.sessions))
	for id, state := range m.sessions {
		devices := make([]types.Device, len(state.devices))
		copy(devices, state.devices)
		sessions = append(sessions, &types.Session{
			ID:        id,
			Code:      state.code,
			Devices:   devices,
			StartTime: state.startTime,
		})
	}
	return sessions
}

// GetStats returns session manager statistics.
func (m *Manager) GetStats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := 0
	for _, state := range m.sessions {
		devices += len(state.devices)
	}
	return map[string]int{
		"live_sessions": len(m.sessions),
		"live_devices":  devices,
	}
}
