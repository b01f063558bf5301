package websocket

import (
	"sync"

	"lockstep/pkg/interfaces"
	"lockstep/pkg/types"
)

// Binding records which session participant a connection currently speaks
// for. It is a lookup record only; the session manager owns the membership
// itself.
type Binding struct {
	SessionID types.SessionID
	DeviceID  types.DeviceID
}

// Registry tracks live connections and the reverse mapping from connection
// key to session participant. A disconnect event carries only the connection
// key, so cleanup depends on this index being O(1) in both directions.
type Registry struct {
	mu           sync.RWMutex
	connections  map[string]interfaces.Connection
	bindings     map[string]Binding
	sessionConns map[types.SessionID]map[string]interfaces.Connection
}

// NewRegistry creates a new connection registry.
func NewRegistry() *Registry {
	return &Registry{
		connections:  make(map[string]interfaces.Connection),
		bindings:     make(map[string]Binding),
		sessionConns: make(map[types.SessionID]map[string]interfaces.Connection),
	}
}

// Add tracks a newly accepted connection. The connection starts unbound; it
// gains a binding only through a successful host or join transition.
func (r *Registry) Add(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.ID()] = conn
	return nil
}

// Remove forgets a connection and any binding it held. Idempotent.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unbindLocked(connID)
	delete(r.connections, connID)
}

// Bind records that the connection now speaks for the given session device,
// replacing any prior binding for that connection key. A rebinding first
// implicitly unbinds the old device; identity is never carried over.
func (r *Registry) Bind(connID string, sessionID types.SessionID, deviceID types.DeviceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.connections[connID]
	if !exists {
		return ErrConnectionNotFound
	}

	r.unbindLocked(connID)

	r.bindings[connID] = Binding{SessionID: sessionID, DeviceID: deviceID}
	if r.sessionConns[sessionID] == nil {
		r.sessionConns[sessionID] = make(map[string]interfaces.Connection)
	}
	r.sessionConns[sessionID][connID] = conn
	return nil
}

// Unbind removes and returns the connection's binding. The second return is
// false when the connection had no session, which is expected after an
// explicit leave followed by the transport disconnect.
func (r *Registry) Unbind(connID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unbindLocked(connID)
}

// Lookup returns the connection's binding without modifying it.
func (r *Registry) Lookup(connID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	binding, ok := r.bindings[connID]
	return binding, ok
}

// Connection returns the tracked connection for a key.
func (r *Registry) Connection(connID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connID]
	return conn, ok
}

// SessionConnections returns a snapshot of every connection bound into a
// session, for roster and tick broadcasts.
func (r *Registry) SessionConnections(sessionID types.SessionID) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]interfaces.Connection, 0, len(r.sessionConns[sessionID]))
	for _, conn := range r.sessionConns[sessionID] {
		conns = append(conns, conn)
	}
	return conns
}

// CloseAll closes every tracked connection and clears the registry. Called
// once during shutdown after the lifecycle queue drains.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, conn := range r.connections {
		_ = conn.Close()
	}
	r.connections = make(map[string]interfaces.Connection)
	r.bindings = make(map[string]Binding)
	r.sessionConns = make(map[types.SessionID]map[string]interfaces.Connection)
}

// GetStats returns registry statistics.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"bound_connections": len(r.bindings),
		"active_sessions":   len(r.sessionConns),
	}
}

// unbindLocked removes the binding and its session-side entry; caller holds
// the write lock.
func (r *Registry) unbindLocked(connID string) (Binding, bool) {
	binding, ok := r.bindings[connID]
	if !ok {
		return Binding{}, false
	}

	delete(r.bindings, connID)
	if conns, exists := r.sessionConns[binding.SessionID]; exists {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.sessionConns, binding.SessionID)
		}
	}
	return binding, true
}
