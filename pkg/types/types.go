package types

import (
	"encoding/json"
	"time"
)

// Message type constants form the closed protocol set. The router dispatches
// exhaustively over these; a new message kind means a new constant here and a
// new case there, never open-ended dispatch.
const (
	// Client -> server
	MessageTypeHostRequest       = "host_request"
	MessageTypeJoinRequest       = "join_request"
	MessageTypeLobbyStartRequest = "lobby_start_request"
	MessageTypeLeave             = "leave"
	MessageTypeInputTick         = "input_tick"

	// Server -> client
	MessageTypeHostAccept       = "host_accept"
	MessageTypeHostReject       = "host_reject"
	MessageTypeJoinAccept       = "join_accept"
	MessageTypeJoinReject       = "join_reject"
	MessageTypeLobbyStartNotify = "lobby_start_notify"
	MessageTypeLobbyStartReject = "lobby_start_reject"
	MessageTypeRosterUpdate     = "roster_update"
	MessageTypeTickRelease      = "tick_release"
	MessageTypeTickStall        = "tick_stall"
	MessageTypeError            = "error"
)

// Reject reasons carried in reject payloads.
const (
	ReasonSessionCodeNotFound = "session_code_not_found"
	ReasonSessionFull         = "session_full"
	ReasonServerFull          = "server_full"
	ReasonNotHost             = "not_host"
	ReasonNotInSession        = "not_in_session"
	ReasonAlreadyInSession    = "already_in_session"
	ReasonInvalidDeviceName   = "invalid_device_name"
)

// SessionID identifies a live session internally. IDs come from a monotonic
// counter and are never reused within a process lifetime, so a stale
// SessionID can never resolve to a different session.
type SessionID uint64

// DeviceID identifies a participant within one session. The hosting device is
// always 0. IDs are per-session monotonic and not reused after a device
// leaves.
type DeviceID int

// HostDeviceID is the DeviceID assigned to the device that hosted the session.
const HostDeviceID DeviceID = 0

// SessionCode is the short client-facing token used to join a session.
type SessionCode string

// Device is one participant's identity within a session.
type Device struct {
	ID   DeviceID `json:"id"`
	Name string   `json:"name"`
}

// Session is a snapshot of one hosted game session. Devices are ordered by
// join time.
type Session struct {
	ID        SessionID   `json:"id"`
	Code      SessionCode `json:"code"`
	Devices   []Device    `json:"devices"`
	StartTime time.Time   `json:"start_time"`
}

// SessionRecord is the persisted audit row for a session, live or ended.
// Distinct from Session: records outlive the in-memory registry entry.
type SessionRecord struct {
	ID        SessionID   `json:"id" db:"id"`
	Code      SessionCode `json:"code" db:"code"`
	StartTime time.Time   `json:"start_time" db:"start_time"`
	EndTime   *time.Time  `json:"end_time,omitempty" db:"end_time"`
	Status    string      `json:"status" db:"status"`
}

// Session record status values.
const (
	SessionStatusActive = "active"
	SessionStatusEnded  = "ended"
)

// Envelope is the wire frame for every protocol message. Payload stays raw
// until the type-specific handler decodes it.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HostRequest asks the server to create a new session with the requester as
// the hosting device.
type HostRequest struct {
	DeviceName string `json:"device_name"`
}

// HostAccept confirms session creation.
type HostAccept struct {
	SessionCode SessionCode `json:"session_code"`
	DeviceID    DeviceID    `json:"device_id"`
}

// HostReject reports a failed host attempt.
type HostReject struct {
	Reason string `json:"reason"`
}

// JoinRequest asks to join the session identified by SessionCode.
type JoinRequest struct {
	DeviceName  string      `json:"device_name"`
	SessionCode SessionCode `json:"session_code"`
}

// JoinAccept confirms a join. Devices carries the full roster, including the
// joiner, so the client can render the lobby immediately.
type JoinAccept struct {
	SessionCode SessionCode `json:"session_code"`
	DeviceID    DeviceID    `json:"device_id"`
	Devices     []Device    `json:"devices"`
}

// JoinReject reports a failed join attempt.
type JoinReject struct {
	Reason string `json:"reason"`
}

// LobbyStartRequest asks to move the session from lobby to play. Only the
// hosting device may send it. SessionCode names the session the client
// believes it is starting; the server checks it against the connection's
// actual binding.
type LobbyStartRequest struct {
	SessionCode SessionCode `json:"session_code"`
}

// LobbyStartNotify tells every device in the session that play begins.
type LobbyStartNotify struct{}

// LobbyStartReject reports a refused start request.
type LobbyStartReject struct {
	Reason string `json:"reason"`
}

// RosterUpdate carries the current device list after a join or leave.
type RosterUpdate struct {
	Devices []Device `json:"devices"`
}

// InputTick carries one device's input for the current simulation tick. The
// payload format is game-defined and opaque to the server.
type InputTick struct {
	Payload json.RawMessage `json:"payload"`
}

// TickRelease is the authoritative aggregated tick: every device's input for
// tick Tick, keyed by device id. Broadcast exactly once per barrier release.
type TickRelease struct {
	Tick   uint64                       `json:"tick"`
	Inputs map[DeviceID]json.RawMessage `json:"inputs"`
}

// TickStall warns a session that the current tick has been waiting on the
// listed devices for longer than the configured threshold.
type TickStall struct {
	Tick    uint64     `json:"tick"`
	Waiting []DeviceID `json:"waiting"`
}

// ErrorNotify reports a request-level failure back to the sender only.
type ErrorNotify struct {
	Message string `json:"message"`
}

// NewEnvelope marshals a payload into an Envelope of the given type.
func NewEnvelope(msgType string, payload interface{}) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}
