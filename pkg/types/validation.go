package types

import (
	"regexp"
)

// Compiled once at package initialization; validation runs on every inbound
// request.
var (
	deviceNameRegex  = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)
	sessionCodeRegex = regexp.MustCompile(`^[A-Z]{4}$`)
)

// MaxPayloadSize caps a single envelope payload. Input tick payloads are
// game-defined but a coordinator has no business relaying anything large.
const MaxPayloadSize = 65536 // 64KB

// Validate checks the envelope frame before type dispatch.
func (e *Envelope) Validate() error {
	if !IsValidMessageType(e.Type) {
		return ErrInvalidMessageType
	}
	if len(e.Payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	return nil
}

// IsValidDeviceName checks the client-supplied device name. 1-50 characters,
// alphanumeric plus space/underscore/hyphen.
func IsValidDeviceName(name string) bool {
	if len(name) < 1 || len(name) > 50 {
		return false
	}
	return deviceNameRegex.MatchString(name)
}

// IsValidSessionCode checks the client-facing code format: exactly four
// uppercase letters.
func IsValidSessionCode(code SessionCode) bool {
	return sessionCodeRegex.MatchString(string(code))
}

// IsValidMessageType reports whether msgType belongs to the closed protocol
// set, in either direction.
func IsValidMessageType(msgType string) bool {
	switch msgType {
	case MessageTypeHostRequest,
		MessageTypeJoinRequest,
		MessageTypeLobbyStartRequest,
		MessageTypeLeave,
		MessageTypeInputTick,
		MessageTypeHostAccept,
		MessageTypeHostReject,
		MessageTypeJoinAccept,
		MessageTypeJoinReject,
		MessageTypeLobbyStartNotify,
		MessageTypeLobbyStartReject,
		MessageTypeRosterUpdate,
		MessageTypeTickRelease,
		MessageTypeTickStall,
		MessageTypeError:
		return true
	default:
		return false
	}
}

// IsClientMessageType reports whether msgType is one a client may send. The
// router rejects server-only types arriving from a connection.
func IsClientMessageType(msgType string) bool {
	switch msgType {
	case MessageTypeHostRequest,
		MessageTypeJoinRequest,
		MessageTypeLobbyStartRequest,
		MessageTypeLeave,
		MessageTypeInputTick:
		return true
	default:
		return false
	}
}
