package router

import "errors"

// ErrUnhandledMessage reports a message type with no dispatch case. The hub
// logs it; protocol-level failures are answered on the wire instead.
var ErrUnhandledMessage = errors.New("unhandled message type")
