package websocket

import "errors"

// Connection and registry error types.
var (
	ErrNilConnection      = errors.New("connection is nil")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionClosed   = errors.New("connection is closed")
	ErrInvalidJSON        = errors.New("failed to marshal JSON message")
	ErrWriteTimeout       = errors.New("write timeout")
)
