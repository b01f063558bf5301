package session

import "errors"

// Session management error types.
var (
	ErrCodeSpaceExhausted    = errors.New("all session codes are in use")
	ErrCodeAlreadyRegistered = errors.New("session code is already registered")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionFull           = errors.New("session has reached its device limit")
	ErrServerFull            = errors.New("server has reached its session limit")
	ErrInvalidDeviceName     = errors.New("invalid device name")
)
