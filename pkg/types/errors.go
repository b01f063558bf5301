package types

import "errors"

// Validation error types returned by Envelope.Validate.
var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrPayloadTooLarge    = errors.New("message payload exceeds 64KB limit")
)
