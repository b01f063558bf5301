package hub

import "errors"

var (
	ErrHubClosed = errors.New("hub is closed")
	ErrHubBusy   = errors.New("hub message queue is full")
)
