package barrier

import "errors"

// Barrier error types. The unknown-session and unknown-device cases are
// expected during races with device removal and must be handled by callers
// as recoverable conditions, never as faults.
var (
	ErrUnknownSession = errors.New("unknown session in tick barrier")
	ErrUnknownDevice  = errors.New("unknown device in tick barrier")
	ErrNotReady       = errors.New("tick barrier is not satisfied")
)
