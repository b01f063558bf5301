package interfaces

// Connection represents one client transport connection. Implementations must
// make WriteJSON safe for concurrent callers (single-writer pattern); the
// router broadcasts from the hub goroutine while the ops API may probe
// connection state concurrently.
type Connection interface {
	// ID returns the server-assigned connection key. Stable for the life of
	// the connection; never reused while the connection is open.
	ID() string

	// WriteJSON queues v for delivery to the client. Returns an error if the
	// connection is closed or the write buffer is saturated.
	WriteJSON(v interface{}) error

	// WriteEnvelope marshals payload into a typed envelope and queues it.
	WriteEnvelope(msgType string, payload interface{}) error

	// Close tears down the connection. Idempotent.
	Close() error
}
