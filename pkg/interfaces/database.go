package interfaces

import (
	"context"

	"lockstep/pkg/types"
)

// DatabaseManager persists the session audit trail. Registry state in memory
// is authoritative; the database records history for operators and never
// gates a protocol decision. Implementations must not block callers on disk
// I/O for the Record* methods.
type DatabaseManager interface {
	// RecordSessionStarted inserts the audit row for a newly hosted session.
	RecordSessionStarted(ctx context.Context, session *types.Session) error

	// RecordSessionEnded marks the session's audit row as ended.
	RecordSessionEnded(ctx context.Context, sessionID types.SessionID) error

	// RecordDeviceJoined inserts the membership row for a device.
	RecordDeviceJoined(ctx context.Context, sessionID types.SessionID, device types.Device) error

	// RecordDeviceLeft stamps the membership row's departure time. Idempotent;
	// duplicate disconnect notifications are expected.
	RecordDeviceLeft(ctx context.Context, sessionID types.SessionID, deviceID types.DeviceID) error

	// ListRecentSessions returns up to limit audit rows, newest first.
	ListRecentSessions(ctx context.Context, limit int) ([]*types.SessionRecord, error)

	// HealthCheck verifies database connectivity.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and closes the connection.
	Close() error
}
