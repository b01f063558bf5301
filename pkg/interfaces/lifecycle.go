package interfaces

import (
	"context"

	"lockstep/pkg/types"
)

// LifecycleHandler is the protocol surface the hub drives. One implementation
// (the router) owns every transition that touches session membership,
// connection bindings and the tick barrier, so those structures can never
// drift apart.
type LifecycleHandler interface {
	// HandleMessage applies one client envelope. Protocol failures are
	// answered on conn; the returned error covers internal faults only.
	HandleMessage(ctx context.Context, conn Connection, env types.Envelope) error

	// HandleDisconnect performs the leave transition for a dropped
	// connection. Safe to call for connections that never joined a session.
	HandleDisconnect(ctx context.Context, connID string)

	// CheckStalls emits tick-stall notices for sessions waiting on straggler
	// devices. Driven periodically by the hub.
	CheckStalls(ctx context.Context)
}
