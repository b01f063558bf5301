package router

import (
	"context"
	"log"
)

// Cleaner translates transport-level disconnect notifications into leave
// transitions. A disconnect carries only the connection key; the connection
// index recovers which device it spoke for. Disconnects from connections
// that never joined, or that already left, are routine and only logged.
type Cleaner struct {
	router *Router
}

// NewCleaner creates a cleaner bound to a router.
func NewCleaner(router *Router) *Cleaner {
	return &Cleaner{router: router}
}

// HandleDisconnect removes the disconnected device from its session and
// re-evaluates the tick barrier so a dead participant cannot block the
// session.
func (c *Cleaner) HandleDisconnect(ctx context.Context, connID string) {
	c.router.limiter.Forget(connID)

	binding, bound := c.router.registry.Unbind(connID)
	if !bound {
		// Disconnect after leave, or a connection that never hosted/joined.
		log.Printf("Disconnect from unbound connection %s", connID)
		return
	}

	log.Printf("Disconnect: connection=%s session=%d device=%d", connID, binding.SessionID, binding.DeviceID)
	c.router.removeDevice(ctx, binding.SessionID, binding.DeviceID)
}
