package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"lockstep/pkg/types"
)

// writeWait bounds a single frame write on the wire.
const writeWait = 5 * time.Second

// Connection wraps one WebSocket client connection. Writes are serialized
// through a single writer goroutine; every other goroutine only queues. The
// server-assigned uuid is the connection key the rest of the system indexes
// by — it never changes and is never reused while the connection lives.
type Connection struct {
	id        string
	conn      *websocket.Conn
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection creates a connection wrapper and starts its writer goroutine.
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.New().String(),
		conn:    conn,
		writeCh: make(chan []byte, 100),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

// ID returns the server-assigned connection key.
func (c *Connection) ID() string {
	return c.id
}

// writeLoop is the single writer. It drains the queue until the connection
// context is cancelled.
func (c *Connection) writeLoop() {
	for {
		select {
		case data, ok := <-c.writeCh:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for delivery. Safe for concurrent callers.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeWait):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// WriteEnvelope marshals payload into a typed envelope and queues it.
func (c *Connection) WriteEnvelope(msgType string, payload interface{}) error {
	env, err := types.NewEnvelope(msgType, payload)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.WriteJSON(env)
}

// Ping sends a control ping with a bounded deadline.
func (c *Connection) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
}

// Done exposes the connection's lifetime for goroutines tied to it.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close tears down the connection and stops the writer goroutine. Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
