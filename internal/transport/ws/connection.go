package ws

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"speech-translate-server/internal/domain/livestream"
)

const defaultWriteTimeout = 10 * time.Second

// Connection wraps a gorilla websocket connection. Writes are serialized and
// bounded by a write deadline; reads belong to a single reader goroutine.
type Connection struct {
	id           string
	socket       *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       atomic.Bool
	lastActive   atomic.Int64
}

// NewConnection creates a tracked websocket connection.
func NewConnection(id string, socket *websocket.Conn, writeTimeout time.Duration) *Connection {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	conn := &Connection{
		id:           id,
		socket:       socket,
		writeTimeout: writeTimeout,
	}
	conn.touch()
	return conn
}

// Send encodes msg as a JSON text frame. It implements livestream.Emitter.
func (c *Connection) Send(ctx context.Context, msg livestream.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, payload)
}

// WriteMessage sends a raw frame to the client.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("connection %s already closed", c.id)
	}

	if err := c.socket.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	if err := c.socket.WriteMessage(messageType, data); err != nil {
		return err
	}

	c.touch()
	return nil
}

// ReadMessage receives the next frame from the client.
func (c *Connection) ReadMessage() (int, []byte, error) {
	messageType, payload, err := c.socket.ReadMessage()
	if err == nil {
		c.touch()
	}
	return messageType, payload, err
}

// CloseWithReason sends a close frame before closing the socket.
func (c *Connection) CloseWithReason(code int, reason string) error {
	c.mu.Lock()
	if !c.closed.Load() {
		deadline := time.Now().Add(time.Second)
		_ = c.socket.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	}
	c.mu.Unlock()
	return c.Close()
}

// Close terminates the underlying websocket connection.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.socket.Close()
}

// ID returns the connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// IsClosed reports whether the connection has already been closed.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// LastActive exposes when the client last interacted with the server.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Connection) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}
