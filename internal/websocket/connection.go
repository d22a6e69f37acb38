package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"xrlink/pkg/types"
)

// Default write plumbing. The buffer bounds how far a slow recipient can
// fall behind before its frames start timing out; delivery to other
// recipients is never affected.
const (
	defaultWriteBuffer  = 100
	defaultWriteTimeout = 5 * time.Second
)

// Connection wraps one transport session. All writes go through a single
// writer goroutine, so frames queued by concurrent routing goroutines
// reach the peer in queue order without racing on the underlying socket.
type Connection struct {
	id           string
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration

	deviceName string
	xrID       string
	role       types.Role
	identified bool
	alive      bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	mu        sync.RWMutex
}

// NewConnection wraps an accepted WebSocket connection and starts its
// writer goroutine. The connection begins unidentified and alive.
func NewConnection(conn *websocket.Conn, writeBuffer int, writeTimeout time.Duration) *Connection {
	if writeBuffer <= 0 {
		writeBuffer = defaultWriteBuffer
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		writeCh:      make(chan []byte, writeBuffer),
		writeTimeout: writeTimeout,
		role:         types.RoleUnidentified,
		alive:        true,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
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

// Write queues a pre-marshaled frame. Fan-out marshals once and calls
// Write per recipient, so a frame broadcast to many connections carries
// identical bytes to each.
func (c *Connection) Write(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// WriteJSON marshals v and queues it for delivery.
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.Write(data)
}

// Ping sends a transport-level ping control frame. No payload is carried;
// the peer's pong resets the alive flag via the handler's pong callback.
func (c *Connection) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close tears down the transport and stops the writer goroutine.
// Idempotent; later calls return nil.
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

// Done exposes the connection's cancellation channel for goroutines tied
// to its lifetime.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// ID returns the registry handle assigned on accept.
func (c *Connection) ID() string {
	return c.id
}

// SetIdentity records the declared identity. Later identification frames
// simply overwrite the fields; last writer wins and no conflict is ever
// reported.
func (c *Connection) SetIdentity(deviceName, xrID string, role types.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deviceName = deviceName
	c.xrID = xrID
	c.role = role
	c.identified = true
}

func (c *Connection) DeviceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceName
}

func (c *Connection) XRID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.xrID
}

func (c *Connection) Role() types.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Connection) IsIdentified() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identified
}

// MarkAlive records a heartbeat reply.
func (c *Connection) MarkAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = true
}

// ClearAlive resets the flag before a probe. A connection whose flag is
// still clear at the next probe cycle is considered dead.
func (c *Connection) ClearAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = false
}

func (c *Connection) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.alive
}
