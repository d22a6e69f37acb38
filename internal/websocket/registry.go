package websocket

import (
	"sync"

	"xrlink/pkg/types"
)

// Registry tracks every open connection and its declared identity.
// Identity fields may collide across entries (two connections can claim
// the same xrId); targeted routing delivers to all matches, so the
// registry never rejects a duplicate identity.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection // handle -> Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
	}
}

// Admit adds a freshly accepted connection in the unidentified state.
func (r *Registry) Admit(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
	return nil
}

// Identify records the declared identity for an admitted connection.
// Re-identification overwrites the previous identity (last-writer-wins);
// a conflicting identity on another connection is not an error.
func (r *Registry) Identify(conn *Connection, deviceName, xrID string, role types.Role) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	conn.SetIdentity(deviceName, xrID, role)
}

// Remove deletes a connection and reports whether it was present. The
// boolean lets callers fire the membership notification exactly once even
// when transport close and liveness eviction race.
func (r *Registry) Remove(conn *Connection) bool {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.conns[conn.ID()]
	if !exists || registered != conn {
		return false
	}
	delete(r.conns, conn.ID())
	return true
}

// Snapshot returns a point-in-time copy of all connections. The slice is
// the caller's to keep; membership changes after the call are not
// reflected.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

// Find returns every connection matching the predicate.
func (r *Registry) Find(match func(*Connection) bool) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Connection
	for _, conn := range r.conns {
		if match(conn) {
			out = append(out, conn)
		}
	}
	return out
}

// ByRole returns the identified connections holding the given role.
func (r *Registry) ByRole(role types.Role) []*Connection {
	return r.Find(func(c *Connection) bool {
		return c.IsIdentified() && c.Role() == role
	})
}

// ByTarget returns the identified connections whose xrId or deviceName
// equals target, excluding sender. Either field matching qualifies, and
// duplicate identities all receive the delivery.
func (r *Registry) ByTarget(target string, sender *Connection) []*Connection {
	return r.Find(func(c *Connection) bool {
		if c == sender || !c.IsIdentified() {
			return false
		}
		return c.XRID() == target || c.DeviceName() == target
	})
}

// CloseAll force-closes every connection. Used during graceful shutdown.
func (r *Registry) CloseAll() {
	for _, conn := range r.Snapshot() {
		_ = conn.Close()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = make(map[string]*Connection)
}

// Stats returns registry counters for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identified := 0
	for _, conn := range r.conns {
		if conn.IsIdentified() {
			identified++
		}
	}

	return map[string]int{
		"total_connections":      len(r.conns),
		"identified_connections": identified,
	}
}
