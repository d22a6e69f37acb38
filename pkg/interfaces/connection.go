package interfaces

import "xrlink/pkg/types"

// Connection is the relay's view of one transport session.
// Implementations must serialize writes internally; routing fans a single
// frame out to many connections from one goroutine and must never race
// with the liveness prober.
type Connection interface {
	// Write queues a pre-marshaled frame for delivery in accept order.
	Write(data []byte) error

	// WriteJSON marshals v and queues it for delivery.
	WriteJSON(v interface{}) error

	// Close tears down the transport and stops the writer. Safe to call
	// more than once.
	Close() error

	// ID returns the registry handle assigned on accept.
	ID() string

	// DeviceName returns the declared device label, or "" before
	// identification.
	DeviceName() string

	// XRID returns the declared logical endpoint id, or "".
	XRID() string

	// Role returns the role resolved at identification time.
	Role() types.Role

	// IsIdentified reports whether a valid identification frame has been
	// processed for this connection.
	IsIdentified() bool
}
