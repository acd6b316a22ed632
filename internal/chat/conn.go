// Package chat provides the connection lifecycle and roster relay shared by
// all server transports.
package chat

import "context"

// Conn abstracts a bidirectional connection for both TCP and WebSocket.
// This interface isolates transport details from the relay logic.
type Conn interface {
	// Read reads exactly one frame (terminator stripped or not).
	// Returns io.EOF when the peer closed the connection.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one encoded frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection. It unblocks a pending Read.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
