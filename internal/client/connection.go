package client

import "context"

// Conn is one open transport to the server. Read returns exactly one frame.
// Both TCP and WebSocket implementations satisfy this interface.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
	RemoteAddr() string
}

// Dialer opens a Conn to a fixed server.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
	// Address is the server the dialer connects to, for messages.
	Address() string
}
