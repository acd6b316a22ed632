// Package tcp provides the TCP transport for roster client sessions.
package tcp

import (
	"context"
	"net"
	"time"

	"github.com/omochice/roster-chat/internal/client"
	"github.com/omochice/roster-chat/pkg/protocol"
)

// Dialer connects to the server over plain TCP.
type Dialer struct {
	address string
	dialer  net.Dialer
}

// New creates a Dialer for address (host:port).
func New(address string) *Dialer {
	return &Dialer{address: address}
}

// Address implements client.Dialer.
func (d *Dialer) Address() string {
	return d.address
}

// Dial implements client.Dialer.
func (d *Dialer) Dial(ctx context.Context) (client.Conn, error) {
	conn, err := d.dialer.DialContext(ctx, "tcp", d.address)
	if err != nil {
		return nil, err
	}
	return &Conn{
		conn:    conn,
		scanner: protocol.NewScanner(conn, protocol.ClientFrameSize),
	}, nil
}

// Conn is a client side TCP connection. Reads return one frame each.
type Conn struct {
	conn    net.Conn
	scanner *protocol.Scanner
}

// Read implements client.Conn.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	dl, _ := ctx.Deadline()
	if err := c.conn.SetReadDeadline(dl); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	data, err := c.scanner.Next()
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return data, err
}

// Write implements client.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	dl, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(dl); err != nil {
		return err
	}
	_, err := c.conn.Write(data)
	return err
}

// Close implements client.Conn.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr implements client.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
