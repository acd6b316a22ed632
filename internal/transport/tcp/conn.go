// Package tcp provides the newline framed TCP transport for the roster hub.
package tcp

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/omochice/roster-chat/pkg/protocol"
)

// Conn adapts net.Conn to chat.Conn interface.
// Every Read returns exactly one frame.
type Conn struct {
	conn        net.Conn
	scanner     *protocol.Scanner
	idleTimeout time.Duration
}

// Option configures a Conn.
type Option func(*Conn)

// WithIdleTimeout closes the read side when no frame arrives for d.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.idleTimeout = d
	}
}

// WithReader reads frames from r instead of the connection itself. Used
// when bytes were already peeked from conn.
func WithReader(r io.Reader) Option {
	return func(c *Conn) {
		if r != nil {
			c.scanner = protocol.NewScanner(r, protocol.ServerFrameSize)
		}
	}
}

// NewConn wraps a net.Conn.
func NewConn(conn net.Conn, opts ...Option) *Conn {
	c := &Conn{conn: conn}
	for _, opt := range opts {
		opt(c)
	}
	if c.scanner == nil {
		c.scanner = protocol.NewScanner(conn, protocol.ServerFrameSize)
	}
	return c
}

// Read implements chat.Conn.
// Blocks until one complete frame arrives, ctx ends or the idle timeout
// expires.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if err := c.conn.SetReadDeadline(c.deadline(ctx, c.idleTimeout)); err != nil {
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

// Write implements chat.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if err := c.conn.SetWriteDeadline(c.deadline(ctx, 0)); err != nil {
		return err
	}
	_, err := c.conn.Write(data)
	return err
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// deadline picks the earlier of the ctx deadline and now+fallback. The
// zero time means no deadline.
func (c *Conn) deadline(ctx context.Context, fallback time.Duration) time.Time {
	var d time.Time
	if fallback > 0 {
		d = time.Now().Add(fallback)
	}
	if dl, ok := ctx.Deadline(); ok && (d.IsZero() || dl.Before(d)) {
		d = dl
	}
	return d
}
