// Package ws provides WebSocket transport implementation for the roster
// hub. One text or binary message carries one frame.
package ws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/roster-chat/pkg/protocol"
)

// Path is the only request URI accepted for upgrades.
const Path = "/ws"

// ErrMessageTooLong is returned by Read for messages above the frame limit.
var ErrMessageTooLong = errors.New("websocket message exceeds frame limit")

// Conn adapts a gobwas/ws server side connection to chat.Conn interface.
type Conn struct {
	conn        net.Conn
	rw          io.ReadWriter
	idleTimeout time.Duration

	wmu       sync.Mutex
	closeOnce sync.Once
}

// Option configures a Conn.
type Option func(*Conn)

// WithIdleTimeout closes the read side when no message arrives for d.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.idleTimeout = d
	}
}

// lockedWriter serializes control frame replies written by the reader
// with data frames written by the hub.
type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.wmu.Lock()
	defer w.c.wmu.Unlock()
	return w.c.conn.Write(p)
}

// Upgrade performs the server side handshake on conn. The request is read
// from r, which may hold bytes already peeked from conn; pass conn itself
// when nothing was peeked.
func Upgrade(conn net.Conn, r io.Reader, opts ...Option) (*Conn, error) {
	if r == nil {
		r = conn
	}
	c := &Conn{conn: conn}
	for _, opt := range opts {
		opt(c)
	}
	c.rw = struct {
		io.Reader
		io.Writer
	}{r, lockedWriter{c}}

	upgrader := ws.Upgrader{
		OnRequest: func(uri []byte) error {
			if !bytes.Equal(uri, []byte(Path)) {
				return ws.RejectConnectionError(ws.RejectionStatus(http.StatusNotFound))
			}
			return nil
		},
	}
	if _, err := upgrader.Upgrade(c.rw); err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return c, nil
}

// Read implements chat.Conn.
// Control frames are answered internally; only data messages are returned.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if err := c.conn.SetReadDeadline(deadline(ctx, c.idleTimeout)); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	data, err := c.readMessage()
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return data, err
}

// readMessage returns the next data message. A frame header announcing
// more than the frame limit is rejected before any payload is read.
func (c *Conn) readMessage() ([]byte, error) {
	control := wsutil.ControlFrameHandler(c.rw, ws.StateServerSide)
	rd := &wsutil.Reader{
		Source:         c.rw,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.Length > protocol.ServerFrameSize {
			return nil, ErrMessageTooLong
		}

		// Continuation frames are capped by the same limit.
		data, err := io.ReadAll(io.LimitReader(rd, protocol.ServerFrameSize+1))
		if err != nil {
			return nil, err
		}
		if len(data) > protocol.ServerFrameSize {
			return nil, ErrMessageTooLong
		}
		return data, nil
	}
}

// Write implements chat.Conn.
// The stream terminator is dropped; the message boundary delimits the frame.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline(ctx, 0)); err != nil {
		return err
	}
	return wsutil.WriteServerMessage(c.conn, ws.OpText, bytes.TrimRight(data, "\n"))
}

// Close implements chat.Conn.
// A close frame is sent unless a write is still in flight, in which case
// the socket is simply closed under it.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.wmu.TryLock() {
			c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
			_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, body)
			c.wmu.Unlock()
		}
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func deadline(ctx context.Context, fallback time.Duration) time.Time {
	var d time.Time
	if fallback > 0 {
		d = time.Now().Add(fallback)
	}
	if dl, ok := ctx.Deadline(); ok && (d.IsZero() || dl.Before(d)) {
		d = dl
	}
	return d
}
