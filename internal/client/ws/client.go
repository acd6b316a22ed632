// Package ws provides the WebSocket transport for roster client sessions.
package ws

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omochice/roster-chat/internal/client"
	"github.com/omochice/roster-chat/pkg/protocol"
)

// Dialer connects to the server's WebSocket endpoint.
type Dialer struct {
	url    string
	dialer websocket.Dialer
}

// New creates a Dialer for url, e.g. ws://127.0.0.1:2019/ws.
func New(url string) *Dialer {
	return &Dialer{
		url: url,
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   protocol.ClientFrameSize,
			WriteBufferSize:  protocol.ClientFrameSize,
		},
	}
}

// Address implements client.Dialer.
func (d *Dialer) Address() string {
	return d.url
}

// Dial implements client.Dialer.
func (d *Dialer) Dial(ctx context.Context) (client.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return nil, err
	}
	conn.SetReadLimit(protocol.ClientFrameSize)
	return &Conn{conn: conn}, nil
}

// Conn is a client side WebSocket connection. One message is one frame.
type Conn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// Read implements client.Conn.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	dl, _ := ctx.Deadline()
	if err := c.conn.SetReadDeadline(dl); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.UnderlyingConn().SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return data, nil
}

// Write implements client.Conn.
// The stream terminator is dropped; the message boundary delimits the frame.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	dl, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(dl); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, bytes.TrimRight(data, "\n"))
}

// Close implements client.Conn.
// A close frame is sent on a best effort basis before the socket closes.
func (c *Conn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

// RemoteAddr implements client.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
