package chat

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	apperrors "github.com/omochice/roster-chat/internal/errors"
)

// State is the per-connection lifecycle stage.
type State int

const (
	StateAccepted State = iota
	StateRegistered
	StateClosed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateAccepted:
		return "ACCEPTED"
	case StateRegistered:
		return "REGISTERED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Connection is one accepted transport plus the account bound to it.
// The Hub worker that accepted it owns the transport; the Registry only
// references it.
type Connection struct {
	id      string
	conn    Conn
	limiter *rate.Limiter

	mu       sync.Mutex
	account  string
	state    State
	outgoing chan []byte
}

func newConnection(conn Conn, queue int, limiter *rate.Limiter) *Connection {
	return &Connection{
		id:       uuid.NewString(),
		conn:     conn,
		limiter:  limiter,
		state:    StateAccepted,
		outgoing: make(chan []byte, queue),
	}
}

// ID returns the identity the Registry keys the connection by.
func (c *Connection) ID() string { return c.id }

// RemoteAddr returns the peer address of the transport.
func (c *Connection) RemoteAddr() string { return c.conn.RemoteAddr() }

// Account returns the bound account and whether the handshake completed.
func (c *Connection) Account() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account, c.account != ""
}

// State returns the current lifecycle stage.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// String formats the connection the way the operator sees it.
func (c *Connection) String() string {
	account, ok := c.Account()
	if !ok {
		return c.RemoteAddr()
	}
	return c.RemoteAddr() + " - " + account
}

func (c *Connection) setAccount(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateRegistered:
		return apperrors.AccountSet(c.account)
	case StateClosed:
		return apperrors.SessionClosed("connection closed before registration")
	}
	c.account = name
	c.state = StateRegistered
	return nil
}

// enqueue hands a frame to the writer without blocking.
func (c *Connection) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return apperrors.SessionClosed("connection closed")
	}
	select {
	case c.outgoing <- data:
		return nil
	default:
		return apperrors.QueueFull(c.conn.RemoteAddr())
	}
}

// markClosed moves the connection to StateClosed and closes the queue so
// the writer drains what is left. Only the first call returns true.
func (c *Connection) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.state = StateClosed
	close(c.outgoing)
	return true
}

func (c *Connection) allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}
