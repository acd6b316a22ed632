package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/omochice/roster-chat/internal/errors"
	"github.com/omochice/roster-chat/pkg/protocol"
)

const (
	defaultSendQueue    = 16
	defaultDrainTimeout = 5 * time.Second
)

// Hub runs one receive loop per connection, keeps the Registry current and
// relays departures to everyone still online.
// Both TCP and WebSocket transports share a single Hub instance.
type Hub struct {
	registry     *Registry
	log          *zap.Logger
	observer     Observer
	sendQueue    int
	writeTimeout time.Duration
	rateLimit    rate.Limit
	burst        int

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(h *Hub) {
		if log != nil {
			h.log = log
		}
	}
}

// WithObserver attaches display/audit callbacks.
func WithObserver(o Observer) Option {
	return func(h *Hub) {
		if o != nil {
			h.observer = o
		}
	}
}

// WithSendQueue sets how many frames may wait for a slow peer before it is
// dropped.
func WithSendQueue(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendQueue = n
		}
	}
}

// WithWriteTimeout bounds each frame write. Zero means no bound.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.writeTimeout = d
	}
}

// WithRateLimit limits commands per connection. perSecond <= 0 disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(h *Hub) {
		h.rateLimit = rate.Limit(perSecond)
		h.burst = burst
	}
}

// NewHub creates a new Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		registry:  NewRegistry(),
		log:       zap.NewNop(),
		observer:  NopObserver{},
		sendQueue: defaultSendQueue,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry returns the connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// ClientCount returns number of live connections.
func (h *Hub) ClientCount() int {
	return h.registry.Len()
}

// Roster returns the registered accounts in registry order.
func (h *Hub) Roster() []string {
	return h.registry.Snapshot()
}

// HandleClient serves conn until it closes. It blocks, so transports call
// it on a goroutine of their own.
func (h *Hub) HandleClient(ctx context.Context, conn Conn) {
	c := newConnection(conn, h.sendQueue, h.newLimiter())

	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.wg.Add(2)
	h.registry.Add(c)
	h.mu.Unlock()
	defer h.wg.Done()

	h.log.Info("connection accepted", zap.String("conn", c.ID()), zap.String("remote", c.RemoteAddr()))
	h.observer.ConnectionAccepted(c)

	writerDone := make(chan struct{})
	go func() {
		defer h.wg.Done()
		defer close(writerDone)
		h.writeLoop(ctx, c)
	}()

	reason := h.readLoop(ctx, c)
	h.closeConnection(c, reason)

	select {
	case <-writerDone:
	case <-time.After(h.drainTimeout()):
		h.log.Warn("writer did not drain, closing transport", zap.String("conn", c.ID()))
	}
	conn.Close()
}

// Disconnect closes the connection registered as account on behalf of the
// operator. The peer is told to close first.
func (h *Hub) Disconnect(account string) error {
	c, ok := h.registry.FindAccount(account)
	if !ok {
		return apperrors.SessionNotFound(account)
	}
	h.kick(c)
	return nil
}

// DisconnectID is Disconnect keyed by connection ID.
func (h *Hub) DisconnectID(id string) error {
	c, ok := h.registry.Get(id)
	if !ok {
		return apperrors.SessionNotFound(id)
	}
	h.kick(c)
	return nil
}

func (h *Hub) kick(c *Connection) {
	if err := c.enqueue(protocol.Encode(protocol.CommandClose)); err != nil {
		h.log.Debug("close notice not queued", zap.String("conn", c.ID()), zap.Error(err))
	}
	h.closeConnection(c, apperrors.SessionClosed("disconnected by operator"))
}

// Shutdown tells every peer to close, closes all connections without
// departure broadcasts, and waits for the workers until ctx expires.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shutdown = true
	h.mu.Unlock()

	closeFrame := protocol.Encode(protocol.CommandClose)
	for _, c := range h.registry.Connections() {
		_ = c.enqueue(closeFrame)
		h.closeConnection(c, apperrors.SessionClosed("server shutting down"))
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hub shutdown: %w", ctx.Err())
	}
}

func (h *Hub) isShutdown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shutdown
}

func (h *Hub) newLimiter() *rate.Limiter {
	if h.rateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(h.rateLimit, h.burst)
}

func (h *Hub) drainTimeout() time.Duration {
	if h.writeTimeout > 0 {
		return h.writeTimeout
	}
	return defaultDrainTimeout
}

// readLoop returns the reason the connection has to close.
func (h *Hub) readLoop(ctx context.Context, c *Connection) error {
	for {
		data, err := c.conn.Read(ctx)
		if err != nil {
			return apperrors.TransportFailure("read", err)
		}
		if c.State() == StateClosed {
			return nil
		}

		frame := protocol.Decode(data)
		h.observer.FrameLogged(c, Inbound, frame)

		if !c.allow() {
			h.log.Warn("command rate exceeded, frame dropped",
				zap.String("conn", c.ID()),
				zap.String("command", frame.Command))
			continue
		}

		if reason := h.dispatch(c, frame); reason != nil {
			return reason
		}
	}
}

// dispatch applies one inbound frame. A non-nil result ends the session.
func (h *Hub) dispatch(c *Connection, frame protocol.Frame) error {
	switch frame.Command {
	case protocol.CommandConnect:
		h.register(c, frame.Arg(0))
	case protocol.CommandLogout, protocol.CommandDisconnect, protocol.CommandClose:
		return apperrors.SessionClosed(frame.Command + " requested by client")
	case "":
		// keepalive
	default:
		h.log.Debug("ignoring command", zap.String("conn", c.ID()), zap.String("command", frame.Command))
	}
	return nil
}

func (h *Hub) register(c *Connection, name string) {
	if name == "" {
		h.log.Warn("connect without account ignored", zap.String("conn", c.ID()))
		return
	}

	roster, err := h.registry.Join(c, name)
	if err != nil {
		h.log.Warn("connect rejected",
			zap.String("conn", c.ID()),
			zap.String("account", name),
			zap.Error(err))
		if apperrors.IsCode(err, apperrors.CodeQueueFull) {
			h.closeConnection(c, err)
		}
		return
	}

	h.log.Info("accept and send list clients",
		zap.String("conn", c.ID()),
		zap.String("account", name),
		zap.Strings("roster", roster))
	h.observer.Registered(c)
	h.observer.RosterChanged(h.registry.Snapshot())
}

type departure struct {
	conn   *Connection
	reason error
}

// closeConnection moves c to StateClosed exactly once, removes it and
// tells the remaining peers. Peers that stall during that broadcast are
// closed by the same loop rather than by recursion.
func (h *Hub) closeConnection(c *Connection, reason error) {
	pending := []departure{{conn: c, reason: reason}}
	for len(pending) > 0 {
		d := pending[0]
		pending = pending[1:]

		if !d.conn.markClosed() {
			continue
		}
		h.registry.Remove(d.conn)
		if apperrors.IsCode(d.reason, apperrors.CodeQueueFull) {
			// Nothing queued for a stalled peer will reach it.
			d.conn.conn.Close()
		}

		account, registered := d.conn.Account()
		h.log.Info("disconnect",
			zap.String("conn", d.conn.ID()),
			zap.String("remote", d.conn.RemoteAddr()),
			zap.String("account", account),
			zap.String("reason", apperrors.GetCode(d.reason)),
			zap.Error(d.reason))
		h.observer.Departed(d.conn, d.reason)

		if !registered || h.isShutdown() {
			continue
		}

		notice := protocol.Encode(protocol.CommandDisconnect, account)
		for _, stalled := range h.registry.Broadcast(notice, nil) {
			pending = append(pending, departure{conn: stalled, reason: apperrors.QueueFull(stalled.RemoteAddr())})
		}
		h.observer.RosterChanged(h.registry.Snapshot())
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *Connection) {
	defer c.conn.Close()

	for data := range c.outgoing {
		wctx, cancel := h.writeContext(ctx)
		err := c.conn.Write(wctx, data)
		cancel()
		if err != nil {
			h.log.Warn("failed to write to client",
				zap.String("conn", c.ID()),
				zap.String("remote", c.RemoteAddr()),
				zap.Error(err))
			h.closeConnection(c, apperrors.TransportFailure("write", err))
			return
		}
		h.observer.FrameLogged(c, Outbound, protocol.Decode(data))
	}
}

func (h *Hub) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.writeTimeout > 0 {
		return context.WithTimeout(ctx, h.writeTimeout)
	}
	return context.WithCancel(ctx)
}
