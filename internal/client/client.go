// Package client implements the user side of the roster protocol: one
// Session registers an account, keeps the list of who is online and
// reports every change on a channel.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/omochice/roster-chat/internal/errors"
	"github.com/omochice/roster-chat/pkg/protocol"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	logoutTimeout           = 2 * time.Second
	eventBuffer             = 64
)

// State is the session lifecycle stage.
type State int

const (
	StateDisconnected State = iota
	StateDialing
	StateHandshaking
	StateOnline
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateDialing:
		return "DIALING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateOnline:
		return "ONLINE"
	default:
		return "UNKNOWN"
	}
}

// EventKind tells what an Event reports.
type EventKind int

const (
	// EventRoster carries a new roster snapshot.
	EventRoster EventKind = iota
	// EventClosed is the last event of a session.
	EventClosed
)

// Event is published on Session.Events.
type Event struct {
	Kind    EventKind
	Roster  []string
	Removed string // account that left, for EventRoster caused by a departure
	Err     error  // why the session ended, for EventClosed; nil after Close
}

// Session is one registration of an account with the server. A Session
// is used once: after it ends it cannot reconnect.
type Session struct {
	username         string
	dialer           Dialer
	log              *zap.Logger
	handshakeTimeout time.Duration
	keepalive        time.Duration

	roster Roster
	events chan Event
	done   chan struct{}

	mu      sync.Mutex
	state   State
	conn    Conn
	cancel  context.CancelFunc
	loop    chan struct{}
	kcancel context.CancelFunc
	kdone   chan struct{}
	started bool
	closing bool
	err     error

	emu          sync.Mutex
	eventsClosed bool

	finishOnce sync.Once
	closeOnce  sync.Once
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithHandshakeTimeout bounds the wait for the list reply.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

// WithKeepalive sends an empty frame every d while online so servers with
// an idle read timeout keep the connection. Zero disables it.
func WithKeepalive(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.keepalive = d
		}
	}
}

// New creates a disconnected Session for username.
func New(username string, dialer Dialer, opts ...Option) *Session {
	s := &Session{
		username:         username,
		dialer:           dialer,
		log:              zap.NewNop(),
		handshakeTimeout: defaultHandshakeTimeout,
		events:           make(chan Event, eventBuffer),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Username returns the account this session registers.
func (s *Session) Username() string { return s.username }

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Roster returns the accounts currently believed online, the session's own
// account excluded.
func (s *Session) Roster() []string {
	return s.roster.Names()
}

// Events delivers roster changes and the final EventClosed. The channel is
// closed when the session ends. Events are dropped when nobody reads;
// Roster always has the latest state.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended, or nil while it is running or after
// a local Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Connect dials the server and registers the account. On success the
// session is online, the roster holds the server's list reply and a
// receive goroutine applies further updates.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closing {
		s.mu.Unlock()
		return apperrors.SessionClosed("session already used")
	}
	s.started = true
	s.state = StateDialing
	s.mu.Unlock()

	s.log.Info("connecting", zap.String("address", s.dialer.Address()), zap.String("username", s.username))
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		err = apperrors.DialFailure(s.dialer.Address(), err)
		s.finish(err)
		return err
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		return apperrors.SessionClosed("closed while connecting")
	}
	s.state = StateHandshaking
	s.conn = conn
	s.mu.Unlock()

	roster, err := s.handshake(ctx, conn)
	if err != nil {
		conn.Close()
		s.finish(err)
		return err
	}
	s.roster.Replace(roster)

	loopCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		cancel()
		conn.Close()
		return apperrors.SessionClosed("closed while connecting")
	}
	s.state = StateOnline
	s.cancel = cancel
	s.loop = make(chan struct{})
	var kctx context.Context
	if s.keepalive > 0 {
		kctx, s.kcancel = context.WithCancel(loopCtx)
		s.kdone = make(chan struct{})
	}
	s.mu.Unlock()

	s.log.Info("online", zap.String("username", s.username), zap.Strings("roster", s.roster.Names()))
	s.publish(Event{Kind: EventRoster, Roster: s.roster.Names()})

	go s.receive(loopCtx, conn)
	if kctx != nil {
		go s.keepAlive(kctx, conn)
	}
	return nil
}

// keepAlive writes an empty frame every keepalive interval. The server
// ignores it; a failed write is left to the receive loop to notice.
func (s *Session) keepAlive(ctx context.Context, conn Conn) {
	defer close(s.kdone)

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()
	frame := protocol.Encode("")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wctx, cancel := context.WithTimeout(ctx, s.keepalive)
			err := conn.Write(wctx, frame)
			cancel()
			if err != nil {
				s.log.Debug("keepalive not sent", zap.String("username", s.username), zap.Error(err))
				return
			}
		}
	}
}

func (s *Session) handshake(ctx context.Context, conn Conn) ([]string, error) {
	hctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()

	if err := conn.Write(hctx, protocol.Encode(protocol.CommandConnect, s.username)); err != nil {
		return nil, apperrors.HandshakeFailure("cannot send connect", err)
	}
	data, err := conn.Read(hctx)
	if err != nil {
		return nil, apperrors.HandshakeFailure("no list reply", err)
	}
	frame := protocol.Decode(data)
	if frame.Command != protocol.CommandList {
		return nil, apperrors.HandshakeFailure(fmt.Sprintf("unexpected reply %q", frame.String()), nil)
	}
	return frame.Args, nil
}

// receive applies server frames until the transport fails, the server
// sends close or the session is closed locally.
func (s *Session) receive(ctx context.Context, conn Conn) {
	defer close(s.loop)

	reason := s.readLoop(ctx, conn)
	conn.Close()
	if ctx.Err() != nil {
		reason = nil
	}
	s.finish(reason)
}

func (s *Session) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return apperrors.TransportFailure("read", err)
		}

		frame := protocol.Decode(data)
		switch frame.Command {
		case protocol.CommandDisconnect, protocol.CommandLogout:
			name := frame.Arg(0)
			if s.roster.Remove(name) {
				s.log.Info("user left", zap.String("account", name))
				s.publish(Event{Kind: EventRoster, Roster: s.roster.Names(), Removed: name})
			}
		case protocol.CommandList:
			s.roster.Replace(frame.Args)
			s.publish(Event{Kind: EventRoster, Roster: s.roster.Names()})
		case protocol.CommandClose:
			s.log.Info("server closed the session", zap.String("username", s.username))
			return apperrors.SessionClosed("closed by server")
		default:
			s.log.Debug("ignoring command", zap.String("command", frame.Command))
		}
	}
}

// Close logs out and releases the transport. The logout is best effort:
// its error is returned but teardown always completes. Calling Close again
// returns nil.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		err = s.close(ctx)
	})
	return err
}

func (s *Session) close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	state := s.state
	conn := s.conn
	cancel := s.cancel
	loop := s.loop
	kcancel, kdone := s.kcancel, s.kdone
	s.mu.Unlock()

	if loop == nil {
		// Never got online.
		s.finish(nil)
		return nil
	}

	if kcancel != nil {
		kcancel()
		<-kdone
	}

	var err error
	if state == StateOnline {
		lctx, lcancel := context.WithTimeout(ctx, logoutTimeout)
		if werr := conn.Write(lctx, protocol.Encode(protocol.CommandLogout, s.username)); werr != nil {
			err = apperrors.TransportFailure("logout", werr)
			s.log.Warn("logout not sent", zap.String("username", s.username), zap.Error(werr))
		}
		lcancel()
	}

	cancel()
	conn.Close()
	<-loop
	return err
}

// finish moves the session to its terminal state once.
func (s *Session) finish(reason error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.state = StateDisconnected
		s.err = reason
		s.mu.Unlock()

		if reason != nil {
			s.log.Warn("session ended", zap.String("username", s.username), zap.Error(reason))
		} else {
			s.log.Info("session ended", zap.String("username", s.username))
		}
		s.publish(Event{Kind: EventClosed, Roster: s.roster.Names(), Err: reason})
		s.emu.Lock()
		s.eventsClosed = true
		close(s.events)
		s.emu.Unlock()
		close(s.done)
	})
}

// publish never blocks.
func (s *Session) publish(ev Event) {
	s.emu.Lock()
	defer s.emu.Unlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.log.Warn("event dropped, reader too slow", zap.Int("kind", int(ev.Kind)))
	}
}
