// Package server wires the roster hub to a listening socket. TCP and
// WebSocket clients share a single port.
package server

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/omochice/roster-chat/internal/chat"
	"github.com/omochice/roster-chat/internal/config"
	"github.com/omochice/roster-chat/internal/storage"
	"github.com/omochice/roster-chat/internal/transport/tcp"
	"github.com/omochice/roster-chat/internal/transport/ws"
	"github.com/omochice/roster-chat/pkg/protocol"
)

// Server represents the roster relay server
type Server struct {
	cfg      config.ServerConfig
	log      *zap.Logger
	hub      *chat.Hub
	journal  *storage.Journal
	presence *journalObserver
	operator *Operator

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener *tcp.Listener
	stopped  bool
}

// Option configures a Server.
type Option func(*options)

type options struct {
	journal   *storage.Journal
	operator  *Operator
	observers chat.Observers
}

// WithJournal records operator sessions and client presence in j.
// The caller keeps ownership of j.
func WithJournal(j *storage.Journal) Option {
	return func(o *options) {
		o.journal = j
	}
}

// WithOperator overrides the operator session derived from the config.
func WithOperator(op *Operator) Option {
	return func(o *options) {
		o.operator = op
	}
}

// WithObserver adds a hub observer, e.g. a UI.
func WithObserver(ob chat.Observer) Option {
	return func(o *options) {
		if ob != nil {
			o.observers = append(o.observers, ob)
		}
	}
}

// New creates a Server from the loaded configuration. Nothing is bound
// until Listen.
func New(cfg config.Config, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.operator == nil {
		o.operator = NewOperator(cfg.Server.Operator)
	}

	observers := chat.Observers{trafficLogger{log: log}}
	var presence *journalObserver
	if o.journal != nil {
		presence = newJournalObserver(o.journal, log)
		observers = append(observers, presence)
	}
	observers = append(observers, o.observers...)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg.Server,
		log:      log,
		journal:  o.journal,
		presence: presence,
		operator: o.operator,
		ctx:      ctx,
		cancel:   cancel,
		hub: chat.NewHub(
			chat.WithLogger(log),
			chat.WithObserver(observers),
			chat.WithSendQueue(cfg.Server.SendQueue),
			chat.WithWriteTimeout(cfg.Server.WriteTimeout),
			chat.WithRateLimit(cfg.RateLimit.CommandsPerSecond, cfg.RateLimit.Burst),
		),
	}
}

// Listen binds the configured address and opens the operator session.
// A bind failure is returned as server.bind_failed.
func (s *Server) Listen() error {
	l, err := tcp.Listen(s.cfg.Address(), s.log)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	if !s.operator.Anonymous() {
		s.log.Info("operator logged in", zap.String("operator", s.operator.Account))
		s.recordOperator(storage.EventOperatorLogin)
	}
	return nil
}

// Serve accepts connections until Stop. Listen must have succeeded.
func (s *Server) Serve() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("server is not listening")
	}
	s.log.Info("accepting connections",
		zap.String("address", l.Addr()),
		zap.Bool("websocket", s.cfg.WebSocket))
	return l.Serve(s.handleConnection)
}

// Start is Listen followed by Serve.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop stops accepting, tells every client to close and waits for the
// connection workers until ctx expires. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	l := s.listener
	s.mu.Unlock()

	if l != nil {
		l.Close()
	}
	err := s.hub.Shutdown(ctx)
	s.cancel()
	if l != nil {
		l.Wait()
	}
	if s.presence != nil {
		s.presence.Close()
	}

	if l != nil && !s.operator.Anonymous() {
		s.log.Info("operator logged out", zap.String("operator", s.operator.Account))
		s.recordOperator(storage.EventOperatorLogout)
	}
	s.log.Info("server stopped")
	return err
}

// Addr returns the listening address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr()
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// Roster returns the registered accounts in join order.
func (s *Server) Roster() []string {
	return s.hub.Roster()
}

// Connections returns every live connection, registered or not.
func (s *Server) Connections() []*chat.Connection {
	return s.hub.Registry().Connections()
}

// Disconnect closes the connection registered as account. The client is
// sent close, everyone else disconnect|account.
func (s *Server) Disconnect(account string) error {
	err := s.hub.Disconnect(account)
	if err == nil {
		s.log.Info("operator disconnected client",
			zap.String("operator", s.operator.Account),
			zap.String("account", account))
	}
	return err
}

// Operator returns the operator session.
func (s *Server) Operator() *Operator {
	return s.operator
}

// Journal returns the presence journal, or nil when disabled.
func (s *Server) Journal() *storage.Journal {
	return s.journal
}

// handleConnection determines whether the connection is HTTP (WebSocket) or
// TCP and serves it until it closes.
func (s *Server) handleConnection(raw net.Conn) {
	if !s.cfg.WebSocket {
		s.hub.HandleClient(s.ctx, tcp.NewConn(raw, tcp.WithIdleTimeout(s.cfg.ReadTimeout)))
		return
	}

	stop := context.AfterFunc(s.ctx, func() { raw.Close() })
	proto, reader, err := detectProtocol(raw, s.cfg.ReadTimeout)
	if !stop() {
		return
	}
	if err != nil {
		s.log.Debug("connection closed before first byte",
			zap.String("remote", raw.RemoteAddr().String()),
			zap.Error(err))
		raw.Close()
		return
	}

	var conn chat.Conn
	switch proto {
	case protocolHTTP:
		wsConn, err := ws.Upgrade(raw, reader, ws.WithIdleTimeout(s.cfg.ReadTimeout))
		if err != nil {
			s.log.Warn("failed to upgrade connection",
				zap.String("remote", raw.RemoteAddr().String()),
				zap.Error(err))
			raw.Close()
			return
		}
		conn = wsConn
	default:
		conn = tcp.NewConn(raw, tcp.WithReader(reader), tcp.WithIdleTimeout(s.cfg.ReadTimeout))
	}

	s.log.Debug("protocol detected",
		zap.String("remote", conn.RemoteAddr()),
		zap.Stringer("protocol", proto))
	s.hub.HandleClient(s.ctx, conn)
}

func (s *Server) recordOperator(kind storage.EventKind) {
	if s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	err := s.journal.Record(ctx, storage.Event{
		Kind:    kind,
		Account: s.operator.Account,
		Detail:  s.Addr(),
	})
	if err != nil {
		s.log.Warn("failed to journal operator session", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// trafficLogger writes every frame to the debug log the way the operator
// window shows it: "-->" received, "<--" sent.
type trafficLogger struct {
	chat.NopObserver
	log *zap.Logger
}

func (t trafficLogger) FrameLogged(c *chat.Connection, dir chat.Direction, frame protocol.Frame) {
	if ce := t.log.Check(zap.DebugLevel, dir.String()+" "+frame.String()); ce != nil {
		ce.Write(zap.String("conn", c.String()))
	}
}
