package tcp

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/omochice/roster-chat/internal/errors"
)

const (
	tcpKeepAlive     = 30 * time.Second
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Handler serves one accepted connection. It runs on its own goroutine
// and owns conn.
type Handler func(conn net.Conn)

// Listener accepts TCP connections and hands each one to a Handler.
type Listener struct {
	listener net.Listener
	log      *zap.Logger
	quit     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// Listen binds address. Failure is reported as a server.bind_failed error.
func Listen(address string, log *zap.Logger) (*Listener, error) {
	if log == nil {
		log = zap.NewNop()
	}
	lc := net.ListenConfig{KeepAlive: tcpKeepAlive}
	listener, err := lc.Listen(context.Background(), "tcp", address)
	if err != nil {
		return nil, apperrors.BindFailure(address, err)
	}
	log.Info("listening", zap.String("address", listener.Addr().String()))
	return NewListener(listener, log), nil
}

// NewListener wraps an already bound listener.
func NewListener(listener net.Listener, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{
		listener: listener,
		log:      log,
		quit:     make(chan struct{}),
	}
}

// Serve accepts connections until Close is called and then returns nil.
// Accept errors such as EMFILE are logged and retried with backoff; only a
// listener closed behind its back ends Serve with an error.
func (l *Listener) Serve(handler Handler) error {
	var backoff time.Duration
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.quit:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			l.log.Warn("failed to accept connection",
				zap.Duration("retry_in", backoff),
				zap.Error(err))
			select {
			case <-l.quit:
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			handler(conn)
		}()
	}
}

// Close stops accepting. Connections already handed out stay open.
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.quit)
		err = l.listener.Close()
	})
	return err
}

// Wait blocks until every handler returned.
func (l *Listener) Wait() {
	l.wg.Wait()
}

// Addr returns the listening address.
func (l *Listener) Addr() string {
	return l.listener.Addr().String()
}
