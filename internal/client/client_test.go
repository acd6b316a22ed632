package client_test

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/omochice/roster-chat/internal/client"
	apperrors "github.com/omochice/roster-chat/internal/errors"
)

// fakeConn is an in-memory client.Conn. The test plays the server through
// toClient and fromClient.
type fakeConn struct {
	toClient   chan []byte
	fromClient chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
	writeErr   error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		toClient:   make(chan []byte, 16),
		fromClient: make(chan []byte, 16),
		closed:     make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.toClient:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case c.fromClient <- append([]byte(nil), data...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake:1" }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// send queues a frame for the client, as the server would write it.
func (c *fakeConn) send(frame string) {
	c.toClient <- []byte(frame)
}

func (c *fakeConn) expectWrite(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-c.fromClient:
		if string(got) != want {
			t.Fatalf("client wrote %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("client did not write %q", want)
	}
}

type fakeDialer struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) Dial(ctx context.Context) (client.Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func (d *fakeDialer) Address() string { return "fake:2019" }

// connect runs the handshake for username against conn, answering with
// the given list frame.
func connect(t *testing.T, conn *fakeConn, username, listFrame string) *client.Session {
	t.Helper()
	s := client.New(username, &fakeDialer{conn: conn}, client.WithLogger(zaptest.NewLogger(t)))
	conn.send(listFrame)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn.expectWrite(t, "connect|"+username+"\n")
	t.Cleanup(func() {
		s.Close(context.Background())
	})
	return s
}

func nextEvent(t *testing.T, s *client.Session) client.Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	return client.Event{}
}

func waitDone(t *testing.T, s *client.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestSession_ConnectReceivesRoster(t *testing.T) {
	conn := newFakeConn()
	s := connect(t, conn, "Carol", "list|Alice|Bob")

	if s.State() != client.StateOnline {
		t.Errorf("State() = %v, want %v", s.State(), client.StateOnline)
	}
	ev := nextEvent(t, s)
	if ev.Kind != client.EventRoster {
		t.Errorf("Kind = %v, want EventRoster", ev.Kind)
	}
	if want := []string{"Alice", "Bob"}; !reflect.DeepEqual(ev.Roster, want) {
		t.Errorf("Roster = %v, want %v", ev.Roster, want)
	}
	if got := s.Roster(); !reflect.DeepEqual(got, []string{"Alice", "Bob"}) {
		t.Errorf("Roster() = %v", got)
	}
}

func TestSession_EmptyListMeansNobodyOnline(t *testing.T) {
	conn := newFakeConn()
	s := connect(t, conn, "Alice", "list")

	if ev := nextEvent(t, s); len(ev.Roster) != 0 {
		t.Errorf("Roster = %v, want empty", ev.Roster)
	}
	if s.Roster() == nil || len(s.Roster()) != 0 {
		t.Errorf("Roster() = %#v, want empty non-nil slice", s.Roster())
	}
}

func TestSession_DepartureRemovesAccount(t *testing.T) {
	for _, command := range []string{"disconnect", "logout"} {
		t.Run(command, func(t *testing.T) {
			conn := newFakeConn()
			s := connect(t, conn, "Carol", "list|Alice|Bob")
			nextEvent(t, s)

			conn.send(command + "|Alice")
			ev := nextEvent(t, s)
			if ev.Removed != "Alice" {
				t.Errorf("Removed = %q, want Alice", ev.Removed)
			}
			if want := []string{"Bob"}; !reflect.DeepEqual(ev.Roster, want) {
				t.Errorf("Roster = %v, want %v", ev.Roster, want)
			}
		})
	}
}

func TestSession_UnknownDepartureIsIgnored(t *testing.T) {
	conn := newFakeConn()
	s := connect(t, conn, "Carol", "list|Alice")
	nextEvent(t, s)

	conn.send("disconnect|Mallory")
	conn.send("message|Alice|hi")
	conn.send("list|Alice|Dave")

	ev := nextEvent(t, s)
	if ev.Removed != "" {
		t.Errorf("Removed = %q, want none", ev.Removed)
	}
	if want := []string{"Alice", "Dave"}; !reflect.DeepEqual(ev.Roster, want) {
		t.Errorf("Roster = %v, want %v", ev.Roster, want)
	}
}

func TestSession_ServerClose(t *testing.T) {
	conn := newFakeConn()
	s := connect(t, conn, "Carol", "list|Alice")
	nextEvent(t, s)

	conn.send("close")
	waitDone(t, s)

	if !apperrors.IsCode(s.Err(), apperrors.CodeSessionClosed) {
		t.Errorf("Err() = %v, want %s", s.Err(), apperrors.CodeSessionClosed)
	}
	if s.State() != client.StateDisconnected {
		t.Errorf("State() = %v, want %v", s.State(), client.StateDisconnected)
	}
	if !conn.isClosed() {
		t.Error("transport not closed")
	}
	ev := nextEvent(t, s)
	if ev.Kind != client.EventClosed || ev.Err == nil {
		t.Errorf("final event = %+v, want EventClosed with error", ev)
	}
	if _, ok := <-s.Events(); ok {
		t.Error("events channel still open")
	}
}

func TestSession_TransportFailure(t *testing.T) {
	conn := newFakeConn()
	s := connect(t, conn, "Carol", "list")
	nextEvent(t, s)

	conn.Close()
	waitDone(t, s)

	if !apperrors.IsCode(s.Err(), apperrors.CodeTransportFailure) {
		t.Errorf("Err() = %v, want %s", s.Err(), apperrors.CodeTransportFailure)
	}
}

func TestSession_CloseSendsLogout(t *testing.T) {
	conn := newFakeConn()
	s := client.New("Carol", &fakeDialer{conn: conn})
	conn.send("list|Alice")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn.expectWrite(t, "connect|Carol\n")

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	conn.expectWrite(t, "logout|Carol\n")

	if s.Err() != nil {
		t.Errorf("Err() = %v, want nil after local close", s.Err())
	}
	if s.State() != client.StateDisconnected {
		t.Errorf("State() = %v, want %v", s.State(), client.StateDisconnected)
	}
	if !conn.isClosed() {
		t.Error("transport not closed")
	}
	if err := s.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	waitDone(t, s)
}

func TestSession_KeepaliveWhileIdle(t *testing.T) {
	conn := newFakeConn()
	s := client.New("Dave", &fakeDialer{conn: conn},
		client.WithLogger(zaptest.NewLogger(t)),
		client.WithKeepalive(20*time.Millisecond))
	conn.send("list|")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn.expectWrite(t, "connect|Dave\n")
	conn.expectWrite(t, "\n")
	conn.expectWrite(t, "\n")

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for {
		got := <-conn.fromClient
		if string(got) == "\n" {
			continue
		}
		if string(got) != "logout|Dave\n" {
			t.Fatalf("client wrote %q, want logout", got)
		}
		break
	}
	select {
	case got := <-conn.fromClient:
		t.Errorf("client wrote %q after logout", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSession_NoKeepaliveByDefault(t *testing.T) {
	conn := newFakeConn()
	connect(t, conn, "Erin", "list|")

	select {
	case got := <-conn.fromClient:
		t.Errorf("idle client wrote %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSession_CloseReportsLogoutFailure(t *testing.T) {
	conn := newFakeConn()
	s := client.New("Carol", &fakeDialer{conn: conn})
	conn.send("list")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn.expectWrite(t, "connect|Carol\n")

	conn.writeErr = errors.New("broken pipe")
	err := s.Close(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeTransportFailure) {
		t.Errorf("Close() error = %v, want %s", err, apperrors.CodeTransportFailure)
	}
	waitDone(t, s)
	if !conn.isClosed() {
		t.Error("transport not closed after failed logout")
	}
}

func TestSession_DialFailure(t *testing.T) {
	s := client.New("Carol", &fakeDialer{err: errors.New("connection refused")})

	err := s.Connect(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeDialFailure) {
		t.Fatalf("Connect() error = %v, want %s", err, apperrors.CodeDialFailure)
	}
	waitDone(t, s)
	if s.State() != client.StateDisconnected {
		t.Errorf("State() = %v, want %v", s.State(), client.StateDisconnected)
	}
}

func TestSession_HandshakeFailure(t *testing.T) {
	tests := []struct {
		name  string
		reply func(*fakeConn)
	}{
		{"wrong reply", func(c *fakeConn) { c.send("message|hello") }},
		{"no reply", func(c *fakeConn) {}},
		{"closed", func(c *fakeConn) { c.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn()
			tt.reply(conn)
			s := client.New("Carol", &fakeDialer{conn: conn},
				client.WithHandshakeTimeout(100*time.Millisecond))

			err := s.Connect(context.Background())
			if !apperrors.IsCode(err, apperrors.CodeHandshakeFailure) {
				t.Fatalf("Connect() error = %v, want %s", err, apperrors.CodeHandshakeFailure)
			}
			waitDone(t, s)
			if !conn.isClosed() {
				t.Error("transport not closed after failed handshake")
			}
		})
	}
}

func TestSession_ConnectOnlyOnce(t *testing.T) {
	conn := newFakeConn()
	s := connect(t, conn, "Carol", "list")

	err := s.Connect(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeSessionClosed) {
		t.Errorf("second Connect() error = %v, want %s", err, apperrors.CodeSessionClosed)
	}
}

func TestSession_CloseBeforeConnect(t *testing.T) {
	s := client.New("Carol", &fakeDialer{conn: newFakeConn()})

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	waitDone(t, s)
	if err := s.Connect(context.Background()); err == nil {
		t.Error("Connect() after Close succeeded")
	}
}

func TestState_String(t *testing.T) {
	tests := map[client.State]string{
		client.StateDisconnected: "DISCONNECTED",
		client.StateDialing:      "DIALING",
		client.StateHandshaking:  "HANDSHAKING",
		client.StateOnline:       "ONLINE",
		client.State(99):         "UNKNOWN",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
