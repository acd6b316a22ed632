package chat_test

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omochice/roster-chat/internal/chat"
)

// mockConn is a mock implementation of chat.Conn for testing.
type mockConn struct {
	readCh     chan []byte
	frames     chan string
	closed     chan struct{}
	closeOnce  sync.Once
	writtenMu  sync.Mutex
	written    []string
	stall      atomic.Bool
	remoteAddr string
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		readCh:     make(chan []byte, 10),
		frames:     make(chan string, 64),
		closed:     make(chan struct{}),
		remoteAddr: addr,
	}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, io.EOF
	case data := <-m.readCh:
		return data, nil
	}
}

// Write blocks until the deadline or Close while stall is set, like a peer
// whose receive window is full.
func (m *mockConn) Write(ctx context.Context, data []byte) error {
	if m.stall.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closed:
			return io.ErrClosedPipe
		}
	}
	select {
	case <-m.closed:
		return io.ErrClosedPipe
	default:
	}

	frame := string(data)
	m.writtenMu.Lock()
	m.written = append(m.written, frame)
	m.writtenMu.Unlock()

	select {
	case m.frames <- frame:
	default:
	}
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

func (m *mockConn) GetWritten() []string {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	out := make([]string, len(m.written))
	copy(out, m.written)
	return out
}

func (m *mockConn) IsClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// send feeds one inbound frame to the hub.
func (m *mockConn) send(frame string) {
	m.readCh <- []byte(frame + "\n")
}

// expectFrame fails unless the next frame written to m equals want.
func (m *mockConn) expectFrame(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-m.frames:
		if strings.TrimSuffix(got, "\n") != want {
			t.Fatalf("%s received %q, want %q", m.remoteAddr, got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: timeout waiting for %q", m.remoteAddr, want)
	}
}

// expectSilence fails if anything is written to m within d.
func (m *mockConn) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case got := <-m.frames:
		t.Fatalf("%s received unexpected %q", m.remoteAddr, got)
	case <-time.After(d):
	}
}

// Compile-time check that mockConn implements chat.Conn
var _ chat.Conn = (*mockConn)(nil)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
