package protocol_test

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/omochice/roster-chat/pkg/protocol"
)

func TestScanner_CoalescedFrames(t *testing.T) {
	s := protocol.NewScanner(strings.NewReader("connect|Alice\nlogout|Alice\n"), protocol.ServerFrameSize)

	for _, want := range []string{"connect|Alice", "logout|Alice"} {
		got, err := s.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if string(got) != want {
			t.Errorf("Next() = %q, want %q", got, want)
		}
	}

	if _, err := s.Next(); err != io.EOF {
		t.Errorf("Next() error = %v, want io.EOF", err)
	}
}

func TestScanner_SplitFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		client.Write([]byte("conn"))
		client.Write([]byte("ect|Al"))
		client.Write([]byte("ice\n"))
	}()

	s := protocol.NewScanner(server, protocol.ServerFrameSize)
	got, err := s.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if string(got) != "connect|Alice" {
		t.Errorf("Next() = %q, want %q", got, "connect|Alice")
	}
}

func TestScanner_UnterminatedFinalFrame(t *testing.T) {
	s := protocol.NewScanner(strings.NewReader("close"), protocol.ClientFrameSize)

	got, err := s.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if string(got) != "close" {
		t.Errorf("Next() = %q, want %q", got, "close")
	}
}

func TestScanner_FrameTooLong(t *testing.T) {
	long := strings.Repeat("a", protocol.ClientFrameSize+10) + "\n"
	s := protocol.NewScanner(strings.NewReader(long), protocol.ClientFrameSize)

	_, err := s.Next()
	if !errors.Is(err, bufio.ErrTooLong) {
		t.Errorf("Next() error = %v, want bufio.ErrTooLong", err)
	}
}

func TestScanner_FrameAtLimit(t *testing.T) {
	exact := strings.Repeat("b", protocol.ClientFrameSize)
	s := protocol.NewScanner(strings.NewReader(exact+"\n"), protocol.ClientFrameSize)

	got, err := s.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(got) != protocol.ClientFrameSize {
		t.Errorf("len(Next()) = %d, want %d", len(got), protocol.ClientFrameSize)
	}
}
