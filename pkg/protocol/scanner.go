package protocol

import (
	"bufio"
	"bytes"
	"io"
)

// Scanner reassembles terminator-delimited frames from a byte stream.
// A single read may carry part of a frame or several frames; Next always
// returns exactly one.
type Scanner struct {
	scanner *bufio.Scanner
}

// NewScanner creates a Scanner that rejects frames longer than maxFrame bytes
func NewScanner(r io.Reader, maxFrame int) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 512), maxFrame+1)
	s.Split(splitFrames)
	return &Scanner{scanner: s}
}

// Next returns the next raw frame without its terminator.
// It returns io.EOF when the stream ends cleanly and bufio.ErrTooLong
// when a frame exceeds the limit.
func (s *Scanner) Next() ([]byte, error) {
	if s.scanner.Scan() {
		frame := s.scanner.Bytes()
		out := make([]byte, len(frame))
		copy(out, frame)
		return out, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// splitFrames is bufio.ScanLines without the CR handling: Decode already
// trims it, and a final unterminated chunk is still delivered at EOF.
func splitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, Terminator); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
