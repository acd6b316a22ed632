// Package protocol implements the pipe-delimited command frames exchanged
// between the roster server and its clients.
package protocol

import (
	"bytes"
	"strings"
)

// Command names understood by server and client.
const (
	CommandConnect    = "connect"
	CommandList       = "list"
	CommandDisconnect = "disconnect"
	CommandLogout     = "logout"
	CommandClose      = "close"
)

const (
	// Delimiter separates the command and its fields. It is never escaped,
	// so account names must not contain it.
	Delimiter = "|"

	// Terminator ends a frame on stream transports.
	Terminator = '\n'

	// ServerFrameSize is the largest frame the server accepts from a client.
	ServerFrameSize = 5120

	// ClientFrameSize is the largest frame a client accepts from the server.
	ClientFrameSize = 2048
)

// Frame represents one decoded command with its fields
type Frame struct {
	Command string
	Args    []string
}

// NewFrame creates a Frame from a command and its fields
func NewFrame(command string, args ...string) Frame {
	return Frame{Command: command, Args: args}
}

// Encode encodes the frame into bytes, terminator included
func (f Frame) Encode() []byte {
	return Encode(f.Command, f.Args...)
}

// Tokens returns the command followed by its fields
func (f Frame) Tokens() []string {
	tokens := make([]string, 0, len(f.Args)+1)
	tokens = append(tokens, f.Command)
	return append(tokens, f.Args...)
}

// Arg returns the i-th field, or "" when the frame is shorter
func (f Frame) Arg(i int) string {
	if i < 0 || i >= len(f.Args) {
		return ""
	}
	return f.Args[i]
}

// String returns the frame as it appears on the wire, without terminator
func (f Frame) String() string {
	return strings.Join(f.Tokens(), Delimiter)
}

// Encode joins a command and its fields with the delimiter and appends
// the terminator.
func Encode(command string, fields ...string) []byte {
	var buf bytes.Buffer
	buf.WriteString(command)
	for _, field := range fields {
		buf.WriteString(Delimiter)
		buf.WriteString(field)
	}
	buf.WriteByte(Terminator)
	return buf.Bytes()
}

// Decode splits a raw frame into its command and fields.
// Trailing NUL padding and line terminators are trimmed. Decode never fails:
// an empty frame yields an empty command, which callers ignore like any
// other unknown command.
func Decode(data []byte) Frame {
	text := strings.TrimRight(string(data), "\x00\r\n")
	tokens := strings.Split(text, Delimiter)
	return Frame{Command: tokens[0], Args: tokens[1:]}
}
