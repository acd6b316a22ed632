// Package errors provides standardized error codes for the roster server
// and client.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (client, server, transport, session, ...)
//   - error: The specific error type within that domain
//
// Codes are stable and are what log lines and tests match on. Human-readable
// messages are provided alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Client domain - session establishment
	CodeDialFailure      = "client.dial_failed"      // Cannot open the transport to the server
	CodeHandshakeFailure = "client.handshake_failed" // Registration reply missing or malformed

	// Server domain
	CodeBindFailure = "server.bind_failed" // Cannot acquire the listen address

	// Transport domain - established connections
	CodeTransportFailure = "transport.failure"    // Read/write error or EOF
	CodeQueueFull        = "transport.queue_full" // Peer is not draining its send queue

	// Session domain - per-connection state machine
	CodeAccountSet      = "session.account_set" // Account was already bound to this connection
	CodeSessionNotFound = "session.not_found"   // No registered connection with that account
	CodeSessionClosed   = "session.closed"      // Connection or session already closed

	// Config domain
	CodeConfigInvalid = "config.invalid" // Configuration value out of range

	// Storage domain - presence journal
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed

	// General domain - catch-all errors
	CodeUnknown = "error.unknown" // Unknown error
)

// CodedError wraps an error with a stable error code.
type CodedError struct {
	Code    string // Stable error code (e.g., "client.dial_failed")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors.

// DialFailure creates a "client.dial_failed" error.
func DialFailure(address string, cause error) *CodedError {
	return Wrap(CodeDialFailure, fmt.Sprintf("cannot connect to %s", address), cause)
}

// HandshakeFailure creates a "client.handshake_failed" error.
func HandshakeFailure(reason string, cause error) *CodedError {
	return Wrap(CodeHandshakeFailure, reason, cause)
}

// BindFailure creates a "server.bind_failed" error.
func BindFailure(address string, cause error) *CodedError {
	return Wrap(CodeBindFailure, fmt.Sprintf("cannot listen on %s", address), cause)
}

// TransportFailure creates a "transport.failure" error.
func TransportFailure(op string, cause error) *CodedError {
	return Wrap(CodeTransportFailure, op+" failed", cause)
}

// QueueFull creates a "transport.queue_full" error.
func QueueFull(remote string) *CodedError {
	return New(CodeQueueFull, fmt.Sprintf("send queue of %s is full", remote))
}

// AccountSet creates a "session.account_set" error.
func AccountSet(account string) *CodedError {
	return New(CodeAccountSet, fmt.Sprintf("connection already registered as %s", account))
}

// SessionNotFound creates a "session.not_found" error.
func SessionNotFound(account string) *CodedError {
	return New(CodeSessionNotFound, fmt.Sprintf("no connection registered as %s", account))
}

// SessionClosed creates a "session.closed" error.
func SessionClosed(reason string) *CodedError {
	return New(CodeSessionClosed, reason)
}

// ConfigInvalid creates a "config.invalid" error.
func ConfigInvalid(field, reason string) *CodedError {
	return New(CodeConfigInvalid, fmt.Sprintf("%s: %s", field, reason))
}
