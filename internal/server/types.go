// Package server defines shared states, transport kinds, sentinel errors, and
// utility helpers that are reused across the accept loop and client handlers.
package server

import (
	"errors"
	"strings"
)

var (
	// ErrServerRunning is returned by Listen when the server is not stopped.
	ErrServerRunning = errors.New("server: already running")
	// ErrServerClosed is returned when an operation needs a listening server.
	ErrServerClosed = errors.New("server: not listening")
	// ErrLineTooLong is reported when a peer sends more than MaxLineSize bytes
	// without a newline.
	ErrLineTooLong = errors.New("server: line exceeds maximum size")
)

// State is the lifecycle phase of a Server.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateListening
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateShuttingDown:
		return "shutting down"
	default:
		return "unknown"
	}
}

// TransportKind tells how a client reached the server.
type TransportKind string

const (
	TransportTCP       TransportKind = "tcp"
	TransportWebSocket TransportKind = "websocket"
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
