package server

import (
	"net"
	"sync"
)

// ConnHandle owns exactly one network connection and closes it at most once,
// whichever path gets there first. Ownership moves to another handle with
// Release. A ConnHandle must not be copied.
type ConnHandle struct {
	mu       sync.Mutex
	conn     net.Conn
	released bool
	closed   bool
	done     chan struct{}
}

// NewConnHandle takes ownership of conn. A nil conn yields an invalid handle.
func NewConnHandle(conn net.Conn) *ConnHandle {
	return &ConnHandle{conn: conn, done: make(chan struct{})}
}

// Valid reports whether the handle still owns an open connection.
func (h *ConnHandle) Valid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil && !h.released && !h.closed
}

// Conn returns the owned connection, or nil once it has been released. A
// closed connection is still returned so callers can match on identity.
func (h *ConnHandle) Conn() net.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	return h.conn
}

// Release gives up ownership without closing and returns the connection.
// Subsequent Close and Shutdown calls do nothing.
func (h *ConnHandle) Release() net.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released || h.closed {
		return nil
	}
	h.released = true
	conn := h.conn
	h.conn = nil
	return conn
}

// Close closes the connection unless it was released or already closed.
func (h *ConnHandle) Close() error {
	conn := h.markClosed()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Shutdown half-closes both directions when the connection supports it and
// then closes it. Like Close it acts at most once.
func (h *ConnHandle) Shutdown() error {
	conn := h.markClosed()
	if conn == nil {
		return nil
	}
	if cr, ok := conn.(interface{ CloseRead() error }); ok {
		_ = cr.CloseRead()
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	return conn.Close()
}

// Done is closed once the handle has closed its connection.
func (h *ConnHandle) Done() <-chan struct{} {
	return h.done
}

func (h *ConnHandle) markClosed() net.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil || h.released || h.closed {
		return nil
	}
	h.closed = true
	close(h.done)
	return h.conn
}
