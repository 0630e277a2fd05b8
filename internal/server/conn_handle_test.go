package server

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
)

// countingConn counts Close calls on top of one end of a net.Pipe.
type countingConn struct {
	net.Conn
	closes atomic.Int32
}

func (c *countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

func newCountingPipe(t *testing.T) (*countingConn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return &countingConn{Conn: a}, b
}

// TestConnHandleClosesOnce verifies that concurrent Close and Shutdown calls
// close the connection exactly once.
func TestConnHandleClosesOnce(t *testing.T) {
	conn, _ := newCountingPipe(t)
	h := NewConnHandle(conn)

	if !h.Valid() {
		t.Fatal("new handle should be valid")
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = h.Close()
		}()
		go func() {
			defer wg.Done()
			_ = h.Shutdown()
		}()
	}
	wg.Wait()

	if got := conn.closes.Load(); got != 1 {
		t.Errorf("connection closed %d times, expected 1", got)
	}
	if h.Valid() {
		t.Error("closed handle should not be valid")
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done should be closed after Close")
	}
	if h.Conn() != conn {
		t.Error("Conn should still identify a closed connection")
	}
}

// TestConnHandleRelease verifies that a released connection is handed over
// open and that the old handle no longer closes it.
func TestConnHandleRelease(t *testing.T) {
	conn, _ := newCountingPipe(t)
	tmp := NewConnHandle(conn)

	var owner *ConnHandle
	func() {
		defer func() {
			_ = tmp.Close()
		}()
		owner = NewConnHandle(tmp.Release())
	}()

	if tmp.Valid() || tmp.Conn() != nil {
		t.Error("released handle should be invalid")
	}
	if tmp.Release() != nil {
		t.Error("second Release should return nil")
	}
	if conn.closes.Load() != 0 {
		t.Fatal("released connection was closed by its old handle")
	}
	if !owner.Valid() {
		t.Fatal("new owner should be valid")
	}

	_ = owner.Close()
	if conn.closes.Load() != 1 {
		t.Errorf("expected the new owner to close the connection")
	}
}

// TestConnHandleGuardsAcceptPath verifies that a handle which was not
// released closes its connection when the deferred Close runs.
func TestConnHandleGuardsAcceptPath(t *testing.T) {
	conn, _ := newCountingPipe(t)

	func() {
		tmp := NewConnHandle(conn)
		defer func() {
			_ = tmp.Close()
		}()
		// configuration failed; return without releasing
	}()

	if conn.closes.Load() != 1 {
		t.Errorf("connection closed %d times, expected 1", conn.closes.Load())
	}
}

// TestConnHandleNil verifies that a handle around nil is inert.
func TestConnHandleNil(t *testing.T) {
	h := NewConnHandle(nil)
	if h.Valid() {
		t.Error("nil handle should not be valid")
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close on nil handle returned %v", err)
	}
	if err := h.Shutdown(); err != nil {
		t.Errorf("Shutdown on nil handle returned %v", err)
	}
}

// TestConnHandleShutdownTCP verifies that Shutdown on a TCP connection makes
// the peer observe end of stream.
func TestConnHandleShutdownTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
		close(accepted)
	}()

	peer, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer peer.Close()

	conn, ok := <-accepted
	if !ok {
		t.Fatal("accept failed")
	}

	h := NewConnHandle(conn)
	if err := h.Shutdown(); err != nil {
		t.Fatalf("Shutdown returned %v", err)
	}

	buf := make([]byte, 1)
	if n, err := peer.Read(buf); err == nil {
		t.Errorf("expected peer read to fail after shutdown, read %d bytes", n)
	}
}
