// Package server manages individual chat clients, handling the read and
// write pumps, line framing, and lifecycle of each connection.
package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/asynclog"
)

// ClientRecord is one connected client. The registry and the client's own
// goroutines share the same pointer, so a record stays usable after it has
// been removed from the registry.
type ClientRecord struct {
	ID      uint64
	Session uuid.UUID
	Addr    string

	handle    *ConnHandle
	transport transport
	outbox    *outbox
	limiter   *rateLimiter
	log       asynclog.Source
	done      chan struct{}
	// run tracks the pumps of the server run that admitted the client.
	run *sync.WaitGroup
}

func newClientRecord(id uint64, handle *ConnHandle, t transport, cfg Config, logger *asynclog.Logger) *ClientRecord {
	addr := ""
	if conn := handle.Conn(); conn != nil {
		addr = conn.RemoteAddr().String()
	}
	return &ClientRecord{
		ID:        id,
		Session:   uuid.New(),
		Addr:      addr,
		handle:    handle,
		transport: t,
		outbox:    newOutbox(),
		limiter:   newRateLimiter(cfg.RateLimit),
		log:       logger.Source(fmt.Sprintf("client-%d", id)),
		done:      make(chan struct{}),
	}
}

// Kind reports how the client is connected.
func (c *ClientRecord) Kind() TransportKind {
	return c.transport.Kind()
}

// Done is closed when the client's reader has finished and the record has
// been removed from the registry.
func (c *ClientRecord) Done() <-chan struct{} {
	return c.done
}

// enqueue queues a line for delivery without blocking. It fails only when
// the connection is already closed.
func (c *ClientRecord) enqueue(line string) bool {
	select {
	case <-c.handle.Done():
		return false
	default:
	}

	c.outbox.push(line)
	return true
}

// terminate says goodbye to the peer and tears the connection down in both
// directions.
func (c *ClientRecord) terminate() {
	c.transport.Farewell()
	if err := c.handle.Shutdown(); err != nil && !isExpectedCloseError(err) {
		c.log.Logf("error closing connection: %v", err)
	}
}

// lineSplitter accumulates raw input and yields complete lines.
type lineSplitter struct {
	buf []byte
	max int
}

// feed appends chunk and returns every complete line with any trailing "\r"
// removed. Empty lines are skipped. ErrLineTooLong is returned for a line
// longer than max bytes, or once more than max bytes are pending without a
// newline; lines after an oversized one are discarded.
func (s *lineSplitter) feed(chunk []byte) ([]string, error) {
	s.buf = append(s.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(s.buf[:i]), "\r")
		s.buf = s.buf[i+1:]
		if s.max > 0 && len(line) > s.max {
			s.buf = nil
			return lines, ErrLineTooLong
		}
		if line != "" {
			lines = append(lines, line)
		}
	}

	if len(s.buf) == 0 {
		s.buf = nil
	} else {
		s.buf = append([]byte(nil), s.buf...)
	}

	if s.max > 0 && len(s.buf) > s.max {
		return lines, ErrLineTooLong
	}
	return lines, nil
}

func (s *Server) readPump(c *ClientRecord) {
	defer c.run.Done()
	defer s.disconnect(c)

	splitter := lineSplitter{max: s.cfg.MaxLineSize}
	for {
		chunk, err := c.transport.Read()
		if err != nil {
			s.logReadError(c, err)
			return
		}

		lines, err := splitter.feed(chunk)
		for _, line := range lines {
			s.relay(c, line)
		}
		if err != nil {
			c.log.Logf("client %d sent a line longer than %d bytes; disconnecting", c.ID, s.cfg.MaxLineSize)
			return
		}
	}
}

// logReadError records why a client's read loop ended.
func (s *Server) logReadError(c *ClientRecord, err error) {
	switch {
	case errors.Is(err, io.EOF):
		c.log.Logf("client %d closed the connection", c.ID)
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Logf("client %d exceeded maximum line size of %d bytes", c.ID, s.cfg.MaxLineSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.Logf("client %d disconnected: %v", c.ID, err)
	case isExpectedCloseError(err):
		c.log.Logf("client %d connection closed", c.ID)
	default:
		c.log.Logf("read error from client %d: %v", c.ID, err)
	}
}

func (s *Server) disconnect(c *ClientRecord) {
	removed := s.registry.RemoveByID(c.ID)
	if err := c.handle.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Logf("error closing connection: %v", err)
	}
	if removed {
		s.log.Logf("client %d disconnected from %s. Total clients: %d", c.ID, c.Addr, s.registry.Count())
	}
	close(c.done)
}

func (s *Server) writePump(c *ClientRecord) {
	defer c.run.Done()

	var pingC <-chan time.Time
	if interval := c.transport.pingInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		pingC = ticker.C
	}

	for {
		select {
		case <-c.handle.Done():
			return

		case <-c.outbox.ready:
			batch := c.outbox.take(s.cfg.WriteBatchSize)
			if len(batch) == 0 {
				continue
			}
			if err := c.transport.Write(batch, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					s.dropSlow(c)
					return
				}
				if !isExpectedCloseError(err) {
					c.log.Logf("write error to client %d: %v", c.ID, err)
				}
				_ = c.handle.Close()
				return
			}
			s.metrics.RecordDelivered(len(batch))

		case <-pingC:
			if err := c.transport.Ping(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				c.log.Logf("ping to client %d failed: %v", c.ID, err)
				_ = c.handle.Close()
				return
			}
		}
	}
}
