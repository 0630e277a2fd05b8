package server

import (
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readBufferSize = 1024
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	farewellWait   = time.Second
)

// transport moves raw bytes and lines between a client and its handler
// goroutines. Read is only called by the reader and Write/Ping only by the
// writer; Farewell may be called from anywhere.
type transport interface {
	// Read returns the next chunk of newline-delimited input. The slice is
	// only valid until the next call.
	Read() ([]byte, error)
	// Write delivers lines in order. Lines carry no trailing newline.
	Write(lines []string, deadline time.Time) error
	// Ping keeps an idle connection alive. pingInterval returns zero when
	// the transport needs no pings.
	Ping(deadline time.Time) error
	pingInterval() time.Duration
	// Farewell tells the peer the server is going away.
	Farewell()
	Kind() TransportKind
}

type tcpTransport struct {
	conn net.Conn
	buf  []byte
}

func newTCPTransport(conn net.Conn) *tcpTransport {
	return &tcpTransport{conn: conn, buf: make([]byte, readBufferSize)}
}

func (t *tcpTransport) Read() ([]byte, error) {
	n, err := t.conn.Read(t.buf)
	if n > 0 {
		return t.buf[:n], nil
	}
	return nil, err
}

func (t *tcpTransport) Write(lines []string, deadline time.Time) error {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := t.conn.Write([]byte(b.String()))
	return err
}

func (t *tcpTransport) Ping(time.Time) error { return nil }

func (t *tcpTransport) pingInterval() time.Duration { return 0 }

func (t *tcpTransport) Farewell() {}

func (t *tcpTransport) Kind() TransportKind { return TransportTCP }

type wsTransport struct {
	conn *websocket.Conn
}

func newWSTransport(conn *websocket.Conn, maxLineSize int) *wsTransport {
	conn.SetReadLimit(int64(maxLineSize))
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &wsTransport{conn: conn}
}

// Read returns one text frame followed by a newline, so a frame without an
// explicit terminator still counts as a complete line.
func (t *wsTransport) Read() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (t *wsTransport) Write(lines []string, deadline time.Time) error {
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	for _, line := range lines {
		if err := t.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return err
		}
	}
	return nil
}

func (t *wsTransport) Ping(deadline time.Time) error {
	return t.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (t *wsTransport) pingInterval() time.Duration { return pingPeriod }

func (t *wsTransport) Farewell() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(farewellWait))
}

func (t *wsTransport) Kind() TransportKind { return TransportWebSocket }
