// Package testhelpers provides common utilities for testing the chat relay.
//
// It holds a reusable barrier for lining up concurrent test clients, TCP and
// WebSocket dial helpers, deadline-bounded line readers, and HTTP assertions
// shared by the package tests.
package testhelpers

import (
	"bufio"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultTimeout bounds every blocking helper in this package.
const DefaultTimeout = 5 * time.Second

// Barrier lets a fixed number of goroutines rendezvous. It can be reused:
// once all parties have arrived the next Wait starts a new round.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	arrived    int
	generation uint64
}

// NewBarrier creates a barrier for n parties. n < 1 is treated as 1.
func NewBarrier(n int) *Barrier {
	if n < 1 {
		n = 1
	}
	b := &Barrier{parties: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until all parties of the current round have called Wait.
func (b *Barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.generation
	b.arrived++
	if b.arrived >= b.parties {
		b.arrived = 0
		b.generation++
		b.cond.Broadcast()
		return
	}
	for gen == b.generation {
		b.cond.Wait()
	}
}

// Reset abandons the current round, releasing anyone already waiting.
func (b *Barrier) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.arrived = 0
	b.generation++
	b.cond.Broadcast()
}

// TCPClient is a line-oriented test client.
type TCPClient struct {
	Conn   net.Conn
	reader *bufio.Reader
}

// DialTCP connects to addr and fails the test on error. The connection is
// closed when the test ends.
func DialTCP(t *testing.T, addr string) *TCPClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", addr, err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return &TCPClient{Conn: conn, reader: bufio.NewReader(conn)}
}

// Send writes line followed by a newline.
func (c *TCPClient) Send(t *testing.T, line string) {
	t.Helper()

	if err := c.Conn.SetWriteDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		t.Fatalf("Failed to set write deadline: %v", err)
	}
	if _, err := c.Conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("Failed to send %q: %v", line, err)
	}
}

// SendRaw writes data exactly as given.
func (c *TCPClient) SendRaw(t *testing.T, data string) {
	t.Helper()

	if _, err := c.Conn.Write([]byte(data)); err != nil {
		t.Fatalf("Failed to send raw data: %v", err)
	}
}

// TryReadLine reads one line without its terminator, giving up after timeout.
func (c *TCPClient) TryReadLine(timeout time.Duration) (string, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// ReadLine reads one line and fails the test if none arrives in time.
func (c *TCPClient) ReadLine(t *testing.T) string {
	t.Helper()

	line, err := c.TryReadLine(DefaultTimeout)
	if err != nil {
		t.Fatalf("Failed to read line: %v", err)
	}
	return line
}

// ReadLines reads exactly n lines.
func (c *TCPClient) ReadLines(t *testing.T, n int) []string {
	t.Helper()

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		lines = append(lines, c.ReadLine(t))
	}
	return lines
}

// ReadGreeting reads the greeting block: either the single welcome line or a
// header, the replayed lines and a trailer. The replayed lines are returned.
func (c *TCPClient) ReadGreeting(t *testing.T) []string {
	t.Helper()

	first := c.ReadLine(t)
	if strings.HasPrefix(first, "=== Welcome") {
		return nil
	}
	if !strings.HasPrefix(first, "=== last ") {
		t.Fatalf("Unexpected greeting line %q", first)
	}

	var replay []string
	for {
		line := c.ReadLine(t)
		if strings.HasPrefix(line, "=====") {
			return replay
		}
		replay = append(replay, line)
	}
}

// ExpectNoLine fails the test if a line arrives within wait.
func (c *TCPClient) ExpectNoLine(t *testing.T, wait time.Duration) {
	t.Helper()

	if line, err := c.TryReadLine(wait); err == nil {
		t.Fatalf("Expected no line, got %q", line)
	}
}

// WaitClosed waits until the server closes the connection.
func (c *TCPClient) WaitClosed(t *testing.T) {
	t.Helper()

	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		_, err := c.TryReadLine(time.Until(deadline))
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			break
		}
		return
	}
	t.Fatal("Connection was not closed by the server")
}

// Close closes the client connection.
func (c *TCPClient) Close() error {
	return c.Conn.Close()
}

// ConnectWebSocket dials a WebSocket URL presenting origin.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: DefaultTimeout,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// ReadText reads one text frame with a deadline.
func ReadText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read WebSocket message: %v", err)
	}
	return string(data)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// MakeRequest executes an HTTP request with a 5-second timeout and fails the
// test if it cannot be created or executed.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: DefaultTimeout}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type
// prefix.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// Eventually polls cond until it holds or the timeout expires.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("Condition not met within %s: %s", timeout, msg)
	}
}
