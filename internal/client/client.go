// Package client implements the interactive line-oriented chat client: it
// prints every line the server sends and forwards every line the user types.
package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/relaychat/internal/asynclog"
)

// DefaultLogPath is where the client writes its event log.
const DefaultLogPath = "logs/client.log"

const dialTimeout = 5 * time.Second

// IsQuitCommand reports whether line asks the client to leave.
func IsQuitCommand(line string) bool {
	switch strings.TrimSpace(line) {
	case "sair", "exit", "quit":
		return true
	default:
		return false
	}
}

// Client is one connection to a chat server.
type Client struct {
	conn      net.Conn
	addr      string
	log       asynclog.Source
	closeOnce sync.Once
}

// Dial connects to the server at addr.
func Dial(addr string, logger *asynclog.Logger) (*Client, error) {
	log := logger.Source("client")

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		log.Logf("error connecting to server %s: %v", addr, err)
		return nil, fmt.Errorf("client: connect to %s: %w", addr, err)
	}

	log.Logf("connected to server %s", addr)
	return &Client{conn: conn, addr: addr, log: log}, nil
}

// Run relays lines between in, out, and the server until the user types a
// quit command, the input ends, or the server closes the connection. The
// connection is closed when Run returns.
func (c *Client) Run(in io.Reader, out io.Writer) error {
	received := make(chan error, 1)
	go func() {
		received <- c.receive(out)
	}()

	lines := make(chan string)
	inputDone := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		inputDone <- scanner.Err()
	}()

	for {
		select {
		case line := <-lines:
			if IsQuitCommand(line) {
				c.log.Log("user requested exit")
				c.Close()
				<-received
				return nil
			}
			if err := c.Send(line); err != nil {
				c.Close()
				<-received
				return err
			}

		case err := <-inputDone:
			c.log.Log("input closed")
			c.Close()
			<-received
			return err

		case err := <-received:
			c.Close()
			return err
		}
	}
}

// Send writes line to the server followed by a newline.
func (c *Client) Send(line string) error {
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.log.Logf("error sending to server: %v", err)
		return fmt.Errorf("client: send: %w", err)
	}
	c.log.Logf("sent to server: %s", line)
	return nil
}

// receive copies server lines to out until the connection ends. A close on
// either side is not an error.
func (c *Client) receive(out io.Writer) error {
	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			line = strings.TrimSuffix(line, "\n")
			c.log.Logf("received: %s", line)
			if _, werr := fmt.Fprintln(out, line); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.log.Log("disconnected from server")
				return nil
			}
			c.log.Logf("receive error: %v", err)
			return err
		}
	}
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// Addr returns the server address the client is connected to.
func (c *Client) Addr() string {
	return c.addr
}
