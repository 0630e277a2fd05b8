// Package server coordinates client admission, message relay, and
// connection cleanup for the chat relay via the Server type.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/relaychat/internal/asynclog"
	"github.com/Tyrowin/relaychat/internal/history"
)

const (
	welcomeLine     = "=== Welcome to the chat! Be the first to send a message. ==="
	greetingTrailer = "==========================="
)

// Option customizes a Server built by New.
type Option func(s *Server)

// WithConsole sets the logger used for operator-facing status lines.
func WithConsole(console zerolog.Logger) Option {
	return func(s *Server) {
		s.console = console.With().Str("component", "server").Logger()
	}
}

// WithHistory replaces the history buffer, for example to share one between
// restarts.
func WithHistory(h *history.Buffer) Option {
	return func(s *Server) {
		if h != nil {
			s.history = h
		}
	}
}

// Server accepts chat clients over TCP, and optionally WebSocket, and relays
// every line a client sends to all other connected clients.
type Server struct {
	cfg      Config
	logger   *asynclog.Logger
	log      asynclog.Source
	console  zerolog.Logger
	history  *history.Buffer
	registry *Registry
	metrics  *Metrics
	origins  originPolicy
	upgrader websocket.Upgrader

	state   atomic.Int32
	running atomic.Bool
	nextID  atomic.Uint64

	// run tracks the goroutines of the current run. Each Listen starts a
	// fresh one so stragglers of a timed out Shutdown cannot mix with it.
	run atomic.Pointer[sync.WaitGroup]

	// lifecycle serializes Listen and Shutdown.
	lifecycle  sync.Mutex
	mu         sync.Mutex
	listener   *net.TCPListener
	httpServer *http.Server
	httpAddr   string
	stopped    chan struct{}
}

// New creates a stopped server. logger may be nil, in which case nothing is
// written to the event log.
func New(cfg Config, logger *asynclog.Logger, opts ...Option) *Server {
	cfg = sanitizeConfig(cfg)

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		log:      logger.Source("main"),
		console:  zerolog.Nop(),
		history:  history.New(cfg.HistoryCapacity),
		registry: NewRegistry(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.origins = newOriginPolicy(cfg.AllowedOrigins, s.log)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.metrics = NewMetrics(s)
	return s
}

// Listen binds the TCP listener on the configured host and the given port,
// plus the HTTP gateway when configured, and starts accepting clients in the
// background. A failure leaves the server stopped.
func (s *Server) Listen(port int) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrServerRunning
	}
	return s.listen(port)
}

func (s *Server) listen(port int) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return s.failStart(fmt.Errorf("server: listen on %s: %w", addr, err))
	}
	tcpLn := ln.(*net.TCPListener)

	var (
		httpLn  net.Listener
		httpSrv *http.Server
	)
	if s.cfg.HTTPAddr != "" {
		httpLn, err = net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			_ = tcpLn.Close()
			return s.failStart(fmt.Errorf("server: listen on %s: %w", s.cfg.HTTPAddr, err))
		}
		httpSrv = CreateServer(httpLn.Addr().String(), SetupRoutes(s))
	}

	wg := new(sync.WaitGroup)
	s.run.Store(wg)
	s.registry.Reopen()

	s.mu.Lock()
	s.listener = tcpLn
	s.httpServer = httpSrv
	s.httpAddr = ""
	if httpLn != nil {
		s.httpAddr = httpLn.Addr().String()
	}
	s.stopped = make(chan struct{})
	s.mu.Unlock()

	s.running.Store(true)
	s.state.Store(int32(StateListening))

	wg.Add(1)
	go s.acceptLoop(tcpLn, wg)

	if httpSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := StartServer(httpSrv, httpLn); err != nil {
				s.log.Logf("HTTP server error: %v", err)
			}
		}()
	}

	s.log.Logf("server listening on %s", tcpLn.Addr())
	s.console.Info().Str("addr", tcpLn.Addr().String()).Msg("chat server listening")
	if httpLn != nil {
		s.log.Logf("HTTP gateway listening on %s", httpLn.Addr())
		s.console.Info().Str("addr", httpLn.Addr().String()).Msg("HTTP gateway listening")
	}
	return nil
}

func (s *Server) failStart(err error) error {
	s.log.Log(err.Error())
	s.console.Error().Err(err).Msg("failed to start")
	s.state.Store(int32(StateStopped))
	return err
}

// Wait blocks until the current run of the server has shut down.
func (s *Server) Wait() {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()

	if stopped != nil {
		<-stopped
	}
}

// Start listens on port and blocks until the server is shut down.
func (s *Server) Start(port int) error {
	if err := s.Listen(port); err != nil {
		return err
	}
	s.Wait()
	return nil
}

func (s *Server) acceptLoop(ln *net.TCPListener, wg *sync.WaitGroup) {
	defer wg.Done()

	src := s.logger.Source("accept")
	for s.running.Load() {
		if err := ln.SetDeadline(time.Now().Add(s.cfg.AcceptTimeout)); err != nil && !s.running.Load() {
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			src.Logf("accept error: %v", err)
			continue
		}

		s.acceptTCP(conn, src)
	}
}

// acceptTCP configures a freshly accepted connection and admits it. The
// temporary handle closes the connection on every path that does not hand it
// over.
func (s *Server) acceptTCP(conn net.Conn, src asynclog.Source) {
	tmp := NewConnHandle(conn)
	defer func() {
		_ = tmp.Close()
	}()

	if !s.running.Load() {
		return
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			src.Logf("failed to configure connection from %s: %v", conn.RemoteAddr(), err)
			return
		}
		if err := tcpConn.SetKeepAlive(true); err != nil {
			src.Logf("failed to configure connection from %s: %v", conn.RemoteAddr(), err)
			return
		}
	}

	handle := NewConnHandle(tmp.Release())
	s.admit(handle, newTCPTransport(handle.Conn()), src)
}

// admit registers a client, queues its greeting, and starts its pumps.
func (s *Server) admit(handle *ConnHandle, t transport, src asynclog.Source) *ClientRecord {
	rec := newClientRecord(s.nextID.Add(1), handle, t, s.cfg, s.logger)

	joined := s.registry.Join(rec, func() {
		for _, line := range s.greeting() {
			rec.enqueue(line)
		}
		rec.run = s.run.Load()
		rec.run.Add(2)
	})
	if !joined {
		src.Logf("rejecting connection from %s: server is shutting down", rec.Addr)
		rec.terminate()
		return nil
	}

	s.metrics.RecordAccepted(t.Kind())
	src.Logf("client %d connected from %s via %s (session %s). Total clients: %d",
		rec.ID, rec.Addr, t.Kind(), rec.Session, s.registry.Count())

	go s.writePump(rec)
	go s.readPump(rec)
	return rec
}

// greeting builds the lines sent to a client right after it connects.
func (s *Server) greeting() []string {
	recent := s.history.Recent(s.cfg.GreetingSize)
	if len(recent) == 0 {
		return []string{welcomeLine}
	}

	lines := make([]string, 0, len(recent)+2)
	lines = append(lines, fmt.Sprintf("=== last %d messages ===", len(recent)))
	lines = append(lines, recent...)
	lines = append(lines, greetingTrailer)
	return lines
}

// relay records a line from sender in the history and queues it for every
// other client. Queuing never blocks; a recipient that stops reading is
// dropped by its writer once a write misses the deadline.
func (s *Server) relay(sender *ClientRecord, line string) {
	if !sender.limiter.allow() {
		sender.log.Logf("rate limit exceeded for client %d; discarding line", sender.ID)
		s.metrics.RecordRateLimited()
		return
	}

	sender.log.Logf("received from client %d: %s", sender.ID, line)
	text := fmt.Sprintf("Client %d: %s", sender.ID, line)

	queued := 0
	s.registry.Relay(func(records []*ClientRecord) {
		s.history.Append(text, sender.ID)
		for _, rec := range records {
			if rec != sender && rec.enqueue(text) {
				queued++
			}
		}
	})

	s.metrics.RecordRelayed()
	sender.log.Logf("relayed line from client %d to %d clients", sender.ID, queued)
}

// dropSlow disconnects a recipient whose socket write stalled past the write
// deadline.
func (s *Server) dropSlow(rec *ClientRecord) {
	if s.registry.RemoveByID(rec.ID) {
		s.log.Logf("client %d removed: write stalled for %s with %d lines pending",
			rec.ID, s.cfg.WriteTimeout, rec.outbox.Len())
		s.metrics.RecordDroppedRecipient()
	}
	_ = rec.handle.Close()
}

// Shutdown stops accepting clients, closes every connection and listener,
// and waits up to timeout for all server goroutines to finish. Only the first
// call on a listening server has an effect; a call made while Listen is in
// progress waits for it and then stops the new run. It returns
// context.DeadlineExceeded if goroutines are still running when the timeout
// expires.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.state.CompareAndSwap(int32(StateListening), int32(StateShuttingDown)) {
		return nil
	}
	s.running.Store(false)
	s.log.Log("initiating server shutdown")
	s.console.Info().Msg("shutting down")

	records := s.registry.Drain()
	for _, rec := range records {
		rec.terminate()
	}
	s.log.Logf("closed %d client connections", len(records))

	s.mu.Lock()
	ln, httpSrv, stopped := s.listener, s.httpServer, s.stopped
	s.listener = nil
	s.httpServer = nil
	s.mu.Unlock()

	if ln != nil {
		if err := ln.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Logf("error closing listener: %v", err)
		}
	}
	if httpSrv != nil {
		if err := ShutdownServer(httpSrv, timeout); err != nil {
			s.log.Logf("HTTP server shutdown error: %v", err)
		}
	}

	err := s.waitGoroutines(s.run.Load(), timeout)
	if err != nil {
		s.log.Log("shutdown timeout reached, some goroutines may still be running")
		s.console.Warn().Msg("shutdown timeout reached")
	} else {
		s.log.Log("server shutdown complete")
		s.console.Info().Msg("server shutdown complete")
	}

	s.state.Store(int32(StateStopped))
	if stopped != nil {
		close(stopped)
	}
	return err
}

func (s *Server) waitGoroutines(wg *sync.WaitGroup, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

// Status is a point-in-time view of the server for operators.
type Status struct {
	State           State
	Addr            string
	HTTPAddr        string
	Clients         int
	HistorySize     int
	HistoryCapacity int
	LogPending      int
	LogDropped      uint64
}

// Status reports the current state of the server.
func (s *Server) Status() Status {
	st := Status{
		State:           s.State(),
		HTTPAddr:        s.HTTPAddr(),
		Clients:         s.registry.Count(),
		HistorySize:     s.history.Size(),
		HistoryCapacity: s.history.Cap(),
		LogPending:      s.logger.Pending(),
		LogDropped:      s.logger.Dropped(),
	}
	if addr := s.Addr(); addr != nil {
		st.Addr = addr.String()
	}
	return st
}

// State returns the lifecycle phase.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Addr returns the TCP listener address, or nil when not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HTTPAddr returns the address of the HTTP gateway, or "" when disabled.
func (s *Server) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer == nil {
		return ""
	}
	return s.httpAddr
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	cfg := s.cfg
	cfg.AllowedOrigins = append([]string(nil), s.cfg.AllowedOrigins...)
	return cfg
}

// History exposes the relay history.
func (s *Server) History() *history.Buffer {
	return s.history
}

// Registry exposes the set of connected clients.
func (s *Server) Registry() *Registry {
	return s.registry
}
