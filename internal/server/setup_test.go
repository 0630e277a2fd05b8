package server

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tyrowin/relaychat/internal/asynclog"
	"github.com/Tyrowin/relaychat/internal/testhelpers"
)

const testOrigin = "http://localhost:8081"

// newTestLogger returns a running logger writing into the test's temp dir and
// the path of its file.
func newTestLogger(t *testing.T) (*asynclog.Logger, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "logs", "server.log")
	logger := asynclog.New()
	if err := logger.Initialize(path); err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}
	t.Cleanup(logger.Shutdown)
	return logger, path
}

// startTestServer starts a server on an ephemeral loopback port. mutate may
// adjust the configuration first. The server is shut down when the test ends.
func startTestServer(t *testing.T, mutate func(cfg *Config)) *Server {
	t.Helper()

	logger, _ := newTestLogger(t)
	return startServerWithLogger(t, logger, mutate)
}

func startServerWithLogger(t *testing.T, logger *asynclog.Logger, mutate func(cfg *Config)) *Server {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	if mutate != nil {
		mutate(&cfg)
	}

	s := New(cfg, logger)
	if err := s.Listen(0); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Shutdown(2 * time.Second)
	})
	return s
}

// connectClient dials s and consumes the greeting, so the client is known to
// be registered when this returns.
func connectClient(t *testing.T, s *Server) (*testhelpers.TCPClient, []string) {
	t.Helper()

	c := testhelpers.DialTCP(t, s.Addr().String())
	return c, c.ReadGreeting(t)
}

// readLogFile returns the contents of the log at path.
func readLogFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(data)
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	testhelpers.Eventually(t, testhelpers.DefaultTimeout, func() bool {
		return s.Registry().Count() == n
	}, fmt.Sprintf("expected %d registered clients", n))
}
