package console

import (
	"bytes"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/relaychat/internal/server"
)

type fakeReporter struct {
	status server.Status
}

func (f fakeReporter) Status() server.Status {
	return f.status
}

func newTestConsole(input string, stops *atomic.Int32) (*Console, *bytes.Buffer) {
	var out bytes.Buffer
	logger := zerolog.New(&out)
	reporter := fakeReporter{status: server.Status{
		State:           server.StateListening,
		Addr:            "127.0.0.1:8080",
		Clients:         3,
		HistorySize:     7,
		HistoryCapacity: 100,
	}}
	c := New(strings.NewReader(input), logger, reporter, func() { stops.Add(1) }, nil)
	return c, &out
}

// TestConsoleQuitCommands verifies that every quit word stops the server once.
func TestConsoleQuitCommands(t *testing.T) {
	for _, word := range []string{"sair", "quit", "exit", "  sair  "} {
		t.Run(word, func(t *testing.T) {
			var stops atomic.Int32
			c, _ := newTestConsole(word+"\nstatus\n", &stops)

			if err := c.Run(); err != nil {
				t.Fatalf("Run returned %v", err)
			}
			if stops.Load() != 1 {
				t.Errorf("stop called %d times, expected 1", stops.Load())
			}
			if !c.Execute("sair") || stops.Load() != 1 {
				t.Error("a second quit must not call stop again")
			}
		})
	}
}

// TestConsoleStatus verifies that status reports the server snapshot.
func TestConsoleStatus(t *testing.T) {
	var stops atomic.Int32
	c, out := newTestConsole("status\n", &stops)

	if err := c.Run(); !errors.Is(err, ErrInputClosed) {
		t.Fatalf("Run returned %v, expected ErrInputClosed", err)
	}

	text := out.String()
	for _, want := range []string{`"clients":3`, `"history":7`, `"state":"listening"`, `"component":"console"`} {
		if !strings.Contains(text, want) {
			t.Errorf("status output missing %s: %s", want, text)
		}
	}
	if stops.Load() != 0 {
		t.Error("status must not stop the server")
	}
}

// TestConsoleHelpAndUnknown verifies the help text and unknown commands.
func TestConsoleHelpAndUnknown(t *testing.T) {
	var stops atomic.Int32
	c, out := newTestConsole("help\nfrobnicate\n\n", &stops)

	if err := c.Run(); !errors.Is(err, ErrInputClosed) {
		t.Fatalf("Run returned %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "status - show connected clients") {
		t.Errorf("help output missing: %s", text)
	}
	if !strings.Contains(text, `"command":"frobnicate"`) {
		t.Errorf("unknown command not reported: %s", text)
	}
}

// TestConsoleEOFKeepsServer verifies that closing the input does not stop
// the server.
func TestConsoleEOFKeepsServer(t *testing.T) {
	var stops atomic.Int32
	c, _ := newTestConsole("", &stops)

	if err := c.Run(); !errors.Is(err, ErrInputClosed) {
		t.Fatalf("Run returned %v", err)
	}
	if stops.Load() != 0 {
		t.Error("EOF must not stop the server")
	}
}

// TestConsoleCommandsAreCaseSensitive verifies that only the lowercase quit
// words stop the server.
func TestConsoleCommandsAreCaseSensitive(t *testing.T) {
	var stops atomic.Int32
	c, out := newTestConsole("SAIR\nQuit\nStatus\n", &stops)

	if err := c.Run(); !errors.Is(err, ErrInputClosed) {
		t.Fatalf("Run returned %v, expected ErrInputClosed", err)
	}
	if stops.Load() != 0 {
		t.Errorf("stop called %d times, expected 0", stops.Load())
	}
	for _, want := range []string{`"command":"SAIR"`, `"command":"Quit"`, `"command":"Status"`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing unknown command %s: %s", want, out.String())
		}
	}
}
