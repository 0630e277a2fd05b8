// Package console implements the interactive operator console of the chat
// server: it reads commands line by line and reports status or stops the
// server on request.
package console

import (
	"bufio"
	"errors"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/Tyrowin/relaychat/internal/asynclog"
	"github.com/Tyrowin/relaychat/internal/server"
)

// ErrInputClosed is returned by Run when the input ends before a quit
// command. The server keeps running in the background.
var ErrInputClosed = errors.New("console: input closed")

// StatusReporter is the part of the server the console inspects.
type StatusReporter interface {
	Status() server.Status
}

// Console dispatches operator commands.
type Console struct {
	in       io.Reader
	out      zerolog.Logger
	reporter StatusReporter
	stop     func()
	stopOnce sync.Once
	log      asynclog.Source
	proc     *process.Process
}

// New creates a console reading commands from in and writing replies to out.
// stop is called once when the operator asks to quit.
func New(in io.Reader, out zerolog.Logger, reporter StatusReporter, stop func(), logger *asynclog.Logger) *Console {
	c := &Console{
		in:       in,
		out:      out.With().Str("component", "console").Logger(),
		reporter: reporter,
		stop:     stop,
		log:      logger.Source("console"),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		c.log.Logf("process stats unavailable: %v", err)
	} else {
		c.proc = proc
	}
	return c
}

// Banner prints the available commands.
func (c *Console) Banner() {
	c.out.Info().Msg("type 'sair' to stop the server, 'help' for commands")
}

// Run processes commands until a quit command or the end of input. It
// returns nil after a quit and ErrInputClosed when the input ends.
func (c *Console) Run() error {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if c.Execute(scanner.Text()) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		c.log.Logf("console input error: %v", err)
		return err
	}

	c.log.Log("console input closed; server keeps running in the background")
	c.out.Info().Msg("input closed, running without console")
	return ErrInputClosed
}

// Execute runs a single command and reports whether it asked to quit.
func (c *Console) Execute(line string) bool {
	command := strings.TrimSpace(line)
	if command == "" {
		return false
	}
	c.log.Logf("command: %s", command)

	switch command {
	case "sair", "quit", "exit":
		c.out.Info().Msg("stopping server")
		c.stopOnce.Do(func() {
			if c.stop != nil {
				c.stop()
			}
		})
		return true
	case "status":
		c.printStatus()
	case "help":
		c.printHelp()
	default:
		c.out.Warn().Str("command", command).Msg("unknown command, type 'help' for commands")
	}
	return false
}

func (c *Console) printStatus() {
	st := c.reporter.Status()

	event := c.out.Info().
		Str("state", st.State.String()).
		Str("addr", st.Addr).
		Int("clients", st.Clients).
		Int("history", st.HistorySize).
		Int("history_capacity", st.HistoryCapacity).
		Int("log_pending", st.LogPending).
		Uint64("log_dropped", st.LogDropped).
		Int("goroutines", runtime.NumGoroutine())

	if st.HTTPAddr != "" {
		event = event.Str("http_addr", st.HTTPAddr)
	}
	if c.proc != nil {
		if mem, err := c.proc.MemoryInfo(); err == nil {
			event = event.Float64("rss_mb", float64(mem.RSS)/1024/1024)
		}
		if threads, err := c.proc.NumThreads(); err == nil {
			event = event.Int32("threads", threads)
		}
	}
	event.Msg("status")
}

func (c *Console) printHelp() {
	c.out.Info().Msg("commands:")
	c.out.Info().Msg("  status - show connected clients and server statistics")
	c.out.Info().Msg("  sair   - stop the server (also 'quit' or 'exit')")
	c.out.Info().Msg("  help   - show this message")
}
