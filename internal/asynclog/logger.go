// Package asynclog implements a thread-safe, non-blocking event log. Callers
// enqueue records under a short-held mutex and a single writer goroutine
// drains them to an append-only file, so disk latency never reaches the
// goroutines doing network work.
package asynclog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCapacity is the number of pending records kept before the oldest
// ones are discarded.
const DefaultCapacity = 1000

// DefaultOrigin tags records logged directly on a Logger.
const DefaultOrigin = "main"

// ErrRunning is returned by Initialize while a writer is still active.
var ErrRunning = errors.New("asynclog: logger is already running")

// Record is one log request. It is never modified after creation.
type Record struct {
	Time    time.Time
	Origin  string
	Message string
}

// Option customizes a Logger built by New.
type Option func(l *Logger)

// WithCapacity overrides the pending queue capacity. Values <= 0 are ignored.
func WithCapacity(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.queue = make([]Record, n)
		}
	}
}

// WithDefaultOrigin overrides the origin used by Logger.Log and Logger.Logf.
func WithDefaultOrigin(origin string) Option {
	return func(l *Logger) {
		if origin != "" {
			l.origin = origin
		}
	}
}

// Logger is an asynchronous file logger with a bounded queue. The zero value
// is not usable; build it with New. A nil *Logger discards everything.
type Logger struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Record
	head    int
	count   int
	dropped uint64
	running bool
	out     io.WriteCloser
	done    chan struct{}
	origin  string
}

// New creates a stopped logger. Nothing is recorded until Initialize succeeds.
func New(opts ...Option) *Logger {
	l := &Logger{
		queue:  make([]Record, DefaultCapacity),
		origin: DefaultOrigin,
	}
	l.cond = sync.NewCond(&l.mu)
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Initialize opens path for appending, creating parent directories as
// needed, and starts the writer goroutine. On failure the logger stays a
// no-op and the error is returned for the caller to report.
func (l *Logger) Initialize(path string) error {
	if l == nil {
		return errors.New("asynclog: nil logger")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("asynclog: create log dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("asynclog: open %s: %w", path, err)
	}
	if err := l.start(file); err != nil {
		_ = file.Close()
		return err
	}
	return nil
}

// start launches the writer over out. It is split from Initialize so tests
// can supply their own writers.
func (l *Logger) start(out io.WriteCloser) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running || l.done != nil {
		return ErrRunning
	}
	l.running = true
	l.out = out
	l.done = make(chan struct{})

	encoder := zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    true,
		TimeFormat: time.DateTime,
	})
	go l.writeLoop(encoder, l.done)
	return nil
}

// Log enqueues message under the logger's default origin.
func (l *Logger) Log(message string) {
	if l == nil {
		return
	}
	l.enqueue(l.origin, message)
}

// Logf formats and enqueues a message under the logger's default origin.
func (l *Logger) Logf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.enqueue(l.origin, fmt.Sprintf(format, args...))
}

// Source returns a handle that logs on behalf of the named task.
func (l *Logger) Source(origin string) Source {
	return Source{logger: l, origin: origin}
}

func (l *Logger) enqueue(origin, message string) {
	rec := Record{Time: time.Now(), Origin: origin, Message: message}

	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	capN := len(l.queue)
	if l.count == capN {
		l.queue[l.head] = Record{}
		l.head = (l.head + 1) % capN
		l.count--
		l.dropped++
	}
	l.queue[(l.head+l.count)%capN] = rec
	l.count++
	l.mu.Unlock()

	l.cond.Signal()
}

// pop removes the oldest record. The caller holds mu and count > 0.
func (l *Logger) pop() Record {
	rec := l.queue[l.head]
	l.queue[l.head] = Record{}
	l.head = (l.head + 1) % len(l.queue)
	l.count--
	return rec
}

func (l *Logger) writeLoop(encoder zerolog.Logger, done chan struct{}) {
	defer close(done)

	l.mu.Lock()
	for {
		for l.count == 0 && l.running {
			l.cond.Wait()
		}
		if l.count == 0 {
			l.mu.Unlock()
			return
		}
		rec := l.pop()
		l.mu.Unlock()

		encoder.Info().
			Time(zerolog.TimestampFieldName, rec.Time).
			Str("origin", rec.Origin).
			Msg(rec.Message)

		l.mu.Lock()
	}
}

// Shutdown stops accepting records, waits for the writer to drain the queue
// and closes the destination. Only the first call has an effect.
func (l *Logger) Shutdown() {
	if l == nil {
		return
	}

	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	done, out := l.done, l.out
	l.mu.Unlock()
	l.cond.Broadcast()

	<-done
	if err := out.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "asynclog: close: %v\n", err)
	}

	l.mu.Lock()
	l.out = nil
	l.done = nil
	l.mu.Unlock()
}

// Running reports whether records are currently being accepted.
func (l *Logger) Running() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Pending returns the number of queued records not yet written.
func (l *Logger) Pending() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Dropped returns how many records were discarded because the queue was full.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Source logs on behalf of one named task, such as the accept loop or the
// handler of a single client.
type Source struct {
	logger *Logger
	origin string
}

// Log enqueues message tagged with the source's origin.
func (s Source) Log(message string) {
	if s.logger == nil {
		return
	}
	s.logger.enqueue(s.origin, message)
}

// Logf formats and enqueues a message tagged with the source's origin.
func (s Source) Logf(format string, args ...interface{}) {
	if s.logger == nil {
		return
	}
	s.logger.enqueue(s.origin, fmt.Sprintf(format, args...))
}

// Origin returns the task name records are tagged with.
func (s Source) Origin() string {
	return s.origin
}
