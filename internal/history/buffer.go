// Package history keeps a bounded, insertion-ordered record of relayed chat
// lines so that newly connected clients can be brought up to date.
package history

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of entries kept when no capacity is given.
const DefaultCapacity = 100

// Entry is a single relayed chat line.
type Entry struct {
	Message string
	Time    time.Time
	Origin  uint64
}

// Format renders the entry the way it is replayed to clients.
func (e Entry) Format() string {
	return "[" + e.Time.Local().Format(time.TimeOnly) + "] " + e.Message
}

// Buffer is a fixed-capacity ring of entries. When the buffer is full the
// oldest entry is evicted to make room for the new one.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	head    int // index of the oldest entry
	count   int
	now     func() time.Time
}

// New creates a Buffer holding at most capacity entries.
// A capacity <= 0 falls back to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		entries: make([]Entry, capacity),
		now:     time.Now,
	}
}

// Append adds a message sent by origin to the tail of the buffer.
func (b *Buffer) Append(message string, origin uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capN := len(b.entries)
	idx := (b.head + b.count) % capN
	b.entries[idx] = Entry{Message: message, Time: b.now(), Origin: origin}

	if b.count == capN {
		b.head = (b.head + 1) % capN
		return
	}
	b.count++
}

// Entries returns copies of the last n entries, oldest first.
func (b *Buffer) Entries(n int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || b.count == 0 {
		return []Entry{}
	}
	if n > b.count {
		n = b.count
	}

	capN := len(b.entries)
	start := b.head + b.count - n
	result := make([]Entry, n)
	for i := 0; i < n; i++ {
		result[i] = b.entries[(start+i)%capN]
	}
	return result
}

// Recent returns the last n entries formatted for replay, oldest first.
func (b *Buffer) Recent(n int) []string {
	entries := b.Entries(n)
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Format()
	}
	return lines
}

// All returns every entry currently held, formatted and oldest first.
func (b *Buffer) All() []string {
	return b.Recent(b.Cap())
}

// Size returns the number of entries currently held.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the fixed capacity of the buffer.
func (b *Buffer) Cap() int {
	return len(b.entries)
}

// Clear drops every entry.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.entries {
		b.entries[i] = Entry{}
	}
	b.head = 0
	b.count = 0
}
