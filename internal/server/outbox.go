package server

import "sync"

// outbox is a client's queue of lines waiting to be written. push never
// blocks, so relaying to many clients under the registry lock stays cheap.
// How long a client may lag is bounded by the write deadline, not by the
// queue length.
type outbox struct {
	mu    sync.Mutex
	lines []string
	ready chan struct{}
}

func newOutbox() *outbox {
	return &outbox{ready: make(chan struct{}, 1)}
}

func (o *outbox) push(line string) {
	o.mu.Lock()
	o.lines = append(o.lines, line)
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

// take removes and returns up to max queued lines in order, or all of them
// when max <= 0. ready is signalled again if lines remain.
func (o *outbox) take(max int) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := len(o.lines)
	if n == 0 {
		return nil
	}
	if max > 0 && n > max {
		batch := append([]string(nil), o.lines[:max]...)
		o.lines = o.lines[max:]
		o.signal()
		return batch
	}

	batch := o.lines
	o.lines = nil
	return batch
}

// Len returns the number of queued lines.
func (o *outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.lines)
}
