package server

import (
	"net"
	"sync"
)

// Registry is the set of live clients. Records are kept by ID and in
// insertion order, which is also the fan-out order. No network I/O happens
// while its lock is held.
type Registry struct {
	mu     sync.RWMutex
	byID   map[uint64]*ClientRecord
	order  []*ClientRecord
	closed bool
}

// NewRegistry creates an empty, open registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[uint64]*ClientRecord)}
}

// Add registers rec. It returns false if the registry has been drained or the
// ID is already taken.
func (r *Registry) Add(rec *ClientRecord) bool {
	return r.Join(rec, nil)
}

// Join registers rec and runs prepare before any concurrent Relay can observe
// the new record. prepare must not block.
func (r *Registry) Join(rec *ClientRecord, prepare func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || rec == nil {
		return false
	}
	if _, exists := r.byID[rec.ID]; exists {
		return false
	}
	r.byID[rec.ID] = rec
	r.order = append(r.order, rec)
	if prepare != nil {
		prepare()
	}
	return true
}

// Relay runs fn with the current records in insertion order while holding
// the registry read lock. fn must not block or modify the registry.
func (r *Registry) Relay(fn func(records []*ClientRecord)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.order)
}

// Get looks a record up by ID.
func (r *Registry) Get(id uint64) (*ClientRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	return rec, ok
}

// RemoveByID removes the record with the given ID and reports whether it was
// present.
func (r *Registry) RemoveByID(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	r.removeFromOrder(id)
	return true
}

// RemoveByConn removes the record owning conn and reports whether one was found.
func (r *Registry) RemoveByConn(conn net.Conn) bool {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.order {
		if rec.handle.Conn() == conn {
			delete(r.byID, rec.ID)
			r.removeFromOrder(rec.ID)
			return true
		}
	}
	return false
}

func (r *Registry) removeFromOrder(id uint64) {
	for i, rec := range r.order {
		if rec.ID == id {
			copy(r.order[i:], r.order[i+1:])
			r.order[len(r.order)-1] = nil
			r.order = r.order[:len(r.order)-1]
			return
		}
	}
}

// Snapshot returns a copy of the records in insertion order. Callers send
// on the copy after the lock is released.
func (r *Registry) Snapshot() []*ClientRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*ClientRecord, len(r.order))
	copy(records, r.order)
	return records
}

// Count returns the number of registered records.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Drain removes and returns every record and refuses further registrations
// until Reopen.
func (r *Registry) Drain() []*ClientRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.order
	r.order = nil
	r.byID = make(map[uint64]*ClientRecord)
	r.closed = true
	return records
}

// Reopen accepts registrations again after a Drain.
func (r *Registry) Reopen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = false
}
