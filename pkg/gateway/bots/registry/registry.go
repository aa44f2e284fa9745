package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrClosed is returned by Insert once Clear has run.
var ErrClosed = errors.New("registry: closed")

// Registry maps worker IDs to their handles. Entries are added on launch and
// leave only through Reap or Clear.
type Registry struct {
	mu      sync.RWMutex
	handles map[int]*Handle
	closed  bool
}

func New() *Registry {
	return &Registry{
		handles: make(map[int]*Handle),
	}
}

// Insert records a launched worker. An exited entry with the same ID (PID
// reuse) is replaced; a live one is a conflict.
func (r *Registry) Insert(h *Handle) error {
	if r == nil || h == nil {
		return fmt.Errorf("registry: nil handle")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if old, ok := r.handles[h.ID]; ok && old != h && !old.Exited() {
		return fmt.Errorf("registry: worker %d already tracked", h.ID)
	}
	r.handles[h.ID] = h
	return nil
}

func (r *Registry) Get(id int) (*Handle, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	return h, ok
}

func (r *Registry) Status(id int) Status {
	h, ok := r.Get(id)
	if !ok {
		return StatusNotFound
	}
	return h.Status()
}

// All returns a snapshot of every tracked handle ordered by worker ID.
func (r *Registry) All() []*Handle {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// CountRunning returns how many workers bound to roomURL have not exited.
func (r *Registry) CountRunning(roomURL string) int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, h := range r.handles {
		if h.RoomURL == roomURL && !h.Exited() {
			n++
		}
	}
	return n
}

func (r *Registry) Running() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, h := range r.handles {
		if !h.Exited() {
			n++
		}
	}
	return n
}

// Reap drops entries that exited more than grace before now and returns
// how many were removed.
func (r *Registry) Reap(now time.Time, grace time.Duration) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, h := range r.handles {
		exitedAt, ok := h.ExitedAt()
		if !ok || now.Sub(exitedAt) < grace {
			continue
		}
		delete(r.handles, id)
		n++
	}
	return n
}

// Clear empties the registry, closes it to further inserts, and returns what
// it held. A worker committed after Clear would escape the shutdown sweep.
func (r *Registry) Clear() []*Handle {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	r.closed = true
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	r.handles = make(map[int]*Handle)
	r.mu.Unlock()
	return out
}
