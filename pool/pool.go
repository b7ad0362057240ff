// Package pool provides the process-scoped connection registry and the
// request de-duplication guard. Both are explicit services with injectable
// lifecycles so tests can run isolated instances.
package pool

import (
	"log/slog"
	"sync"
	"time"

	"github.com/GoCodeAlone/taskstream/transport"
)

// Factory constructs the single Conn for a task id. Called by the Registry
// exactly once per live entry.
type Factory func(taskID string) *transport.Conn

// Registry maps each task id to its one physical connection and tracks
// consumer interest. At most one connection per task holds at all times,
// regardless of how many consumers attach; when interest drops to zero the
// entry is torn down after a grace period.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	factory Factory
	grace   time.Duration
	logger  *slog.Logger
	closed  bool
}

type entry struct {
	conn   *transport.Conn
	refs   int
	reaper *time.Timer
}

// NewRegistry creates a Registry. grace is how long a connection with zero
// interest survives before teardown; zero tears down immediately.
func NewRegistry(factory Factory, grace time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		factory: factory,
		grace:   grace,
		logger:  logger,
	}
}

// Acquire returns the existing connection for taskID or constructs and
// registers a new one, and records the caller's interest. A pending
// teardown is cancelled by re-acquisition.
func (r *Registry) Acquire(taskID string) *transport.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.logger.Warn("acquire on closed registry", "task_id", taskID)
		return nil
	}
	if e, ok := r.entries[taskID]; ok {
		e.refs++
		if e.reaper != nil {
			e.reaper.Stop()
			e.reaper = nil
		}
		return e.conn
	}
	e := &entry{conn: r.factory(taskID), refs: 1}
	r.entries[taskID] = e
	return e.conn
}

// Get returns the connection for taskID without recording interest.
func (r *Registry) Get(taskID string) (*transport.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[taskID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Release drops one unit of interest in taskID. When interest reaches zero
// the entry is disconnected and removed after the grace period, unless it
// is re-acquired first.
func (r *Registry) Release(taskID string) {
	r.mu.Lock()
	e, ok := r.entries[taskID]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("release for unknown connection", "task_id", taskID)
		return
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}
	if e.refs < 0 {
		r.logger.Warn("unbalanced release", "task_id", taskID)
		e.refs = 0
	}
	if r.grace <= 0 {
		conn := r.removeLocked(taskID, e)
		r.mu.Unlock()
		conn.Disconnect()
		return
	}
	e.reaper = time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		cur, ok := r.entries[taskID]
		if !ok || cur != e || cur.refs > 0 {
			r.mu.Unlock()
			return
		}
		conn := r.removeLocked(taskID, cur)
		r.mu.Unlock()
		conn.Disconnect()
	})
	r.mu.Unlock()
}

// removeLocked unregisters the entry and returns its connection. The caller
// holds the lock and disconnects after releasing it, so status callbacks
// never run under the registry lock.
func (r *Registry) removeLocked(taskID string, e *entry) *transport.Conn {
	if e.reaper != nil {
		e.reaper.Stop()
		e.reaper = nil
	}
	delete(r.entries, taskID)
	r.logger.Debug("connection torn down", "task_id", taskID)
	return e.conn
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ReleaseAll forcibly disconnects and clears every entry. Used on
// process-wide shutdown; the registry rejects further Acquire calls.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	var conns []*transport.Conn
	for id, e := range r.entries {
		conns = append(conns, r.removeLocked(id, e))
	}
	r.closed = true
	r.mu.Unlock()

	for _, c := range conns {
		c.Disconnect()
	}
}
