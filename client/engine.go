// Package client composes the streaming client: the connection registry,
// the de-duplication guard, the task state store, and the event folding
// engine that keeps them consistent.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/taskstream/config"
	"github.com/GoCodeAlone/taskstream/pool"
	"github.com/GoCodeAlone/taskstream/stream"
	"github.com/GoCodeAlone/taskstream/task"
	"github.com/GoCodeAlone/taskstream/transport"
)

// StatusHandler observes connection status changes for UI feedback.
type StatusHandler func(taskID string, st transport.Status)

// Engine is the realtime task-streaming client. It owns one connection per
// task id, folds inbound progress events into the task store, and exposes
// the imperative entry points consumers use to create, delete, and answer
// tasks. Transport failures never escape the Engine's contract: they
// surface as task state transitions and status signals.
type Engine struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *task.Store
	reg     *pool.Registry
	guard   *pool.Guard
	scratch *task.Scratch
	dialer  transport.Dialer

	mu       sync.Mutex
	statuses map[string]transport.Status
	pending  map[string]stream.InitRequest // init payloads awaiting an open stream
	owned    map[string]bool               // interest units held by the engine itself
	notice   string                        // dismissible connection-level failure notice

	subMu   sync.Mutex
	subs    map[int]StatusHandler
	nextSub int
}

// New creates an Engine from cfg. If cfg.ScratchPath is set the transient
// scratch store is opened; call Shutdown to release it.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		store:    task.NewStore(logger),
		guard:    pool.NewGuard(logger),
		dialer:   transport.NewWebSocketDialer(),
		statuses: make(map[string]transport.Status),
		pending:  make(map[string]stream.InitRequest),
		owned:    make(map[string]bool),
		subs:     make(map[int]StatusHandler),
	}
	grace := time.Duration(cfg.GraceSeconds) * time.Second
	e.reg = pool.NewRegistry(e.newConn, grace, logger)

	if cfg.ScratchPath != "" {
		scratch, err := task.OpenScratch(cfg.ScratchPath)
		if err != nil {
			return nil, fmt.Errorf("open scratch store: %w", err)
		}
		e.scratch = scratch
	}
	return e, nil
}

// SetDialer replaces the transport dialer. Must be called before any task
// is created or attached; tests use it to substitute scripted sockets.
func (e *Engine) SetDialer(d transport.Dialer) { e.dialer = d }

// Store returns the observable task state store.
func (e *Engine) Store() *task.Store { return e.store }

// newConn is the pool.Factory for this engine.
func (e *Engine) newConn(taskID string) *transport.Conn {
	opts := transport.Options{
		AutoReconnect:        e.cfg.Reconnect.Auto,
		ReconnectDelay:       e.cfg.Reconnect.Delay(),
		MaxReconnectAttempts: e.cfg.Reconnect.MaxAttempts,
		Dialer:               e.dialer,
		Logger:               e.logger,
		OnMessage:            func(data []byte) { e.fold(taskID, data) },
		OnStatus:             func(st transport.Status) { e.onStatus(taskID, st) },
	}
	return transport.New(taskID, streamURL(e.cfg.Backend.URL, taskID), opts)
}

// streamURL appends the task id as the final path segment of the base URL.
func streamURL(base, taskID string) string {
	return strings.TrimRight(base, "/") + "/" + taskID
}

// CreateTask optimistically creates a task for query and opens its stream.
// The record exists, in processing status, before any network round trip;
// the initiation request is sent once the stream opens, at most once per
// task id.
func (e *Engine) CreateTask(ctx context.Context, query string, mode task.Mode) (string, error) {
	return e.CreateTaskWith(ctx, query, mode, stream.InitRequest{})
}

// CreateTaskWith is CreateTask with an explicit initiation request for
// callers that set filter_datasource, use_cache, or a layout snapshot.
func (e *Engine) CreateTaskWith(ctx context.Context, query string, mode task.Mode, req stream.InitRequest) (string, error) {
	id := e.store.CreateTask(query, mode)
	req.Query = query

	if e.scratch != nil {
		if err := e.scratch.Save(id, query, mode); err != nil {
			e.logger.Warn("scratch save failed", "task_id", id, "err", err)
		}
	}

	e.mu.Lock()
	e.pending[id] = req
	e.owned[id] = true
	e.mu.Unlock()

	conn := e.reg.Acquire(id)
	if conn == nil {
		e.mu.Lock()
		delete(e.pending, id)
		delete(e.owned, id)
		e.mu.Unlock()
		e.store.DeleteTask(id)
		return "", fmt.Errorf("engine is shut down")
	}
	conn.Connect(ctx)
	return id, nil
}

// Attach registers an additional consumer's interest in taskID and ensures
// its stream is open. The returned detach function releases the interest;
// calling it more than once is safe. Attaching to an id known only to the
// scratch store restores the task record first.
func (e *Engine) Attach(ctx context.Context, taskID string) (detach func(), err error) {
	if _, ok := e.store.Get(taskID); !ok {
		entry, found, serr := e.loadScratch(taskID)
		if serr != nil {
			return nil, serr
		}
		if !found {
			return nil, fmt.Errorf("unknown task %s", taskID)
		}
		e.store.Restore(entry.TaskID, entry.Query, entry.Mode)
	}

	conn := e.reg.Acquire(taskID)
	if conn == nil {
		return nil, fmt.Errorf("engine is shut down")
	}
	conn.Connect(ctx)

	var once sync.Once
	return func() {
		once.Do(func() { e.reg.Release(taskID) })
	}, nil
}

func (e *Engine) loadScratch(taskID string) (*task.ScratchEntry, bool, error) {
	if e.scratch == nil {
		return nil, false, nil
	}
	return e.scratch.Load(taskID)
}

// DeleteTask removes the task everywhere: store, scratch, guard, and the
// engine's own connection interest. Events arriving for the id afterward
// are dropped by the folding engine, never resurrected.
func (e *Engine) DeleteTask(taskID string) {
	e.store.DeleteTask(taskID)
	if e.scratch != nil {
		if err := e.scratch.Delete(taskID); err != nil {
			e.logger.Warn("scratch delete failed", "task_id", taskID, "err", err)
		}
	}
	e.guard.Reset(taskID)

	e.mu.Lock()
	delete(e.pending, taskID)
	owned := e.owned[taskID]
	delete(e.owned, taskID)
	delete(e.statuses, taskID)
	e.mu.Unlock()

	if owned {
		e.reg.Release(taskID)
	}
}

// RestartTask deletes a failed task and creates a fresh one with the same
// query and mode, returning the new id. Only tasks in error status can be
// restarted.
func (e *Engine) RestartTask(ctx context.Context, taskID string) (string, error) {
	t, ok := e.store.Get(taskID)
	if !ok {
		return "", fmt.Errorf("unknown task %s", taskID)
	}
	if t.Status != task.StatusError {
		return "", fmt.Errorf("task %s is %s, only errored tasks restart", taskID, t.Status)
	}
	e.DeleteTask(taskID)
	return e.CreateTask(ctx, t.Query, t.Mode)
}

// SubmitHumanResponse sends the human's reply over the task's connection
// and moves the task back to processing. Fails if the stream is not open.
func (e *Engine) SubmitHumanResponse(taskID, response string) error {
	conn, ok := e.reg.Get(taskID)
	if !ok {
		return fmt.Errorf("no connection for task %s: %w", taskID, transport.ErrNotConnected)
	}
	if err := conn.Send(stream.NewHumanResponse(taskID, response)); err != nil {
		return fmt.Errorf("submit human response: %w", err)
	}
	e.store.ResumeTask(taskID)
	return nil
}

// Rehydrate restores every task saved in the scratch store and re-opens
// their streams. The initiation request is not re-sent: it already went
// out earlier in the session, and re-sending would duplicate backend side
// effects.
func (e *Engine) Rehydrate(ctx context.Context) error {
	if e.scratch == nil {
		return nil
	}
	entries, err := e.scratch.All()
	if err != nil {
		return fmt.Errorf("rehydrate: %w", err)
	}
	for _, entry := range entries {
		e.store.Restore(entry.TaskID, entry.Query, entry.Mode)
		e.mu.Lock()
		e.owned[entry.TaskID] = true
		e.mu.Unlock()
		if conn := e.reg.Acquire(entry.TaskID); conn != nil {
			conn.Connect(ctx)
		}
	}
	if len(entries) > 0 {
		e.logger.Info("rehydrated pending tasks", "count", len(entries))
	}
	return nil
}

// ConnectionStatus returns the last observed status for taskID's stream.
func (e *Engine) ConnectionStatus(taskID string) transport.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.statuses[taskID]; ok {
		return st
	}
	return transport.Status{Phase: transport.PhaseIdle}
}

// SubscribeStatus registers fn for connection status changes. The returned
// function unsubscribes it.
func (e *Engine) SubscribeStatus(fn StatusHandler) (unsubscribe func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.nextSub++
	id := e.nextSub
	e.subs[id] = fn
	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		delete(e.subs, id)
	}
}

// Notice returns the current connection-level failure notice, if any. It
// is distinct from any individual task's error and can be dismissed with
// ClearNotice.
func (e *Engine) Notice() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notice, e.notice != ""
}

// ClearNotice dismisses the connection-level failure notice.
func (e *Engine) ClearNotice() {
	e.mu.Lock()
	e.notice = ""
	e.mu.Unlock()
}

// Shutdown tears down every connection and closes the scratch store.
func (e *Engine) Shutdown() {
	e.reg.ReleaseAll()
	if e.scratch != nil {
		if err := e.scratch.Close(); err != nil {
			e.logger.Warn("scratch close failed", "err", err)
		}
	}
}

// onStatus reacts to a connection phase change: on open it flushes the
// pending initiation request through the guard; on terminal failure it
// turns the task to error (the only path transport failure reaches a task)
// and raises the engine-level notice.
func (e *Engine) onStatus(taskID string, st transport.Status) {
	e.mu.Lock()
	e.statuses[taskID] = st
	var init *stream.InitRequest
	if st.Phase == transport.PhaseOpen {
		if req, ok := e.pending[taskID]; ok {
			init = &req
			delete(e.pending, taskID)
		}
	}
	if st.Phase == transport.PhaseFailed {
		e.notice = fmt.Sprintf("lost connection for task %s: %s", taskID, st.LastError)
	}
	e.mu.Unlock()

	if init != nil {
		if conn, ok := e.reg.Get(taskID); ok {
			if err := e.guard.SendOnce(taskID, conn, *init); err != nil {
				e.logger.Warn("initiation send failed", "task_id", taskID, "err", err)
				e.mu.Lock()
				e.pending[taskID] = *init
				e.mu.Unlock()
			}
		}
	}
	if st.Phase == transport.PhaseFailed {
		msg := "connection failed"
		if st.LastError != "" {
			msg = fmt.Sprintf("connection failed: %s", st.LastError)
		}
		e.store.SetError(taskID, msg)
	}

	e.subMu.Lock()
	fns := make([]StatusHandler, 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()
	for _, fn := range fns {
		fn(taskID, st)
	}
}
