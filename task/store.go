package task

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the authoritative in-memory view of every tracked task. It is
// mutated only by validated stream events and local user actions; every
// mutator runs to completion under the store lock, so observers never see a
// partially applied change.
//
// Store is observable: subscribers are notified after each mutation that
// changed state, outside the lock.
type Store struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	focused string
	logger  *slog.Logger

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

// NewStore creates an empty Store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		tasks:  make(map[string]*Task),
		logger: logger,
		subs:   make(map[int]func()),
	}
}

// Subscribe registers fn to be called after every state change.
// The returned function unsubscribes it.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

// notify invokes all subscribers outside the store lock.
func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// CreateTask inserts a new task in processing status and returns its ID.
// Creation is optimistic: it succeeds synchronously, before any network
// confirmation.
func (s *Store) CreateTask(query string, mode Mode) string {
	id := uuid.New().String()
	now := time.Now().UTC()
	s.mu.Lock()
	s.tasks[id] = &Task{
		ID:        id,
		Query:     query,
		Mode:      mode,
		Status:    StatusProcessing,
		Steps:     []ExecutionStep{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Unlock()
	s.notify()
	return id
}

// Restore re-inserts a task with a known ID, used when re-hydrating saved
// queries after a same-session reload. No-op if the ID already exists.
func (s *Store) Restore(id, query string, mode Mode) {
	now := time.Now().UTC()
	s.mu.Lock()
	if _, ok := s.tasks[id]; ok {
		s.mu.Unlock()
		return
	}
	s.tasks[id] = &Task{
		ID:        id,
		Query:     query,
		Mode:      mode,
		Status:    StatusProcessing,
		Steps:     []ExecutionStep{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Unlock()
	s.notify()
}

// AppendStep appends a progress step to the task. A step whose ID was
// already observed may only flip its outcome from in_progress to a final
// one; anything else is dropped. Unknown task IDs are a logged no-op.
func (s *Store) AppendStep(id string, step ExecutionStep) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("append step for unknown task", "task_id", id, "step_id", step.ID)
		return
	}
	if !t.Active() {
		s.mu.Unlock()
		s.logger.Warn("append step on terminal task", "task_id", id, "status", t.Status)
		return
	}
	for i := range t.Steps {
		if t.Steps[i].ID != step.ID {
			continue
		}
		if t.Steps[i].Outcome == OutcomeInProgress && step.Outcome != OutcomeInProgress {
			t.Steps[i].Outcome = step.Outcome
			t.Steps[i].Timestamp = step.Timestamp
			t.UpdatedAt = time.Now().UTC()
			s.mu.Unlock()
			s.notify()
			return
		}
		s.mu.Unlock()
		s.logger.Warn("duplicate step ignored", "task_id", id, "step_id", step.ID)
		return
	}
	t.Steps = append(t.Steps, step)
	t.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
	s.notify()
}

// SetHumanRequest transitions the task to human_in_loop and records the
// prompt. Legal from processing; a prompt arriving while already
// human_in_loop replaces the previous one (latest request wins) and is
// logged, since concurrent outstanding prompts are unsupported.
func (s *Store) SetHumanRequest(id, message string) {
	now := time.Now().UTC()
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("human request for unknown task", "task_id", id)
		return
	}
	switch t.Status {
	case StatusProcessing:
	case StatusHumanInLoop:
		s.logger.Warn("concurrent human request, latest wins", "task_id", id)
	default:
		s.mu.Unlock()
		s.logger.Warn("human request on terminal task", "task_id", id, "status", t.Status)
		return
	}
	t.Status = StatusHumanInLoop
	t.HumanRequest = &HumanRequest{Message: message, RequestedAt: now}
	t.UpdatedAt = now
	s.mu.Unlock()
	s.notify()
}

// ResumeTask moves a task waiting on human input back to processing after
// the response was submitted. The recorded prompt is kept for history.
func (s *Store) ResumeTask(id string) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok || t.Status != StatusHumanInLoop {
		s.mu.Unlock()
		s.logger.Warn("resume on task not awaiting input", "task_id", id)
		return
	}
	t.Status = StatusProcessing
	t.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
	s.notify()
}

// CompleteTask transitions the task to completed and stores the report and
// optional metadata. When metadata carries an authoritative step replay it
// replaces the step list wholesale. Legal from processing and
// human_in_loop; re-applying to an already completed task is idempotent.
func (s *Store) CompleteTask(id, report string, meta *Metadata) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("complete for unknown task", "task_id", id)
		return
	}
	if t.Status == StatusError {
		s.mu.Unlock()
		s.logger.Warn("complete on errored task", "task_id", id)
		return
	}
	already := t.Status == StatusCompleted
	t.Status = StatusCompleted
	t.Report = report
	t.Metadata = meta
	if meta != nil && len(meta.ExecutionSteps) > 0 {
		t.Steps = append([]ExecutionStep(nil), meta.ExecutionSteps...)
	}
	if !already {
		t.UpdatedAt = time.Now().UTC()
	}
	s.mu.Unlock()
	s.notify()
}

// SetError transitions the task to error from any non-terminal status.
// Error is terminal once set.
func (s *Store) SetError(id, message string) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("error for unknown task", "task_id", id)
		return
	}
	if t.Status.Terminal() {
		s.mu.Unlock()
		s.logger.Warn("error on terminal task", "task_id", id, "status", t.Status)
		return
	}
	t.Status = StatusError
	t.Error = message
	t.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
	s.notify()
}

// DeleteTask removes the task unconditionally. If it was the focused task,
// focus is cleared. Deleting an unknown ID is a logged no-op.
func (s *Store) DeleteTask(id string) {
	s.mu.Lock()
	if _, ok := s.tasks[id]; !ok {
		s.mu.Unlock()
		s.logger.Warn("delete for unknown task", "task_id", id)
		return
	}
	delete(s.tasks, id)
	if s.focused == id {
		s.focused = ""
	}
	s.mu.Unlock()
	s.notify()
}

// SetFocus marks the task the UI is currently centered on.
func (s *Store) SetFocus(id string) {
	s.mu.Lock()
	s.focused = id
	s.mu.Unlock()
	s.notify()
}

// Focused returns the currently focused task ID, or "".
func (s *Store) Focused() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focused
}

// Get returns a copy of the task, or false if it does not exist.
func (s *Store) Get(id string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// Len returns the number of tracked tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Active returns tasks in processing or human_in_loop status, newest first.
func (s *Store) Active() []*Task {
	return s.list(func(t *Task) bool { return t.Active() })
}

// Completed returns tasks in completed status, newest first.
func (s *Store) Completed() []*Task {
	return s.list(func(t *Task) bool { return t.Status == StatusCompleted })
}

// AwaitingHuman returns tasks waiting on human input, newest first.
func (s *Store) AwaitingHuman() []*Task {
	return s.list(func(t *Task) bool { return t.Status == StatusHumanInLoop })
}

// AwaitingHumanCount returns the number of tasks waiting on human input.
func (s *Store) AwaitingHumanCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tasks {
		if t.Status == StatusHumanInLoop {
			n++
		}
	}
	return n
}

func (s *Store) list(match func(*Task) bool) []*Task {
	s.mu.RLock()
	var out []*Task
	for _, t := range s.tasks {
		if match(t) {
			out = append(out, t.clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
