package pool

import (
	"log/slog"
	"sync"
)

// Sender sends one message over a task's connection.
type Sender interface {
	Send(v any) error
}

// Guard ensures the initiation request for a task id is sent at most once,
// no matter how many consumers attempt to start the same task. Duplicate
// attempts are silently ignored and logged: without this, two UI surfaces
// mounting the same task would each start it on the backend, duplicating
// side effects.
type Guard struct {
	mu     sync.Mutex
	sent   map[string]bool
	logger *slog.Logger
}

// NewGuard creates an empty Guard.
func NewGuard(logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{sent: make(map[string]bool), logger: logger}
}

// SendOnce sends payload over conn exactly once across the lifetime of
// taskID. Later calls are no-ops. A failed send releases the claim so the
// payload can be retried; the claim is held while sending, so concurrent
// callers cannot double-send.
func (g *Guard) SendOnce(taskID string, conn Sender, payload any) error {
	g.mu.Lock()
	if g.sent[taskID] {
		g.mu.Unlock()
		g.logger.Debug("duplicate initiation ignored", "task_id", taskID)
		return nil
	}
	g.sent[taskID] = true
	g.mu.Unlock()

	if err := conn.Send(payload); err != nil {
		g.mu.Lock()
		delete(g.sent, taskID)
		g.mu.Unlock()
		return err
	}
	g.logger.Debug("initiation sent", "task_id", taskID)
	return nil
}

// Sent reports whether the initiation for taskID has been sent.
func (g *Guard) Sent(taskID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent[taskID]
}

// Reset clears the flag for taskID, permitting a legitimate re-submission
// such as an explicit user restart of a failed task.
func (g *Guard) Reset(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sent, taskID)
}
