package client

import (
	"github.com/GoCodeAlone/taskstream/stream"
)

// fold interprets one inbound stream message and applies it to the task
// store. It is the state machine
//
//	idle -> processing -> {human_in_loop <-> processing} -> {completed | error}
//
// with deleteTask as a destructor callable from any state. Messages for
// tasks deleted locally are dropped with a warning and never resurrect the
// record; protocol violations are dropped and logged, never user-visible.
//
// fold runs on the connection's reader goroutine, so events for one task
// apply in delivery order.
func (e *Engine) fold(taskID string, raw []byte) {
	msg, err := stream.Decode(raw, taskID)
	if err != nil {
		e.logger.Warn("dropping inbound message", "task_id", taskID, "err", err)
		return
	}

	switch msg.Type {
	case stream.TypeStep:
		step, err := msg.Step()
		if err != nil {
			e.logger.Warn("dropping step", "task_id", taskID, "err", err)
			return
		}
		e.store.AppendStep(taskID, step)

	case stream.TypeHumanInLoop:
		d, err := msg.HumanInLoop()
		if err != nil {
			e.logger.Warn("dropping human_in_loop", "task_id", taskID, "err", err)
			return
		}
		e.store.SetHumanRequest(taskID, d.Message)

	case stream.TypeComplete:
		d, err := msg.Complete()
		if err != nil {
			e.logger.Warn("dropping complete", "task_id", taskID, "err", err)
			return
		}
		e.store.CompleteTask(taskID, d.Report, d.Metadata)
		e.finish(taskID)

	case stream.TypeError:
		d, err := msg.Err()
		if err != nil {
			e.logger.Warn("dropping error", "task_id", taskID, "err", err)
			return
		}
		e.store.SetError(taskID, d.Message)
		e.finish(taskID)
	}
}

// finish runs after a task reaches a terminal state: the saved query is no
// longer needed and the engine drops its own connection interest. Consumers
// still attached keep the stream alive until they detach.
func (e *Engine) finish(taskID string) {
	if e.scratch != nil {
		if err := e.scratch.Delete(taskID); err != nil {
			e.logger.Warn("scratch delete failed", "task_id", taskID, "err", err)
		}
	}

	e.mu.Lock()
	owned := e.owned[taskID]
	delete(e.owned, taskID)
	e.mu.Unlock()

	if owned {
		e.reg.Release(taskID)
	}
}
