// Package task defines the task model and the in-memory state store that
// tracks every task observed by the streaming client.
package task

import "time"

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusProcessing  Status = "processing"
	StatusHumanInLoop Status = "human_in_loop"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Mode selects how the backend executes a task.
type Mode string

const (
	ModeResearch Mode = "research"
	ModeReport   Mode = "report"
	ModeQuick    Mode = "quick"
)

// Outcome is the result of a single execution step.
type Outcome string

const (
	OutcomeInProgress Outcome = "in_progress"
	OutcomeSuccess    Outcome = "success"
	OutcomeError      Outcome = "error"
)

// Pipeline stage names reported by the backend.
const (
	StagePlanner     = "planner"
	StageRetriever   = "retriever"
	StageAnalyzer    = "analyzer"
	StageSynthesizer = "synthesizer"
	StageReporter    = "reporter"
)

// ExecutionStep is one reported unit of progress within a task's pipeline.
// Steps are append-only; a step's ID is never reused, and its outcome may
// transition in_progress -> success|error exactly once.
type ExecutionStep struct {
	ID        int       `json:"id"`
	Stage     string    `json:"stage"`
	Action    string    `json:"action"`
	Outcome   Outcome   `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// HumanRequest is an outstanding prompt for human input on a task. At most
// one is representable per task; a newer prompt replaces an older one.
type HumanRequest struct {
	Message     string    `json:"message"`
	RequestedAt time.Time `json:"requested_at"`
}

// Metadata carries structured execution details reported on completion.
// ExecutionSteps, when present, is an authoritative replay that replaces
// the locally accumulated step list.
type Metadata struct {
	StepCounts     map[string]int  `json:"step_counts,omitempty"`
	ThreadID       string          `json:"thread_id,omitempty"`
	SubQueries     []string        `json:"sub_queries,omitempty"`
	ExecutionSteps []ExecutionStep `json:"execution_steps,omitempty"`
}

// Task is one backend-executed unit of work tracked end-to-end.
type Task struct {
	ID           string          `json:"id"`
	Query        string          `json:"query"`
	Mode         Mode            `json:"mode"`
	Status       Status          `json:"status"`
	Steps        []ExecutionStep `json:"steps"`
	HumanRequest *HumanRequest   `json:"human_request,omitempty"`
	Report       string          `json:"report,omitempty"`
	Error        string          `json:"error,omitempty"`
	Metadata     *Metadata       `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Active reports whether the task is still executing or waiting on input.
func (t *Task) Active() bool {
	return t.Status == StatusProcessing || t.Status == StatusHumanInLoop
}

// clone returns a deep copy so callers can never mutate store state.
func (t *Task) clone() *Task {
	c := *t
	c.Steps = append([]ExecutionStep(nil), t.Steps...)
	if t.HumanRequest != nil {
		hr := *t.HumanRequest
		c.HumanRequest = &hr
	}
	if t.Metadata != nil {
		m := *t.Metadata
		m.ExecutionSteps = append([]ExecutionStep(nil), t.Metadata.ExecutionSteps...)
		if t.Metadata.StepCounts != nil {
			m.StepCounts = make(map[string]int, len(t.Metadata.StepCounts))
			for k, v := range t.Metadata.StepCounts {
				m.StepCounts[k] = v
			}
		}
		m.SubQueries = append([]string(nil), t.Metadata.SubQueries...)
		c.Metadata = &m
	}
	return &c
}
