package task

import (
	"reflect"
	"testing"
	"time"
)

func step(id int, stage string, outcome Outcome) ExecutionStep {
	return ExecutionStep{
		ID:        id,
		Stage:     stage,
		Action:    "doing work",
		Outcome:   outcome,
		Timestamp: time.Date(2026, 8, 1, 12, 0, id, 0, time.UTC),
	}
}

func TestStore_CreateTask(t *testing.T) {
	s := NewStore(nil)

	id := s.CreateTask("github trends", ModeResearch)
	if id == "" {
		t.Fatal("CreateTask returned empty id")
	}

	got, ok := s.Get(id)
	if !ok {
		t.Fatalf("Get(%s) not found", id)
	}
	if got.Status != StatusProcessing {
		t.Errorf("Status = %q, want %q", got.Status, StatusProcessing)
	}
	if len(got.Steps) != 0 {
		t.Errorf("Steps = %d, want 0", len(got.Steps))
	}
	if got.Query != "github trends" || got.Mode != ModeResearch {
		t.Errorf("Query/Mode = %q/%q", got.Query, got.Mode)
	}

	id2 := s.CreateTask("another", ModeQuick)
	if id2 == id {
		t.Error("CreateTask reused an id")
	}
}

func TestStore_MetadataReplayOverridesSteps(t *testing.T) {
	s := NewStore(nil)
	id := s.CreateTask("q", ModeResearch)

	for i := 1; i <= 3; i++ {
		s.AppendStep(id, step(i, StageRetriever, OutcomeSuccess))
	}

	meta := &Metadata{ExecutionSteps: []ExecutionStep{
		step(1, StagePlanner, OutcomeSuccess),
		step(2, StageRetriever, OutcomeSuccess),
		step(3, StageAnalyzer, OutcomeSuccess),
		step(4, StageSynthesizer, OutcomeSuccess),
		step(5, StageReporter, OutcomeSuccess),
	}}
	s.CompleteTask(id, "done", meta)

	got, _ := s.Get(id)
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if len(got.Steps) != 5 {
		t.Errorf("Steps = %d, want 5 (metadata replay overrides)", len(got.Steps))
	}
}

func TestStore_HumanInLoopThenComplete(t *testing.T) {
	s := NewStore(nil)
	id := s.CreateTask("q", ModeReport)

	s.SetHumanRequest(id, "confirm scope?")
	got, _ := s.Get(id)
	if got.Status != StatusHumanInLoop {
		t.Fatalf("Status = %q, want human_in_loop", got.Status)
	}
	if got.HumanRequest == nil || got.HumanRequest.Message != "confirm scope?" {
		t.Fatalf("HumanRequest = %+v", got.HumanRequest)
	}

	s.CompleteTask(id, "ok", nil)
	got, _ = s.Get(id)
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.HumanRequest == nil {
		t.Error("HumanRequest dropped; want retained for history")
	}
}

func TestStore_UnknownIDsAreNoOps(t *testing.T) {
	s := NewStore(nil)
	id := s.CreateTask("q", ModeResearch)

	s.AppendStep("missing", step(1, StagePlanner, OutcomeSuccess))
	s.SetHumanRequest("missing", "hello?")
	s.CompleteTask("missing", "r", nil)
	s.SetError("missing", "boom")
	s.DeleteTask("missing")

	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	got, _ := s.Get(id)
	if got.Status != StatusProcessing || len(got.Steps) != 0 {
		t.Errorf("existing task changed: %+v", got)
	}
}

func TestStore_CompleteIsIdempotent(t *testing.T) {
	s := NewStore(nil)
	id := s.CreateTask("q", ModeResearch)
	s.AppendStep(id, step(1, StagePlanner, OutcomeSuccess))

	meta := &Metadata{ThreadID: "th-1", StepCounts: map[string]int{"planner": 1}}
	s.CompleteTask(id, "report", meta)
	first, _ := s.Get(id)

	s.CompleteTask(id, "report", meta)
	second, _ := s.Get(id)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("records differ after second apply:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestStore_StepOutcomeTransitionsOnce(t *testing.T) {
	s := NewStore(nil)
	id := s.CreateTask("q", ModeResearch)

	s.AppendStep(id, step(1, StageRetriever, OutcomeInProgress))
	s.AppendStep(id, step(1, StageRetriever, OutcomeSuccess))
	got, _ := s.Get(id)
	if len(got.Steps) != 1 {
		t.Fatalf("Steps = %d, want 1", len(got.Steps))
	}
	if got.Steps[0].Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %q, want success", got.Steps[0].Outcome)
	}

	// A second flip is ignored.
	s.AppendStep(id, step(1, StageRetriever, OutcomeError))
	got, _ = s.Get(id)
	if got.Steps[0].Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %q after duplicate, want success", got.Steps[0].Outcome)
	}
}

func TestStore_TerminalStatesStick(t *testing.T) {
	s := NewStore(nil)

	errID := s.CreateTask("a", ModeResearch)
	s.SetError(errID, "backend exploded")
	s.CompleteTask(errID, "too late", nil)
	s.SetHumanRequest(errID, "anyone?")
	s.AppendStep(errID, step(1, StagePlanner, OutcomeSuccess))

	got, _ := s.Get(errID)
	if got.Status != StatusError || got.Error != "backend exploded" {
		t.Errorf("errored task mutated: %+v", got)
	}
	if len(got.Steps) != 0 {
		t.Errorf("steps grew on terminal task")
	}

	doneID := s.CreateTask("b", ModeResearch)
	s.CompleteTask(doneID, "fin", nil)
	s.SetError(doneID, "nope")
	got, _ = s.Get(doneID)
	if got.Status != StatusCompleted {
		t.Errorf("completed task moved to %q", got.Status)
	}
}

func TestStore_ConcurrentHumanPromptLatestWins(t *testing.T) {
	s := NewStore(nil)
	id := s.CreateTask("q", ModeResearch)

	s.SetHumanRequest(id, "first prompt")
	s.SetHumanRequest(id, "second prompt")

	got, _ := s.Get(id)
	if got.HumanRequest == nil || got.HumanRequest.Message != "second prompt" {
		t.Errorf("HumanRequest = %+v, want latest prompt", got.HumanRequest)
	}
}

func TestStore_ResumeTask(t *testing.T) {
	s := NewStore(nil)
	id := s.CreateTask("q", ModeResearch)

	s.ResumeTask(id) // not awaiting input; no-op
	got, _ := s.Get(id)
	if got.Status != StatusProcessing {
		t.Fatalf("Status = %q", got.Status)
	}

	s.SetHumanRequest(id, "which repo?")
	s.ResumeTask(id)
	got, _ = s.Get(id)
	if got.Status != StatusProcessing {
		t.Errorf("Status = %q, want processing after resume", got.Status)
	}
	if got.HumanRequest == nil {
		t.Error("HumanRequest dropped on resume; want retained")
	}
}

func TestStore_DerivedViews(t *testing.T) {
	s := NewStore(nil)

	active := s.CreateTask("active", ModeResearch)
	waiting := s.CreateTask("waiting", ModeResearch)
	done := s.CreateTask("done", ModeResearch)
	s.SetHumanRequest(waiting, "go on?")
	s.CompleteTask(done, "r", nil)

	if got := s.Active(); len(got) != 2 {
		t.Errorf("Active = %d tasks, want 2 (processing + human_in_loop)", len(got))
	}
	if got := s.Completed(); len(got) != 1 || got[0].ID != done {
		t.Errorf("Completed = %+v", got)
	}
	if got := s.AwaitingHuman(); len(got) != 1 || got[0].ID != waiting {
		t.Errorf("AwaitingHuman = %+v", got)
	}
	if got := s.AwaitingHumanCount(); got != 1 {
		t.Errorf("AwaitingHumanCount = %d, want 1", got)
	}
	_ = active
}

func TestStore_DeleteClearsFocus(t *testing.T) {
	s := NewStore(nil)
	id := s.CreateTask("q", ModeResearch)
	s.SetFocus(id)

	s.DeleteTask(id)
	if s.Focused() != "" {
		t.Errorf("Focused = %q, want cleared", s.Focused())
	}
	if _, ok := s.Get(id); ok {
		t.Error("task still present after delete")
	}
}

func TestStore_SubscribeNotifies(t *testing.T) {
	s := NewStore(nil)

	var calls int
	unsub := s.Subscribe(func() { calls++ })

	id := s.CreateTask("q", ModeResearch)
	s.AppendStep(id, step(1, StagePlanner, OutcomeSuccess))
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}

	unsub()
	s.DeleteTask(id)
	if calls != 2 {
		t.Errorf("calls after unsubscribe = %d, want 2", calls)
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore(nil)
	id := s.CreateTask("q", ModeResearch)
	s.AppendStep(id, step(1, StagePlanner, OutcomeSuccess))

	got, _ := s.Get(id)
	got.Steps[0].Action = "tampered"
	got.Query = "tampered"

	again, _ := s.Get(id)
	if again.Steps[0].Action == "tampered" || again.Query == "tampered" {
		t.Error("Get leaked internal state")
	}
}

func TestStore_Restore(t *testing.T) {
	s := NewStore(nil)
	s.Restore("fixed-id", "saved query", ModeQuick)

	got, ok := s.Get("fixed-id")
	if !ok || got.Status != StatusProcessing || got.Query != "saved query" {
		t.Fatalf("restored task = %+v", got)
	}

	// Restoring an existing id does not clobber it.
	s.AppendStep("fixed-id", step(1, StagePlanner, OutcomeSuccess))
	s.Restore("fixed-id", "other", ModeResearch)
	got, _ = s.Get("fixed-id")
	if got.Query != "saved query" || len(got.Steps) != 1 {
		t.Errorf("Restore clobbered existing task: %+v", got)
	}
}
