package stream

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/GoCodeAlone/taskstream/task"
)

func TestDecode_Step(t *testing.T) {
	raw := []byte(`{"type":"step","task_id":"t1","data":{"id":3,"stage":"retriever","action":"fetching sources","outcome":"in_progress","timestamp":"2026-08-01T12:00:00Z"}}`)

	msg, err := Decode(raw, "t1")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != TypeStep {
		t.Errorf("Type = %q", msg.Type)
	}

	step, err := msg.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if step.ID != 3 || step.Stage != task.StageRetriever || step.Outcome != task.OutcomeInProgress {
		t.Errorf("step = %+v", step)
	}
}

func TestDecode_Complete(t *testing.T) {
	raw := []byte(`{"type":"complete","task_id":"t1","data":{"report":"all done","metadata":{"thread_id":"th-9","step_counts":{"planner":1}}}}`)

	msg, err := Decode(raw, "t1")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	d, err := msg.Complete()
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if d.Report != "all done" {
		t.Errorf("Report = %q", d.Report)
	}
	if d.Metadata == nil || d.Metadata.ThreadID != "th-9" || d.Metadata.StepCounts["planner"] != 1 {
		t.Errorf("Metadata = %+v", d.Metadata)
	}
}

func TestDecode_HumanInLoopAndError(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"human_in_loop","task_id":"t1","data":{"message":"confirm scope?"}}`), "t1")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	h, err := msg.HumanInLoop()
	if err != nil || h.Message != "confirm scope?" {
		t.Errorf("HumanInLoop = %+v, err %v", h, err)
	}

	msg, err = Decode([]byte(`{"type":"error","task_id":"t1","data":{"message":"boom"}}`), "t1")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	e, err := msg.Err()
	if err != nil || e.Message != "boom" {
		t.Errorf("Err = %+v, err %v", e, err)
	}
}

func TestDecode_TaskIDMismatch(t *testing.T) {
	raw := []byte(`{"type":"step","task_id":"other","data":{}}`)
	_, err := Decode(raw, "t1")
	if err == nil {
		t.Fatal("Decode accepted a mismatched task id")
	}
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Errorf("err = %T, want *ProtocolError", err)
	}
}

func TestDecode_UnknownTypeAndMalformed(t *testing.T) {
	var perr *ProtocolError

	_, err := Decode([]byte(`{"type":"human_response","task_id":"t1","data":{}}`), "t1")
	if !errors.As(err, &perr) {
		t.Errorf("outbound-only type: err = %v, want *ProtocolError", err)
	}

	_, err = Decode([]byte(`{"type":"spam","task_id":"t1"}`), "t1")
	if !errors.As(err, &perr) {
		t.Errorf("unknown type: err = %v, want *ProtocolError", err)
	}

	_, err = Decode([]byte(`{not json`), "t1")
	if !errors.As(err, &perr) {
		t.Errorf("malformed: err = %v, want *ProtocolError", err)
	}
}

func TestNewHumanResponse(t *testing.T) {
	resp := NewHumanResponse("t1", "yes, proceed")
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["type"] != "human_response" || decoded["task_id"] != "t1" {
		t.Errorf("envelope = %v", decoded)
	}
	inner, _ := decoded["data"].(map[string]any)
	if inner["response"] != "yes, proceed" {
		t.Errorf("data = %v", inner)
	}
}

func TestInitRequest_OmitsUnsetFields(t *testing.T) {
	data, err := json.Marshal(InitRequest{Query: "q"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"query":"q"}` {
		t.Errorf("payload = %s, want only query", data)
	}
}
