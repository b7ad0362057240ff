// Package stream defines the wire protocol spoken over a task's streaming
// connection: the discriminated inbound progress messages and the outbound
// initiation and human-response payloads.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/GoCodeAlone/taskstream/task"
)

// MessageType discriminates inbound stream messages.
type MessageType string

const (
	TypeStep        MessageType = "step"          // one execution step of progress
	TypeHumanInLoop MessageType = "human_in_loop" // backend is waiting on human input
	TypeComplete    MessageType = "complete"      // task finished with a report
	TypeError       MessageType = "error"         // task failed

	// TypeHumanResponse is outbound only: the human's reply to a prompt.
	TypeHumanResponse MessageType = "human_response"
)

// Message is the envelope for every inbound stream message.
type Message struct {
	Type   MessageType     `json:"type"`
	TaskID string          `json:"task_id"`
	Data   json.RawMessage `json:"data"`
}

// HumanInLoopData is the payload of a human_in_loop message.
type HumanInLoopData struct {
	Message string `json:"message"`
}

// CompleteData is the payload of a complete message.
type CompleteData struct {
	Report   string         `json:"report"`
	Metadata *task.Metadata `json:"metadata,omitempty"`
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Message string `json:"message"`
}

// InitRequest is the one-shot initiation payload that starts a task on the
// backend. It must be sent at most once per task id (see pool.Guard).
type InitRequest struct {
	Query            string  `json:"query"`
	FilterDatasource *string `json:"filter_datasource,omitempty"`
	UseCache         *bool   `json:"use_cache,omitempty"`
	LayoutSnapshot   []any   `json:"layout_snapshot,omitempty"`
}

// HumanResponse is the outbound reply to a human_in_loop prompt.
type HumanResponse struct {
	Type   MessageType       `json:"type"`
	TaskID string            `json:"task_id"`
	Data   HumanResponseData `json:"data"`
}

// HumanResponseData carries the human's answer.
type HumanResponseData struct {
	Response string `json:"response"`
}

// NewHumanResponse builds an outbound human response for taskID.
func NewHumanResponse(taskID, response string) HumanResponse {
	return HumanResponse{
		Type:   TypeHumanResponse,
		TaskID: taskID,
		Data:   HumanResponseData{Response: response},
	}
}

// ProtocolError reports a malformed or mismatched inbound message. Such
// messages are dropped locally and logged, never surfaced to the user.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation: %s", e.Reason)
}

// Decode parses raw into a Message and validates it against the connection's
// own task ID. A message for a different task, an unknown type, or malformed
// JSON yields a *ProtocolError.
func Decode(raw []byte, wantTaskID string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed message: %v", err)}
	}
	switch msg.Type {
	case TypeStep, TypeHumanInLoop, TypeComplete, TypeError:
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown message type %q", msg.Type)}
	}
	if msg.TaskID != wantTaskID {
		return nil, &ProtocolError{Reason: fmt.Sprintf("task id %q does not match connection %q", msg.TaskID, wantTaskID)}
	}
	return &msg, nil
}

// Step decodes the payload of a step message.
func (m *Message) Step() (task.ExecutionStep, error) {
	var s task.ExecutionStep
	if err := json.Unmarshal(m.Data, &s); err != nil {
		return s, &ProtocolError{Reason: fmt.Sprintf("malformed step data: %v", err)}
	}
	return s, nil
}

// HumanInLoop decodes the payload of a human_in_loop message.
func (m *Message) HumanInLoop() (HumanInLoopData, error) {
	var d HumanInLoopData
	if err := json.Unmarshal(m.Data, &d); err != nil {
		return d, &ProtocolError{Reason: fmt.Sprintf("malformed human_in_loop data: %v", err)}
	}
	return d, nil
}

// Complete decodes the payload of a complete message.
func (m *Message) Complete() (CompleteData, error) {
	var d CompleteData
	if err := json.Unmarshal(m.Data, &d); err != nil {
		return d, &ProtocolError{Reason: fmt.Sprintf("malformed complete data: %v", err)}
	}
	return d, nil
}

// Err decodes the payload of an error message.
func (m *Message) Err() (ErrorData, error) {
	var d ErrorData
	if err := json.Unmarshal(m.Data, &d); err != nil {
		return d, &ProtocolError{Reason: fmt.Sprintf("malformed error data: %v", err)}
	}
	return d, nil
}
