package message

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidResult indicates a result missing required fields.
var ErrInvalidResult = errors.New("invalid result")

// Result is the outcome record produced for exactly one task.
// Created once by the agent that executed the task, immutable thereafter.
type Result struct {
	// TaskID references the task this result belongs to.
	TaskID string `json:"task_id"`

	// AgentID identifies the agent instance that executed the task.
	AgentID string `json:"agent_id"`

	// Status is the terminal state: succeeded, failed, or cancelled.
	Status TaskStatus `json:"status"`

	// Output is the handler's structured output. Absent for failures.
	Output json.RawMessage `json:"output,omitempty"`

	// Error is the failure description when Status is failed.
	Error string `json:"error_message,omitempty"`

	// DurationMS is the handler execution time in milliseconds.
	DurationMS int64 `json:"duration_ms"`

	// CompletedAt is when the agent finished the task.
	CompletedAt time.Time `json:"completed_at"`
}

// Succeeded returns true if the result reports success.
func (r *Result) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// Validate checks that the result carries the required fields.
func (r *Result) Validate() error {
	if r.TaskID == "" {
		return ErrMissingTaskID
	}
	if !r.Status.IsTerminal() {
		return ErrInvalidResult
	}
	if r.DurationMS < 0 {
		return ErrInvalidResult
	}
	return nil
}

// Clone returns a deep copy of the result.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Output != nil {
		clone.Output = make(json.RawMessage, len(r.Output))
		copy(clone.Output, r.Output)
	}
	return &clone
}

// Marshal serializes the result to JSON.
func (r *Result) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalResult deserializes a result from JSON.
func UnmarshalResult(data []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
