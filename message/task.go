package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors.
var (
	// ErrMissingTaskID indicates the task has no identifier.
	ErrMissingTaskID = errors.New("missing task ID")

	// ErrMissingAgentType indicates the task has no target agent type.
	ErrMissingAgentType = errors.New("missing agent type")

	// ErrMissingTaskType indicates the task has no task type.
	ErrMissingTaskType = errors.New("missing task type")

	// ErrInvalidTransition indicates a backward or unknown status transition.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// AgentType identifies the kind of agent a task is addressed to.
// One logical queue exists per agent type.
type AgentType string

// Well-known agent types. The set is open; deployments may define more.
const (
	AgentOrchestrator    AgentType = "orchestrator"
	AgentDataQuality     AgentType = "data_quality"
	AgentModelMonitor    AgentType = "model_monitor"
	AgentFeatureEngineer AgentType = "feature_engineer"
	AgentExplainer       AgentType = "explainer"
)

// String returns the string representation of the agent type.
func (a AgentType) String() string {
	return string(a)
}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// StatusPending indicates the task is waiting in a queue.
	StatusPending TaskStatus = "pending"

	// StatusRunning indicates an agent has dequeued the task.
	StatusRunning TaskStatus = "running"

	// StatusSucceeded indicates the handler completed successfully.
	StatusSucceeded TaskStatus = "succeeded"

	// StatusFailed indicates the handler failed or was never found.
	StatusFailed TaskStatus = "failed"

	// StatusCancelled indicates the task was cancelled before completion.
	StatusCancelled TaskStatus = "cancelled"
)

// String returns the string representation of the status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the status is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether moving from s to next is a legal
// forward-only transition.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusSucceeded || next == StatusFailed || next == StatusCancelled
	default:
		return false
	}
}

// Priority indicates the urgency a producer assigns to a task.
// Advisory metadata only: queues remain FIFO and do not reorder by priority.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	return string(p)
}

// Task is a unit of work addressed to an agent type.
type Task struct {
	// ID uniquely identifies the task. Immutable after creation.
	ID string `json:"task_id"`

	// AgentType selects the queue the task is enqueued to.
	AgentType AgentType `json:"agent_type"`

	// Type selects the handler the consuming agent dispatches to.
	Type string `json:"task_type"`

	// Priority is advisory routing metadata for producers and monitors.
	Priority Priority `json:"priority"`

	// Parameters are passed verbatim to the handler.
	Parameters map[string]any `json:"parameters,omitempty"`

	// CreatedAt is when the producer created the task.
	CreatedAt time.Time `json:"created_at"`

	// Status is the current lifecycle state. Transitions only forward.
	Status TaskStatus `json:"status"`
}

// NewTask creates a pending task with a generated ID and normal priority.
func NewTask(agentType AgentType, taskType string, params map[string]any) *Task {
	return &Task{
		ID:         uuid.NewString(),
		AgentType:  agentType,
		Type:       taskType,
		Priority:   PriorityNormal,
		Parameters: params,
		CreatedAt:  time.Now().UTC(),
		Status:     StatusPending,
	}
}

// Validate checks that the task carries the required fields.
func (t *Task) Validate() error {
	if t.ID == "" {
		return ErrMissingTaskID
	}
	if t.AgentType == "" {
		return ErrMissingAgentType
	}
	if t.Type == "" {
		return ErrMissingTaskType
	}
	return nil
}

// Transition moves the task to next, enforcing forward-only ordering.
func (t *Task) Transition(next TaskStatus) error {
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	return nil
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	clone := *t
	if t.Parameters != nil {
		clone.Parameters = make(map[string]any, len(t.Parameters))
		for k, v := range t.Parameters {
			clone.Parameters[k] = v
		}
	}
	return &clone
}

// Marshal serializes the task to JSON.
func (t *Task) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalTask deserializes a task from JSON.
func UnmarshalTask(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
