package errors

import (
	stderrors "errors"
	"encoding/json"
	"fmt"
	"time"
)

// Re-exported stdlib helpers so callers need only one errors import.
var (
	Is = stderrors.Is
	As = stderrors.As
)

// Error is a structured error with broker/agent context.
type Error struct {
	code      ErrorCode
	category  Category
	message   string
	cause     error
	timestamp time.Time
	agentID   string
	taskID    string
}

var (
	_ error            = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() Category {
	return e.category
}

// Retryable returns whether the operation may succeed on retry.
func (e *Error) Retryable() bool {
	return e.category.IsRetryable()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// AgentID returns the source agent ID, if set.
func (e *Error) AgentID() string {
	return e.agentID
}

// TaskID returns the related task ID, if set.
func (e *Error) TaskID() string {
	return e.taskID
}

// errorJSON is the JSON representation of an Error.
type errorJSON struct {
	Code      ErrorCode `json:"code"`
	Category  Category  `json:"category"`
	Message   string    `json:"message"`
	Cause     string    `json:"cause,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp string    `json:"timestamp,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:      e.code,
		Category:  e.category,
		Message:   e.message,
		Retryable: e.Retryable(),
		AgentID:   e.agentID,
		TaskID:    e.taskID,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.agentID = j.AgentID
	e.taskID = j.TaskID
	if j.Cause != "" {
		e.cause = stderrors.New(j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// WithAgentID sets the source agent ID.
func WithAgentID(id string) Option {
	return func(e *Error) {
		e.agentID = id
	}
}

// WithTaskID sets the related task ID.
func WithTaskID(id string) Option {
	return func(e *Error) {
		e.taskID = id
	}
}

// WithCategory overrides the default category for the code.
func WithCategory(cat Category) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// BrokerUnavailable creates a transient broker-unreachable error.
func BrokerUnavailable(message string, opts ...Option) *Error {
	return New(CodeBrokerUnavailable, message, opts...)
}

// HandlerNotFound creates an unknown-task-type error.
func HandlerNotFound(taskType string, opts ...Option) *Error {
	return New(CodeHandlerNotFound,
		fmt.Sprintf("no handler registered for task type %q", taskType), opts...)
}

// HandlerError wraps a failure returned by a task handler.
func HandlerError(taskID string, cause error, opts ...Option) *Error {
	opts = append([]Option{WithTaskID(taskID), WithCause(cause)}, opts...)
	return New(CodeHandlerError, "handler execution failed", opts...)
}

// Initialization creates a fatal setup-hook error.
func Initialization(message string, opts ...Option) *Error {
	return New(CodeInitialization, message, opts...)
}

// Timeout creates a bounded-wait-expired error.
func Timeout(message string, opts ...Option) *Error {
	return New(CodeTimeout, message, opts...)
}

// Internal creates an unexpected internal error.
func Internal(message string, opts ...Option) *Error {
	return New(CodeInternal, message, opts...)
}

// IsRetryable reports whether err (or anything it wraps) is a retryable
// structured error. Plain errors are not retryable.
func IsRetryable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// CodeOf returns the error code of err, or CodeInternal for plain errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code()
	}
	return CodeInternal
}
