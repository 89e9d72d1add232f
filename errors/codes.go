package errors

// Category classifies errors by retry semantics.
type Category string

const (
	// CategoryTransient indicates failures where retry may succeed.
	// Example: the broker transport is temporarily unreachable.
	CategoryTransient Category = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Example: no handler is registered for a task type.
	CategoryPermanent Category = "permanent"

	// CategoryFatal indicates failures that end the agent instance.
	// Example: the setup hook failed during initialization.
	CategoryFatal Category = "fatal"
)

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c Category) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies the specific failure type.
type ErrorCode string

const (
	// CodeBrokerUnavailable indicates the broker transport cannot be reached.
	CodeBrokerUnavailable ErrorCode = "BROKER_UNAVAILABLE"

	// CodeHandlerNotFound indicates no handler is registered for a task type.
	CodeHandlerNotFound ErrorCode = "HANDLER_NOT_FOUND"

	// CodeHandlerError indicates a handler returned or raised a failure.
	CodeHandlerError ErrorCode = "HANDLER_ERROR"

	// CodeInitialization indicates the agent setup hook failed.
	CodeInitialization ErrorCode = "INITIALIZATION_ERROR"

	// CodeTimeout indicates a bounded wait expired.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeInternal indicates an unexpected internal failure.
	CodeInternal ErrorCode = "INTERNAL"
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() Category {
	switch c {
	case CodeBrokerUnavailable, CodeTimeout:
		return CategoryTransient
	case CodeHandlerNotFound, CodeHandlerError:
		return CategoryPermanent
	case CodeInitialization:
		return CategoryFatal
	default:
		return CategoryPermanent
	}
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	CodeBrokerUnavailable: "broker transport unavailable",
	CodeHandlerNotFound:   "no handler registered for task type",
	CodeHandlerError:      "handler execution failed",
	CodeInitialization:    "agent initialization failed",
	CodeTimeout:           "operation timed out",
	CodeInternal:          "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
