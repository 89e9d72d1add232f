package agent

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Registry errors.
var (
	// ErrDuplicateHandler indicates a task type was registered twice.
	ErrDuplicateHandler = errors.New("handler already registered")

	// ErrNilHandler indicates a nil handler was registered.
	ErrNilHandler = errors.New("nil handler")

	// ErrEmptyTaskType indicates registration with an empty task type.
	ErrEmptyTaskType = errors.New("empty task type")

	// ErrRegistryFrozen indicates registration after the agent started.
	ErrRegistryFrozen = errors.New("registry frozen")
)

// Handler executes the business logic for one task type. It receives the
// task's parameters and returns a JSON-serializable output value. A non-nil
// error marks the task failed; the runtime reports it and keeps running.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Registry maps task types to handlers. Register during setup; once the
// owning agent starts, the registry freezes and further registrations fail.
// Lookup is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	frozen   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a task type.
func (r *Registry) Register(taskType string, h Handler) error {
	if taskType == "" {
		return ErrEmptyTaskType
	}
	if h == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, exists := r.handlers[taskType]; exists {
		return ErrDuplicateHandler
	}
	r.handlers[taskType] = h
	return nil
}

// Lookup returns the handler bound to taskType, if any.
func (r *Registry) Lookup(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Types returns the registered task types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// freeze makes the registry read-only. Called by the agent on Start.
func (r *Registry) freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}
