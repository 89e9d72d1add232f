// Package shutdown coordinates graceful teardown of a fleet process.
//
// Components register in phases and the Coordinator drains them in phase
// order: agents first so no new tasks are picked up, monitors next, the
// broker connection last. Handlers within one phase stop concurrently.
// Shutdown runs at most once per Coordinator; later calls return the first
// run's error.
package shutdown

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	// ErrTimeout indicates shutdown did not complete within its deadline.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates at least one handler returned an error.
	ErrHandlerFailed = errors.New("shutdown handler failed")
)

// Standard phases, drained in ascending order. Any int is a valid phase;
// these cover the usual fleet process layout.
const (
	// PhaseAgents stops task consumption.
	PhaseAgents = 0

	// PhaseMonitors stops liveness polling.
	PhaseMonitors = 100

	// PhaseBroker closes the broker connection.
	PhaseBroker = 200
)

// Handler is implemented by components that need orderly teardown. The
// context carries the shutdown deadline; implementations should stop
// accepting work, let in-flight work finish, and release resources.
type Handler interface {
	OnShutdown(ctx context.Context) error
}

// Func adapts a plain function to Handler.
type Func func(ctx context.Context) error

// OnShutdown implements Handler.
func (f Func) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// Result records one handler's teardown outcome.
type Result struct {
	// Name the handler was registered under.
	Name string

	// Phase the handler ran in.
	Phase int

	// Duration the handler took.
	Duration time.Duration

	// Err is the handler's error, if any.
	Err error
}

type registration struct {
	name    string
	phase   int
	handler Handler
}
