package agent

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianml/fleetkit/broker"
	fleeterrors "github.com/meridianml/fleetkit/errors"
	"github.com/meridianml/fleetkit/logging"
	"github.com/meridianml/fleetkit/message"
)

// Lifecycle errors.
var (
	// ErrAlreadyStarted indicates Start was called more than once. An agent
	// runs at most one lifecycle; construct a new one to run again.
	ErrAlreadyStarted = stderrors.New("agent already started")

	// ErrNilBroker indicates construction without a broker.
	ErrNilBroker = stderrors.New("nil broker")

	// ErrNilRegistry indicates construction without a registry.
	ErrNilRegistry = stderrors.New("nil registry")

	// ErrMissingAgentType indicates construction without an agent type.
	ErrMissingAgentType = stderrors.New("missing agent type")
)

// State is the lifecycle state of an agent runtime.
type State string

const (
	// StateCreated means the agent is constructed but not started.
	StateCreated State = "created"

	// StateInitializing means the startup hook is running.
	StateInitializing State = "initializing"

	// StateRunning means the task and heartbeat loops are active.
	StateRunning State = "running"

	// StateStopping means a stop was requested and loops are draining.
	StateStopping State = "stopping"

	// StateStopped means the agent has shut down. Terminal.
	StateStopped State = "stopped"

	// StateFailed means initialization failed. Terminal.
	StateFailed State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Hooks are optional lifecycle callbacks. OnStart runs before the loops
// launch; a non-nil error aborts startup and the agent enters the failed
// state. OnStop runs after the loops have drained.
type Hooks struct {
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

// Config holds agent runtime settings.
type Config struct {
	// AgentID uniquely identifies this instance. Generated from the agent
	// type when empty.
	AgentID string

	// AgentType selects the task queue this agent consumes.
	AgentType message.AgentType

	// PollTimeout bounds each blocking dequeue. Default 5s.
	PollTimeout time.Duration

	// HeartbeatInterval is the liveness tick period. Default 60s.
	HeartbeatInterval time.Duration

	// RetryDelay is the pause after a broker poll error. Default 5s.
	RetryDelay time.Duration

	// Hooks are optional lifecycle callbacks.
	Hooks Hooks

	// Logger receives runtime events. Defaults to a new logger.
	Logger *logging.Logger
}

// DefaultConfig returns a config with default timing values.
func DefaultConfig() Config {
	return Config{
		PollTimeout:       5 * time.Second,
		HeartbeatInterval: 60 * time.Second,
		RetryDelay:        5 * time.Second,
	}
}

func (c *Config) withDefaults() {
	if c.AgentID == "" {
		c.AgentID = fmt.Sprintf("%s-%s", c.AgentType, uuid.NewString()[:8])
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 60 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.New()
	}
}

// Agent is a single worker runtime bound to one queue. It is composed from
// a broker, a handler registry, and optional hooks. Safe for concurrent use.
type Agent struct {
	cfg      Config
	broker   broker.Broker
	registry *Registry
	logger   *logging.Logger

	mu             sync.Mutex
	state          State
	startTime      time.Time
	lastHeartbeat  time.Time
	tasksProcessed int64
	tasksFailed    int64

	// baseCtx is the context Start received. Handler invocations and
	// publications derive from it so Stop never cancels them mid-flight.
	baseCtx context.Context

	// pollCtx is cancelled on Stop to cut blocking dequeues short.
	pollCtx    context.Context
	cancelPoll context.CancelFunc

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an agent in the created state.
func New(cfg Config, b broker.Broker, reg *Registry) (*Agent, error) {
	if b == nil {
		return nil, ErrNilBroker
	}
	if reg == nil {
		return nil, ErrNilRegistry
	}
	if cfg.AgentType == "" {
		return nil, ErrMissingAgentType
	}
	cfg.withDefaults()

	return &Agent{
		cfg:      cfg,
		broker:   b,
		registry: reg,
		logger:   cfg.Logger.WithComponent(cfg.AgentID),
		state:    StateCreated,
		stopCh:   make(chan struct{}),
	}, nil
}

// ID returns the agent's unique instance identifier.
func (a *Agent) ID() string {
	return a.cfg.AgentID
}

// Type returns the agent type whose queue this agent consumes.
func (a *Agent) Type() message.AgentType {
	return a.cfg.AgentType
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start runs the startup hook, freezes the registry, and launches the task
// and heartbeat loops. An agent can be started at most once.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateCreated {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.state = StateInitializing
	a.mu.Unlock()

	if a.cfg.Hooks.OnStart != nil {
		if err := a.cfg.Hooks.OnStart(ctx); err != nil {
			a.mu.Lock()
			a.state = StateFailed
			a.mu.Unlock()
			return fleeterrors.Initialization("startup hook failed",
				fleeterrors.WithCause(err),
				fleeterrors.WithAgentID(a.cfg.AgentID))
		}
	}

	a.registry.freeze()

	a.mu.Lock()
	if a.state != StateInitializing {
		// Stopped while initializing; do not launch the loops.
		a.mu.Unlock()
		return nil
	}
	a.state = StateRunning
	a.startTime = time.Now()
	a.baseCtx = ctx
	a.pollCtx, a.cancelPoll = context.WithCancel(ctx)
	a.mu.Unlock()

	a.logger.Info("agent started", map[string]any{
		"agent_type": a.cfg.AgentType,
		"handlers":   a.registry.Len(),
	})

	a.wg.Add(2)
	go a.taskLoop()
	go a.heartbeatLoop()
	return nil
}

// Stop signals the loops to exit, waits for an in-flight handler to finish,
// runs the teardown hook, and transitions to stopped. Idempotent.
func (a *Agent) Stop() error {
	a.mu.Lock()
	switch a.state {
	case StateRunning:
	case StateStopping, StateStopped:
		a.mu.Unlock()
		return nil
	default:
		a.state = StateStopped
		a.mu.Unlock()
		return nil
	}
	a.state = StateStopping
	cancel := a.cancelPoll
	a.mu.Unlock()

	close(a.stopCh)
	cancel()
	a.wg.Wait()

	var hookErr error
	if a.cfg.Hooks.OnStop != nil {
		hookErr = a.cfg.Hooks.OnStop(context.Background())
		if hookErr != nil {
			a.logger.Error("teardown hook failed", map[string]any{"error": hookErr.Error()})
		}
	}

	a.mu.Lock()
	a.state = StateStopped
	a.mu.Unlock()

	a.logger.Info("agent stopped")
	return hookErr
}

// Health returns a snapshot of the agent's counters and heartbeat.
func (a *Agent) Health() message.HealthStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	var uptime float64
	if !a.startTime.IsZero() {
		uptime = time.Since(a.startTime).Seconds()
	}
	processed := a.tasksProcessed
	if processed < 1 {
		processed = 1
	}
	return message.HealthStatus{
		AgentID:        a.cfg.AgentID,
		UptimeSeconds:  uptime,
		TasksProcessed: a.tasksProcessed,
		TasksFailed:    a.tasksFailed,
		ErrorRate:      float64(a.tasksFailed) / float64(processed),
		LastHeartbeat:  a.lastHeartbeat,
	}
}

// taskLoop dequeues and executes tasks until stopped. A broker poll error
// raises an alert and backs off; it never ends the loop.
func (a *Agent) taskLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.stopCh:
			return
		default:
		}

		task, err := a.broker.DequeueTask(a.pollCtx, a.cfg.AgentType, a.cfg.PollTimeout)
		if err != nil {
			if stderrors.Is(err, broker.ErrClosed) || a.pollCtx.Err() != nil {
				return
			}
			a.logger.BrokerError("dequeue", err)
			a.raiseAlert(message.SeverityError, fmt.Sprintf("task poll failed: %v", err), nil)

			select {
			case <-a.stopCh:
				return
			case <-time.After(a.cfg.RetryDelay):
			}
			continue
		}
		if task == nil {
			continue
		}
		a.execute(task)
	}
}

// heartbeatLoop records liveness on a fixed interval, starting immediately.
func (a *Agent) heartbeatLoop() {
	defer a.wg.Done()

	a.beat()
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.beat()
		}
	}
}

func (a *Agent) beat() {
	if err := a.broker.Heartbeat(a.baseCtx, a.cfg.AgentID); err != nil {
		if stderrors.Is(err, broker.ErrClosed) || a.baseCtx.Err() != nil {
			return
		}
		a.logger.HeartbeatError(err)
		return
	}
	a.mu.Lock()
	a.lastHeartbeat = time.Now().UTC()
	a.mu.Unlock()
}

// execute dispatches one task and publishes exactly one result for it.
func (a *Agent) execute(task *message.Task) {
	a.logger.TaskStart(task.ID, task.Type)

	handler, ok := a.registry.Lookup(task.Type)
	if !ok {
		err := fleeterrors.HandlerNotFound(task.Type,
			fleeterrors.WithTaskID(task.ID),
			fleeterrors.WithAgentID(a.cfg.AgentID))
		a.finishFailed(task, 0, err)
		return
	}

	_ = task.Transition(message.StatusRunning)

	collector := &alertCollector{}
	hctx := WithAlerter(a.baseCtx, collector)

	start := time.Now()
	output, err := invoke(hctx, handler, task.Parameters)
	elapsed := time.Since(start)

	for _, alert := range collector.drain(a.cfg.AgentID) {
		if perr := a.broker.PublishAlert(a.baseCtx, alert); perr != nil {
			a.logger.BrokerError("publish alert", perr)
		}
	}

	if err != nil {
		a.finishFailed(task, elapsed, err)
		return
	}
	a.finishSucceeded(task, elapsed, output)
}

// invoke runs the handler, converting a panic into an ordinary error so one
// bad task cannot take the whole runtime down.
func invoke(ctx context.Context, h Handler, params map[string]any) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, params)
}

func (a *Agent) finishSucceeded(task *message.Task, elapsed time.Duration, output any) {
	var raw json.RawMessage
	if output != nil {
		data, err := json.Marshal(output)
		if err != nil {
			a.finishFailed(task, elapsed, fmt.Errorf("marshal handler output: %w", err))
			return
		}
		raw = data
	}

	a.publishResult(&message.Result{
		TaskID:      task.ID,
		AgentID:     a.cfg.AgentID,
		Status:      message.StatusSucceeded,
		Output:      raw,
		DurationMS:  elapsed.Milliseconds(),
		CompletedAt: time.Now().UTC(),
	})

	a.mu.Lock()
	a.tasksProcessed++
	a.mu.Unlock()

	a.logger.TaskComplete(task.ID, elapsed)
}

func (a *Agent) finishFailed(task *message.Task, elapsed time.Duration, taskErr error) {
	// Failures of critical tasks are broadcast before the result lands.
	if task.Priority == message.PriorityCritical {
		a.raiseAlert(message.SeverityCritical,
			fmt.Sprintf("critical task %s failed: %v", task.ID, taskErr),
			map[string]any{"task_id": task.ID, "task_type": task.Type})
	}

	a.publishResult(&message.Result{
		TaskID:      task.ID,
		AgentID:     a.cfg.AgentID,
		Status:      message.StatusFailed,
		Error:       taskErr.Error(),
		DurationMS:  elapsed.Milliseconds(),
		CompletedAt: time.Now().UTC(),
	})

	a.mu.Lock()
	a.tasksProcessed++
	a.tasksFailed++
	a.mu.Unlock()

	a.logger.TaskFailed(task.ID, elapsed, taskErr)
}

func (a *Agent) publishResult(result *message.Result) {
	if err := a.broker.PublishResult(a.baseCtx, result); err != nil {
		a.logger.BrokerError("publish result", err)
	}
}

func (a *Agent) raiseAlert(severity message.Severity, msg string, ctx map[string]any) {
	alert := message.NewAlert(a.cfg.AgentID, severity, msg, ctx)
	if err := a.broker.PublishAlert(a.baseCtx, alert); err != nil {
		a.logger.BrokerError("publish alert", err)
	}
}
