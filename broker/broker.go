package broker

import (
	"context"
	"errors"
	"time"

	"github.com/meridianml/fleetkit/message"
)

// Common errors.
var (
	// ErrUnavailable indicates the underlying transport cannot be reached.
	// Retryable; callers own the backoff policy.
	ErrUnavailable = errors.New("broker unavailable")

	// ErrClosed indicates the broker has been closed.
	ErrClosed = errors.New("broker closed")

	// ErrNoHeartbeat indicates no heartbeat record exists for the agent.
	ErrNoHeartbeat = errors.New("no heartbeat recorded")

	// ErrInvalidTask indicates the task failed validation before enqueue.
	ErrInvalidTask = errors.New("invalid task")
)

// Broker is the shared message-exchange substrate. All cross-agent state
// flows through this narrow operation set; every mutation is atomic per key.
type Broker interface {
	// EnqueueTask appends a task to the queue for its agent type.
	// Returns once the broker acknowledges persistence.
	EnqueueTask(ctx context.Context, task *message.Task) error

	// DequeueTask blocks up to timeout for the next task in the agent
	// type's queue. Returns (nil, nil) on timeout. FIFO within one queue;
	// two concurrent callers never receive the same task.
	DequeueTask(ctx context.Context, agentType message.AgentType, timeout time.Duration) (*message.Task, error)

	// PublishResult stores a result keyed by task ID with bounded
	// retention. Idempotent: re-publishing overwrites.
	PublishResult(ctx context.Context, result *message.Result) error

	// GetResult blocks up to timeout for the result of a task.
	// Returns (nil, nil) if no result appears before the timeout.
	GetResult(ctx context.Context, taskID string, timeout time.Duration) (*message.Result, error)

	// PublishAlert broadcasts an alert to all active subscribers.
	// Fire-and-forget: no acknowledgment, no history.
	PublishAlert(ctx context.Context, alert *message.Alert) error

	// SubscribeAlerts creates a subscription receiving alerts published
	// after the subscription is established.
	SubscribeAlerts() (AlertSubscription, error)

	// Heartbeat records now as the last-seen time for agentID,
	// overwriting any previous value.
	Heartbeat(ctx context.Context, agentID string) error

	// GetHeartbeat returns the last recorded heartbeat time for agentID.
	// Returns ErrNoHeartbeat if none exists.
	GetHeartbeat(ctx context.Context, agentID string) (time.Time, error)

	// QueueDepth returns the number of pending tasks for an agent type.
	// Advisory: may be stale by the time the caller acts on it.
	QueueDepth(ctx context.Context, agentType message.AgentType) (int64, error)

	// ClearQueue removes all pending tasks for an agent type.
	ClearQueue(ctx context.Context, agentType message.AgentType) error

	// Ping verifies the transport is reachable.
	Ping(ctx context.Context) error

	// Close releases the broker connection. Blocked waits return.
	Close() error
}

// AlertSubscription is an active alert subscription.
type AlertSubscription interface {
	// Alerts returns the channel for incoming alerts.
	// Closed when the subscription ends.
	Alerts() <-chan *message.Alert

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds common broker configuration.
type Config struct {
	// ResultTTL is the retention window for published results.
	// Default: 1 hour
	ResultTTL time.Duration

	// AlertBuffer is the channel buffer size for alert subscriptions.
	// Alerts are dropped for a subscriber whose buffer is full.
	// Default: 256
	AlertBuffer int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ResultTTL:   time.Hour,
		AlertBuffer: 256,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ResultTTL <= 0 {
		c.ResultTTL = def.ResultTTL
	}
	if c.AlertBuffer <= 0 {
		c.AlertBuffer = def.AlertBuffer
	}
	return c
}
