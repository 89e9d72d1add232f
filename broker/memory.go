package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meridianml/fleetkit/message"
)

// MemoryBroker implements Broker using in-process storage.
// Useful for testing and single-process fleets.
type MemoryBroker struct {
	config Config

	mu         sync.Mutex
	queues     map[message.AgentType]*memoryQueue
	results    map[string]*resultEntry
	resultSubs map[string][]chan *message.Result
	heartbeats map[string]time.Time
	alertSubs  []*memoryAlertSub

	closed atomic.Bool
	done   chan struct{}
}

type memoryQueue struct {
	items   []*message.Task
	waiters []chan *message.Task
}

type resultEntry struct {
	result    *message.Result
	expiresAt time.Time
}

type memoryAlertSub struct {
	ch     chan *message.Alert
	closed atomic.Bool
	broker *MemoryBroker
}

// NewMemoryBroker creates a new in-memory broker.
func NewMemoryBroker(cfg Config) *MemoryBroker {
	b := &MemoryBroker{
		config:     cfg.withDefaults(),
		queues:     make(map[message.AgentType]*memoryQueue),
		results:    make(map[string]*resultEntry),
		resultSubs: make(map[string][]chan *message.Result),
		heartbeats: make(map[string]time.Time),
		done:       make(chan struct{}),
	}
	go b.sweepExpired()
	return b
}

// EnqueueTask appends a task to its agent type's queue, or hands it
// directly to the longest-waiting dequeuer.
func (b *MemoryBroker) EnqueueTask(ctx context.Context, task *message.Task) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(task.AgentType)
	for len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		select {
		case w <- task.Clone():
			return nil
		default:
			// Waiter gave up between registering and now; try the next.
		}
	}
	q.items = append(q.items, task.Clone())
	return nil
}

// DequeueTask blocks up to timeout for the next task in the queue.
func (b *MemoryBroker) DequeueTask(ctx context.Context, agentType message.AgentType, timeout time.Duration) (*message.Task, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.Lock()
	q := b.queue(agentType)
	if len(q.items) > 0 {
		task := q.items[0]
		q.items = q.items[1:]
		b.mu.Unlock()
		return task, nil
	}

	// Queue is empty: register as a waiter and block.
	w := make(chan *message.Task, 1)
	q.waiters = append(q.waiters, w)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case task := <-w:
		return task, nil
	case <-timer.C:
	case <-ctx.Done():
	case <-b.done:
	}

	// Timed out or cancelled. Deregister, but an enqueue may have handed
	// us a task concurrently; if so, deliver it rather than lose it.
	b.mu.Lock()
	b.removeWaiter(agentType, w)
	b.mu.Unlock()

	select {
	case task := <-w:
		return task, nil
	default:
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}
	return nil, nil
}

// removeWaiter deletes a waiter channel from the queue. Caller holds b.mu.
func (b *MemoryBroker) removeWaiter(agentType message.AgentType, target chan *message.Task) {
	q := b.queue(agentType)
	for i, w := range q.waiters {
		if w == target {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}

// PublishResult stores a result and wakes any GetResult waiters.
func (b *MemoryBroker) PublishResult(ctx context.Context, result *message.Result) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := result.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	b.results[result.TaskID] = &resultEntry{
		result:    result.Clone(),
		expiresAt: time.Now().Add(b.config.ResultTTL),
	}
	subs := b.resultSubs[result.TaskID]
	delete(b.resultSubs, result.TaskID)
	b.mu.Unlock()

	for _, ch := range subs {
		ch <- result.Clone()
		close(ch)
	}
	return nil
}

// GetResult blocks up to timeout for a task's result.
func (b *MemoryBroker) GetResult(ctx context.Context, taskID string, timeout time.Duration) (*message.Result, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.Lock()
	if e, ok := b.results[taskID]; ok && time.Now().Before(e.expiresAt) {
		b.mu.Unlock()
		return e.result.Clone(), nil
	}
	ch := make(chan *message.Result, 1)
	b.resultSubs[taskID] = append(b.resultSubs[taskID], ch)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r, nil
	case <-timer.C:
	case <-ctx.Done():
	case <-b.done:
	}

	b.mu.Lock()
	subs := b.resultSubs[taskID]
	for i, c := range subs {
		if c == ch {
			b.resultSubs[taskID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	select {
	case r := <-ch:
		return r, nil
	default:
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}
	return nil, nil
}

// PublishAlert delivers the alert to every active subscriber.
func (b *MemoryBroker) PublishAlert(ctx context.Context, alert *message.Alert) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := alert.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.alertSubs {
		select {
		case sub.ch <- alert:
		default:
			// Buffer full, drop for this subscriber.
		}
	}
	return nil
}

// SubscribeAlerts creates a new alert subscription.
func (b *MemoryBroker) SubscribeAlerts() (AlertSubscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memoryAlertSub{
		ch:     make(chan *message.Alert, b.config.AlertBuffer),
		broker: b,
	}

	b.mu.Lock()
	b.alertSubs = append(b.alertSubs, sub)
	b.mu.Unlock()

	return sub, nil
}

// Heartbeat records now as agentID's last-seen time.
func (b *MemoryBroker) Heartbeat(ctx context.Context, agentID string) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	b.heartbeats[agentID] = time.Now()
	b.mu.Unlock()
	return nil
}

// GetHeartbeat returns the last recorded heartbeat for agentID.
func (b *MemoryBroker) GetHeartbeat(ctx context.Context, agentID string) (time.Time, error) {
	if b.closed.Load() {
		return time.Time{}, ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.heartbeats[agentID]
	if !ok {
		return time.Time{}, ErrNoHeartbeat
	}
	return t, nil
}

// QueueDepth returns the number of pending tasks for an agent type.
func (b *MemoryBroker) QueueDepth(ctx context.Context, agentType message.AgentType) (int64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.queue(agentType).items)), nil
}

// ClearQueue drops all pending tasks for an agent type.
func (b *MemoryBroker) ClearQueue(ctx context.Context, agentType message.AgentType) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	b.queue(agentType).items = nil
	b.mu.Unlock()
	return nil
}

// Ping verifies the broker is open.
func (b *MemoryBroker) Ping(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close shuts down the broker and wakes all blocked waits.
func (b *MemoryBroker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	close(b.done)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.alertSubs {
		if !sub.closed.Swap(true) {
			close(sub.ch)
		}
	}
	b.alertSubs = nil
	return nil
}

// queue returns the queue for an agent type, creating it if needed.
// Caller holds b.mu.
func (b *MemoryBroker) queue(agentType message.AgentType) *memoryQueue {
	q, ok := b.queues[agentType]
	if !ok {
		q = &memoryQueue{}
		b.queues[agentType] = q
	}
	return q
}

// sweepExpired evicts results past their retention window.
func (b *MemoryBroker) sweepExpired() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			now := time.Now()
			b.mu.Lock()
			for id, e := range b.results {
				if now.After(e.expiresAt) {
					delete(b.results, id)
				}
			}
			b.mu.Unlock()
		}
	}
}

// Alerts returns the subscription's alert channel.
func (s *memoryAlertSub) Alerts() <-chan *message.Alert {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memoryAlertSub) Unsubscribe() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.broker.mu.Lock()
	for i, sub := range s.broker.alertSubs {
		if sub == s {
			s.broker.alertSubs = append(s.broker.alertSubs[:i], s.broker.alertSubs[i+1:]...)
			break
		}
	}
	// Close under the lock so a concurrent publish cannot send after close.
	close(s.ch)
	s.broker.mu.Unlock()
	return nil
}
