// Package broker provides the message-exchange substrate agents coordinate
// through: per-agent-type task queues, a result store with bounded retention,
// fire-and-forget alert broadcast, and a heartbeat registry.
//
// The Broker interface is the sole channel between producers, agents, and
// monitors. Two implementations are provided:
//   - MemoryBroker: in-process storage for testing and single-process runs
//   - RedisBroker: Redis-backed storage for distributed fleets
//
// # Contract
//
// Task queues are FIFO per agent type, and a dequeue hands a given task to
// exactly one caller even under concurrent pollers (horizontal scaling of one
// agent type is safe by construction). Results are keyed by task ID, overwrite
// on re-publish, and expire after the configured retention window. Alerts
// reach every subscriber active at publish time; there is no alert history.
// Heartbeats are last-write-wins timestamps, one record per agent ID.
//
// All blocking operations take explicit bounded timeouts and return nil (not
// an error) when the timeout expires with nothing to deliver. Transport
// failures surface as ErrUnavailable; the broker performs no automatic
// retries, leaving backoff policy to the caller.
//
// # Basic Usage
//
//	b := broker.NewMemoryBroker(broker.DefaultConfig())
//	defer b.Close()
//
//	task := message.NewTask(message.AgentDataQuality, "noop", nil)
//	if err := b.EnqueueTask(ctx, task); err != nil { ... }
//
//	got, err := b.DequeueTask(ctx, message.AgentDataQuality, 5*time.Second)
//	// got == nil means the wait timed out
package broker
