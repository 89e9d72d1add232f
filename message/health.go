package message

import "time"

// HeartbeatRecord is the broker-side liveness record: one per agent ID,
// overwritten on every heartbeat tick. The agent is the sole writer of its
// own record.
type HeartbeatRecord struct {
	// AgentID identifies the reporting agent instance.
	AgentID string `json:"agent_id"`

	// LastSeen is when the agent last heartbeated.
	LastSeen time.Time `json:"last_seen"`
}

// Stale reports whether the record is older than threshold. A zero LastSeen
// is always stale.
func (r HeartbeatRecord) Stale(threshold time.Duration) bool {
	if r.LastSeen.IsZero() {
		return true
	}
	return time.Since(r.LastSeen) > threshold
}

// HealthStatus is a read-only aggregate an agent runtime computes from its
// own in-memory counters. It is not independently persisted; only the
// heartbeat timestamp lives in the broker.
type HealthStatus struct {
	// AgentID identifies the reporting agent instance.
	AgentID string `json:"agent_id"`

	// UptimeSeconds is how long the runtime has been running.
	UptimeSeconds float64 `json:"uptime_seconds"`

	// TasksProcessed counts all tasks the runtime completed, success or failure.
	TasksProcessed int64 `json:"tasks_processed"`

	// TasksFailed counts tasks that produced a failed result.
	TasksFailed int64 `json:"tasks_failed"`

	// ErrorRate is TasksFailed / max(TasksProcessed, 1).
	ErrorRate float64 `json:"error_rate"`

	// LastHeartbeat is the most recent heartbeat the runtime sent.
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Healthy reports whether the agent looks alive and productive: a heartbeat
// within timeout and an error rate below 0.5.
func (h HealthStatus) Healthy(timeout time.Duration) bool {
	if h.LastHeartbeat.IsZero() {
		return false
	}
	if time.Since(h.LastHeartbeat) > timeout {
		return false
	}
	return h.ErrorRate < 0.5
}
