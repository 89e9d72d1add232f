// Package message defines the wire-format envelopes exchanged through the
// broker: tasks, results, alerts, and agent health records.
//
// All envelopes are JSON-serializable and strongly typed. Producers create
// tasks with NewTask, agents produce results and alerts, and monitors read
// HealthStatus aggregates. Enum-like fields (AgentType, TaskStatus, Priority,
// Severity) are string types so payloads stay readable on the wire and new
// agent types can be introduced without a schema change.
//
// # Basic Usage
//
//	task := message.NewTask(message.AgentDataQuality, "check_anomalies", map[string]any{
//	    "data_source": "statcast",
//	})
//	task.Priority = message.PriorityHigh
//
//	data, err := task.Marshal()
//	// ... send data through the broker
//
//	got, err := message.UnmarshalTask(data)
//
// Task status transitions are forward-only. Use TaskStatus.CanTransition to
// validate a proposed transition before applying it.
package message
