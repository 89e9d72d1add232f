// Package agent provides the runtime that drives one worker's lifecycle:
// connect, dequeue, dispatch, report, heartbeat, and shut down cleanly.
//
// An Agent is constructed with an identity, a handler Registry, and a
// broker.Broker, then composed with optional lifecycle Hooks; there is no
// base type to subclass. Start launches two concurrent loops: the task loop
// (bounded-timeout dequeue, handler dispatch, result publication) and the
// heartbeat loop (periodic liveness ticks independent of task processing).
//
// The runtime never lets one task's failure escalate: a missing handler or a
// handler error becomes a failed result and the loop continues. Only an
// initialization failure or an explicit Stop ends the runtime. Stop is
// cooperative and idempotent - an in-flight handler always runs to
// completion before the loop exits.
//
// # Basic Usage
//
//	reg := agent.NewRegistry()
//	reg.Register("check_anomalies", func(ctx context.Context, params map[string]any) (any, error) {
//	    return map[string]any{"issues": 0}, nil
//	})
//
//	a, err := agent.New(agent.Config{
//	    AgentID:   "dq-1",
//	    AgentType: message.AgentDataQuality,
//	}, b, reg)
//	if err != nil { ... }
//
//	if err := a.Start(ctx); err != nil { ... }
//	defer a.Stop()
//
// Handlers that discover something alarming can request broadcast alerts via
// the Alerter injected into their context:
//
//	agent.AlertFrom(ctx).Alert(message.SeverityWarning, "rows missing", nil)
package agent
