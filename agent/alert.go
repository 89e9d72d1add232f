package agent

import (
	"context"
	"sync"

	"github.com/meridianml/fleetkit/message"
)

// Alerter lets a handler request broadcast alerts. Alerts requested during a
// handler invocation are published before the task's result, so a subscriber
// that reacts to the result always observes the alerts first.
type Alerter interface {
	// Alert records an alert for publication.
	Alert(severity message.Severity, msg string, context map[string]any)
}

type alerterKey struct{}

// WithAlerter returns a context carrying the given alerter.
func WithAlerter(ctx context.Context, a Alerter) context.Context {
	return context.WithValue(ctx, alerterKey{}, a)
}

// AlertFrom extracts the alerter from ctx. Outside a handler invocation it
// returns a no-op alerter, so handlers can call it unconditionally.
func AlertFrom(ctx context.Context) Alerter {
	if a, ok := ctx.Value(alerterKey{}).(Alerter); ok {
		return a
	}
	return nopAlerter{}
}

type nopAlerter struct{}

func (nopAlerter) Alert(message.Severity, string, map[string]any) {}

// alertCollector buffers handler-requested alerts until the invocation
// returns. The runtime drains it and publishes in request order.
type alertCollector struct {
	mu      sync.Mutex
	pending []*message.Alert
}

func (c *alertCollector) Alert(severity message.Severity, msg string, ctx map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, &message.Alert{
		Severity: severity,
		Message:  msg,
		Context:  ctx,
	})
}

// drain returns the buffered alerts stamped with the source agent ID.
func (c *alertCollector) drain(sourceAgent string) []*message.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	for _, a := range out {
		full := message.NewAlert(sourceAgent, a.Severity, a.Message, a.Context)
		*a = *full
	}
	return out
}
