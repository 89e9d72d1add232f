// Package monitor watches fleet liveness through the broker's heartbeat
// records. A Monitor polls on a fixed interval, classifies each watched
// agent as up or down against a liveness timeout, and fires callbacks once
// per down transition. It never talks to agents directly.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/meridianml/fleetkit/broker"
	"github.com/meridianml/fleetkit/logging"
	"github.com/meridianml/fleetkit/message"
)

// Monitor errors.
var (
	// ErrAlreadyRunning indicates Start was called twice.
	ErrAlreadyRunning = errors.New("monitor already running")

	// ErrNotRunning indicates Stop without a prior Start.
	ErrNotRunning = errors.New("monitor not running")

	// ErrNilBroker indicates construction without a broker.
	ErrNilBroker = errors.New("nil broker")
)

// DownFunc is called when a watched agent transitions to down. lastSeen is
// zero when the agent never recorded a heartbeat.
type DownFunc func(agentID string, lastSeen time.Time)

// Config holds monitor settings.
type Config struct {
	// CheckInterval is the polling period. Default 15s.
	CheckInterval time.Duration

	// LivenessTimeout is how stale a heartbeat may be before the agent
	// counts as down. Default 120s, twice the default heartbeat interval.
	LivenessTimeout time.Duration

	// Logger receives monitor events. Defaults to a new logger.
	Logger *logging.Logger
}

func (c *Config) withDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 15 * time.Second
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = 120 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.New()
	}
}

// Monitor polls heartbeat records for a set of watched agent IDs.
// Safe for concurrent use.
type Monitor struct {
	broker broker.Broker
	cfg    Config
	logger *logging.Logger

	mu      sync.Mutex
	watched map[string]*record
	onDown  []DownFunc
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

type record struct {
	lastSeen time.Time
	down     bool
}

// New creates a monitor for the given broker.
func New(b broker.Broker, cfg Config) (*Monitor, error) {
	if b == nil {
		return nil, ErrNilBroker
	}
	cfg.withDefaults()
	return &Monitor{
		broker:  b,
		cfg:     cfg,
		logger:  cfg.Logger.WithComponent("monitor"),
		watched: make(map[string]*record),
	}, nil
}

// Watch adds agent IDs to the watch set. New entries start in the up state
// so a freshly launched agent gets a full liveness timeout before its first
// down transition.
func (m *Monitor) Watch(agentIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range agentIDs {
		if _, ok := m.watched[id]; !ok {
			m.watched[id] = &record{lastSeen: time.Now().UTC()}
		}
	}
}

// Unwatch removes an agent ID from the watch set.
func (m *Monitor) Unwatch(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, agentID)
}

// Watched returns the watched agent IDs.
func (m *Monitor) Watched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.watched))
	for id := range m.watched {
		ids = append(ids, id)
	}
	return ids
}

// OnDown registers a callback fired once per down transition. Callbacks run
// on the monitor's polling goroutine; keep them short.
func (m *Monitor) OnDown(fn DownFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDown = append(m.onDown, fn)
}

// Start launches the polling loop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.loop()
	return nil
}

// Stop halts the polling loop and waits for it to exit.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.running = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()

	<-done
	return nil
}

// IsAlive reports whether the agent's heartbeat is within the liveness
// timeout. An agent with no heartbeat record is not alive.
func (m *Monitor) IsAlive(ctx context.Context, agentID string) (bool, error) {
	last, err := m.broker.GetHeartbeat(ctx, agentID)
	if err != nil {
		if errors.Is(err, broker.ErrNoHeartbeat) {
			return false, nil
		}
		return false, err
	}
	return time.Since(last) <= m.cfg.LivenessTimeout, nil
}

// LastSeen returns the agent's most recent heartbeat timestamp.
func (m *Monitor) LastSeen(ctx context.Context, agentID string) (time.Time, error) {
	return m.broker.GetHeartbeat(ctx, agentID)
}

// Snapshot returns a heartbeat record for every watched agent, in no
// particular order. Agents with no broker record get a zero LastSeen.
func (m *Monitor) Snapshot(ctx context.Context) ([]message.HeartbeatRecord, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.watched))
	for id := range m.watched {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	records := make([]message.HeartbeatRecord, 0, len(ids))
	for _, id := range ids {
		last, err := m.broker.GetHeartbeat(ctx, id)
		if err != nil && !errors.Is(err, broker.ErrNoHeartbeat) {
			return nil, err
		}
		records = append(records, message.HeartbeatRecord{AgentID: id, LastSeen: last})
	}
	return records, nil
}

// Depth returns the pending task count for an agent type's queue.
func (m *Monitor) Depth(ctx context.Context, agentType message.AgentType) (int64, error) {
	return m.broker.QueueDepth(ctx, agentType)
}

func (m *Monitor) loop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check classifies every watched agent and fires down callbacks for fresh
// transitions. Broker errors leave states untouched until the next tick.
func (m *Monitor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CheckInterval)
	defer cancel()

	m.mu.Lock()
	ids := make([]string, 0, len(m.watched))
	for id := range m.watched {
		ids = append(ids, id)
	}
	callbacks := m.onDown
	m.mu.Unlock()

	type transition struct {
		id       string
		lastSeen time.Time
	}
	var downs []transition

	for _, id := range ids {
		last, err := m.broker.GetHeartbeat(ctx, id)
		missing := errors.Is(err, broker.ErrNoHeartbeat)
		if err != nil && !missing {
			m.logger.BrokerError("get heartbeat", err)
			continue
		}

		m.mu.Lock()
		rec, ok := m.watched[id]
		if !ok {
			m.mu.Unlock()
			continue
		}
		if !missing {
			rec.lastSeen = last
		}
		alive := !missing && time.Since(last) <= m.cfg.LivenessTimeout
		if missing {
			// No record yet: count from when we started watching.
			alive = time.Since(rec.lastSeen) <= m.cfg.LivenessTimeout
		}
		if !alive && !rec.down {
			rec.down = true
			seen := last
			if missing {
				seen = time.Time{}
			}
			downs = append(downs, transition{id: id, lastSeen: seen})
		}
		if alive && rec.down {
			rec.down = false
			m.logger.Info("agent recovered", map[string]any{"agent_id": id})
		}
		m.mu.Unlock()
	}

	for _, d := range downs {
		m.logger.AgentDown(d.id, d.lastSeen)
		for _, fn := range callbacks {
			fn(d.id, d.lastSeen)
		}
	}
}
