package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meridianml/fleetkit/broker"
	"github.com/meridianml/fleetkit/logging"
	"github.com/meridianml/fleetkit/message"
)

func newTestMonitor(t *testing.T, b broker.Broker) *Monitor {
	t.Helper()
	m, err := New(b, Config{
		CheckInterval:   10 * time.Millisecond,
		LivenessTimeout: 40 * time.Millisecond,
		Logger:          logging.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

// --- Unit Tests ---

func TestMonitorNewNilBroker(t *testing.T) {
	if _, err := New(nil, Config{}); !errors.Is(err, ErrNilBroker) {
		t.Fatalf("New(nil) error = %v, want %v", err, ErrNilBroker)
	}
}

func TestMonitorStartStop(t *testing.T) {
	b := broker.NewMemoryBroker(broker.Config{})
	defer b.Close()
	m := newTestMonitor(t, b)

	if err := m.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop before Start error = %v, want %v", err, ErrNotRunning)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start error = %v, want %v", err, ErrAlreadyRunning)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Restartable after Stop.
	if err := m.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop after restart: %v", err)
	}
}

func TestMonitorIsAlive(t *testing.T) {
	b := broker.NewMemoryBroker(broker.Config{})
	defer b.Close()
	m := newTestMonitor(t, b)
	ctx := context.Background()

	alive, err := m.IsAlive(ctx, "ghost")
	if err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if alive {
		t.Fatal("agent with no heartbeat must not be alive")
	}

	if err := b.Heartbeat(ctx, "dq-1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	alive, err = m.IsAlive(ctx, "dq-1")
	if err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if !alive {
		t.Fatal("agent with a fresh heartbeat must be alive")
	}

	time.Sleep(60 * time.Millisecond)
	alive, err = m.IsAlive(ctx, "dq-1")
	if err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if alive {
		t.Fatal("agent with a stale heartbeat must not be alive")
	}
}

func TestMonitorLastSeen(t *testing.T) {
	b := broker.NewMemoryBroker(broker.Config{})
	defer b.Close()
	m := newTestMonitor(t, b)
	ctx := context.Background()

	if _, err := m.LastSeen(ctx, "ghost"); !errors.Is(err, broker.ErrNoHeartbeat) {
		t.Fatalf("LastSeen(ghost) error = %v, want %v", err, broker.ErrNoHeartbeat)
	}

	before := time.Now().Add(-time.Second)
	if err := b.Heartbeat(ctx, "dq-1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	seen, err := m.LastSeen(ctx, "dq-1")
	if err != nil {
		t.Fatalf("LastSeen: %v", err)
	}
	if seen.Before(before) {
		t.Fatalf("LastSeen = %v, want recent", seen)
	}
}

func TestMonitorDepth(t *testing.T) {
	b := broker.NewMemoryBroker(broker.Config{})
	defer b.Close()
	m := newTestMonitor(t, b)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		task := message.NewTask(message.AgentModelMonitor, "check_drift", nil)
		if err := b.EnqueueTask(ctx, task); err != nil {
			t.Fatalf("EnqueueTask: %v", err)
		}
	}

	depth, err := m.Depth(ctx, message.AgentModelMonitor)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 3 {
		t.Fatalf("Depth = %d, want 3", depth)
	}
}

func TestMonitorWatchUnwatch(t *testing.T) {
	b := broker.NewMemoryBroker(broker.Config{})
	defer b.Close()
	m := newTestMonitor(t, b)

	m.Watch("dq-1", "mm-1")
	m.Watch("dq-1") // duplicate is a no-op
	if got := len(m.Watched()); got != 2 {
		t.Fatalf("watched = %d, want 2", got)
	}

	m.Unwatch("mm-1")
	if got := m.Watched(); len(got) != 1 || got[0] != "dq-1" {
		t.Fatalf("watched = %v, want [dq-1]", got)
	}
}

func TestMonitorSnapshot(t *testing.T) {
	b := broker.NewMemoryBroker(broker.Config{})
	defer b.Close()
	m := newTestMonitor(t, b)
	ctx := context.Background()

	if err := b.Heartbeat(ctx, "dq-1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	m.Watch("dq-1", "ghost")

	records, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	byID := make(map[string]message.HeartbeatRecord, len(records))
	for _, r := range records {
		byID[r.AgentID] = r
	}
	if byID["dq-1"].LastSeen.IsZero() {
		t.Fatal("dq-1 record missing heartbeat")
	}
	if !byID["ghost"].LastSeen.IsZero() {
		t.Fatalf("ghost record = %v, want zero LastSeen", byID["ghost"].LastSeen)
	}
	if byID["ghost"].Stale(time.Minute) != true {
		t.Fatal("never-seen record must be stale")
	}
	if byID["dq-1"].Stale(time.Minute) {
		t.Fatal("fresh record must not be stale")
	}
}

// --- Down Transition Tests ---

func TestMonitorDownTransitionFiresOnce(t *testing.T) {
	b := broker.NewMemoryBroker(broker.Config{})
	defer b.Close()
	m := newTestMonitor(t, b)
	ctx := context.Background()

	var mu sync.Mutex
	downs := 0
	m.OnDown(func(agentID string, lastSeen time.Time) {
		mu.Lock()
		defer mu.Unlock()
		if agentID != "dq-1" {
			t.Errorf("down agent = %q, want dq-1", agentID)
		}
		downs++
	})

	if err := b.Heartbeat(ctx, "dq-1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	m.Watch("dq-1")
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	// Several check intervals past the liveness timeout: one transition.
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if downs != 1 {
		t.Fatalf("down callbacks = %d, want 1", downs)
	}
}

func TestMonitorRecoveryRearmsCallback(t *testing.T) {
	b := broker.NewMemoryBroker(broker.Config{})
	defer b.Close()
	m := newTestMonitor(t, b)
	ctx := context.Background()

	downCh := make(chan string, 4)
	m.OnDown(func(agentID string, lastSeen time.Time) {
		downCh <- agentID
	})

	if err := b.Heartbeat(ctx, "dq-1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	m.Watch("dq-1")
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	// First down.
	select {
	case <-downCh:
	case <-time.After(2 * time.Second):
		t.Fatal("no down transition")
	}

	// Recover, then go stale again: the callback fires a second time.
	if err := b.Heartbeat(ctx, "dq-1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	select {
	case <-downCh:
	case <-time.After(2 * time.Second):
		t.Fatal("no second down transition after recovery")
	}
}

func TestMonitorNeverHeartbeatedAgent(t *testing.T) {
	b := broker.NewMemoryBroker(broker.Config{})
	defer b.Close()
	m := newTestMonitor(t, b)

	var mu sync.Mutex
	var gotSeen time.Time
	fired := false
	m.OnDown(func(agentID string, lastSeen time.Time) {
		mu.Lock()
		defer mu.Unlock()
		fired = true
		gotSeen = lastSeen
	})

	m.Watch("ghost")
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if !fired {
		t.Fatal("expected a down transition for an agent that never heartbeated")
	}
	if !gotSeen.IsZero() {
		t.Fatalf("lastSeen = %v, want zero for never-seen agent", gotSeen)
	}
}
