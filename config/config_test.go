package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meridianml/fleetkit/logging"
	"github.com/meridianml/fleetkit/message"
)

// --- Unit Tests ---

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %q, want localhost:6379", cfg.Redis.Addr)
	}
	if cfg.Redis.KeyPrefix != "fleet" {
		t.Errorf("key prefix = %q, want fleet", cfg.Redis.KeyPrefix)
	}
	if cfg.Redis.ResultTTL.Std() != time.Hour {
		t.Errorf("result ttl = %v, want 1h", cfg.Redis.ResultTTL.Std())
	}
	if cfg.Agent.PollTimeout.Std() != 5*time.Second {
		t.Errorf("poll timeout = %v, want 5s", cfg.Agent.PollTimeout.Std())
	}
	if cfg.Agent.HeartbeatInterval.Std() != 60*time.Second {
		t.Errorf("heartbeat interval = %v, want 60s", cfg.Agent.HeartbeatInterval.Std())
	}
	if cfg.Monitor.LivenessTimeout.Std() != 120*time.Second {
		t.Errorf("liveness timeout = %v, want 120s", cfg.Monitor.LivenessTimeout.Std())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if d.Std() != 90*time.Second {
		t.Fatalf("parsed = %v, want 90s", d.Std())
	}

	out, err := Duration(time.Minute).MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(out) != "1m0s" {
		t.Fatalf("marshaled = %q, want 1m0s", out)
	}

	if err := d.UnmarshalText([]byte("not-a-duration")); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.toml")
	body := `
log_level = "DEBUG"

[redis]
addr = "redis.internal:6380"
db = 2
result_ttl = "30m"

[agent]
poll_timeout = "2s"
heartbeat_interval = "30s"

[monitor]
liveness_timeout = "90s"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("addr = %q, want redis.internal:6380", cfg.Redis.Addr)
	}
	if cfg.Redis.DB != 2 {
		t.Errorf("db = %d, want 2", cfg.Redis.DB)
	}
	if cfg.Redis.ResultTTL.Std() != 30*time.Minute {
		t.Errorf("result ttl = %v, want 30m", cfg.Redis.ResultTTL.Std())
	}
	if cfg.Agent.PollTimeout.Std() != 2*time.Second {
		t.Errorf("poll timeout = %v, want 2s", cfg.Agent.PollTimeout.Std())
	}
	if cfg.LogLevel != "DEBUG" {
		t.Errorf("log level = %q, want DEBUG", cfg.LogLevel)
	}

	// Unset keys keep defaults.
	if cfg.Redis.KeyPrefix != "fleet" {
		t.Errorf("key prefix = %q, want default fleet", cfg.Redis.KeyPrefix)
	}
	if cfg.Agent.RetryDelay.Std() != 5*time.Second {
		t.Errorf("retry delay = %v, want default 5s", cfg.Agent.RetryDelay.Std())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("FLEET_REDIS_ADDR", "10.0.0.5:6379")
	t.Setenv("FLEET_REDIS_DB", "3")
	t.Setenv("FLEET_POLL_TIMEOUT", "1s")
	t.Setenv("FLEET_LOG_LEVEL", "ERROR")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Redis.Addr != "10.0.0.5:6379" {
		t.Errorf("addr = %q, want 10.0.0.5:6379", cfg.Redis.Addr)
	}
	if cfg.Redis.DB != 3 {
		t.Errorf("db = %d, want 3", cfg.Redis.DB)
	}
	if cfg.Agent.PollTimeout.Std() != time.Second {
		t.Errorf("poll timeout = %v, want 1s", cfg.Agent.PollTimeout.Std())
	}
	if cfg.LogLevel != "ERROR" {
		t.Errorf("log level = %q, want ERROR", cfg.LogLevel)
	}
	// Untouched keys keep defaults.
	if cfg.Agent.HeartbeatInterval.Std() != 60*time.Second {
		t.Errorf("heartbeat interval = %v, want default 60s", cfg.Agent.HeartbeatInterval.Std())
	}
}

func TestFromEnvMalformed(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad int", "FLEET_REDIS_DB", "three"},
		{"bad duration", "FLEET_HEARTBEAT_INTERVAL", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Fatalf("FromEnv error = %v, want to name %s", err, tt.key)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"empty addr", func(c *Config) { c.Redis.Addr = "" }, false},
		{"zero poll timeout", func(c *Config) { c.Agent.PollTimeout = 0 }, false},
		{"zero heartbeat", func(c *Config) { c.Agent.HeartbeatInterval = 0 }, false},
		{"liveness below heartbeat", func(c *Config) {
			c.Monitor.LivenessTimeout = Duration(10 * time.Second)
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

// --- Conversion Tests ---

func TestBrokerConfig(t *testing.T) {
	cfg := Default()
	cfg.Redis.Addr = "cache:6379"
	cfg.Redis.ResultTTL = Duration(10 * time.Minute)

	bc := cfg.BrokerConfig()
	if bc.Addr != "cache:6379" {
		t.Errorf("addr = %q, want cache:6379", bc.Addr)
	}
	if bc.KeyPrefix != "fleet" {
		t.Errorf("key prefix = %q, want fleet", bc.KeyPrefix)
	}
	if bc.ResultTTL != 10*time.Minute {
		t.Errorf("result ttl = %v, want 10m", bc.ResultTTL)
	}
}

func TestAgentConfig(t *testing.T) {
	cfg := Default()
	ac := cfg.AgentConfig("dq-1", message.AgentDataQuality)

	if ac.AgentID != "dq-1" {
		t.Errorf("agent id = %q, want dq-1", ac.AgentID)
	}
	if ac.AgentType != message.AgentDataQuality {
		t.Errorf("agent type = %v, want %v", ac.AgentType, message.AgentDataQuality)
	}
	if ac.PollTimeout != 5*time.Second {
		t.Errorf("poll timeout = %v, want 5s", ac.PollTimeout)
	}
	if ac.Logger == nil {
		t.Error("logger not set")
	}
}

func TestMonitorConfig(t *testing.T) {
	cfg := Default()
	mc := cfg.MonitorConfig()

	if mc.CheckInterval != 15*time.Second {
		t.Errorf("check interval = %v, want 15s", mc.CheckInterval)
	}
	if mc.LivenessTimeout != 120*time.Second {
		t.Errorf("liveness timeout = %v, want 120s", mc.LivenessTimeout)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	if l := cfg.NewLogger(); l == nil {
		t.Fatal("NewLogger returned nil")
	}
	if logging.ParseLevel(cfg.LogLevel) != logging.LevelDebug {
		t.Fatalf("ParseLevel(debug) = %v, want %v", logging.ParseLevel(cfg.LogLevel), logging.LevelDebug)
	}
}
