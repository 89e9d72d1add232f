// Package config loads fleet settings from defaults, a TOML file, or the
// process environment. Configuration is an explicit value handed to each
// constructor; nothing in this module reads a global at runtime.
//
// Precedence when composing: defaults, then file, then environment. Both
// Load and FromEnv start from Default so partial sources stay valid.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/meridianml/fleetkit/agent"
	"github.com/meridianml/fleetkit/broker"
	"github.com/meridianml/fleetkit/logging"
	"github.com/meridianml/fleetkit/message"
	"github.com/meridianml/fleetkit/monitor"
)

// Duration is a time.Duration that decodes from TOML strings like "5s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// RedisSection holds broker connection settings.
type RedisSection struct {
	Addr      string   `toml:"addr"`
	Password  string   `toml:"password"`
	DB        int      `toml:"db"`
	KeyPrefix string   `toml:"key_prefix"`
	ResultTTL Duration `toml:"result_ttl"`
}

// AgentSection holds agent runtime timing settings.
type AgentSection struct {
	PollTimeout       Duration `toml:"poll_timeout"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	RetryDelay        Duration `toml:"retry_delay"`
}

// MonitorSection holds liveness monitor settings.
type MonitorSection struct {
	CheckInterval   Duration `toml:"check_interval"`
	LivenessTimeout Duration `toml:"liveness_timeout"`
}

// Config is the full fleet configuration.
type Config struct {
	Redis    RedisSection   `toml:"redis"`
	Agent    AgentSection   `toml:"agent"`
	Monitor  MonitorSection `toml:"monitor"`
	LogLevel string         `toml:"log_level"`
}

// Default returns the configuration with all defaults applied.
func Default() Config {
	return Config{
		Redis: RedisSection{
			Addr:      "localhost:6379",
			KeyPrefix: "fleet",
			ResultTTL: Duration(time.Hour),
		},
		Agent: AgentSection{
			PollTimeout:       Duration(5 * time.Second),
			HeartbeatInterval: Duration(60 * time.Second),
			RetryDelay:        Duration(5 * time.Second),
		},
		Monitor: MonitorSection{
			CheckInterval:   Duration(15 * time.Second),
			LivenessTimeout: Duration(120 * time.Second),
		},
		LogLevel: "INFO",
	}
}

// Load reads a TOML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv reads FLEET_* variables over the defaults. A .env file in the
// working directory is loaded first when present; real environment
// variables win over .env entries.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	cfg.Redis.Addr = envStr("FLEET_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envStr("FLEET_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.KeyPrefix = envStr("FLEET_KEY_PREFIX", cfg.Redis.KeyPrefix)
	cfg.LogLevel = envStr("FLEET_LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.Redis.DB, err = envInt("FLEET_REDIS_DB", cfg.Redis.DB); err != nil {
		return Config{}, err
	}
	if cfg.Redis.ResultTTL, err = envDuration("FLEET_RESULT_TTL", cfg.Redis.ResultTTL); err != nil {
		return Config{}, err
	}
	if cfg.Agent.PollTimeout, err = envDuration("FLEET_POLL_TIMEOUT", cfg.Agent.PollTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Agent.HeartbeatInterval, err = envDuration("FLEET_HEARTBEAT_INTERVAL", cfg.Agent.HeartbeatInterval); err != nil {
		return Config{}, err
	}
	if cfg.Agent.RetryDelay, err = envDuration("FLEET_RETRY_DELAY", cfg.Agent.RetryDelay); err != nil {
		return Config{}, err
	}
	if cfg.Monitor.CheckInterval, err = envDuration("FLEET_CHECK_INTERVAL", cfg.Monitor.CheckInterval); err != nil {
		return Config{}, err
	}
	if cfg.Monitor.LivenessTimeout, err = envDuration("FLEET_LIVENESS_TIMEOUT", cfg.Monitor.LivenessTimeout); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr must not be empty")
	}
	if c.Agent.PollTimeout <= 0 {
		return fmt.Errorf("poll timeout must be positive, got %v", c.Agent.PollTimeout.Std())
	}
	if c.Agent.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", c.Agent.HeartbeatInterval.Std())
	}
	if c.Monitor.LivenessTimeout.Std() < c.Agent.HeartbeatInterval.Std() {
		return fmt.Errorf("liveness timeout %v shorter than heartbeat interval %v",
			c.Monitor.LivenessTimeout.Std(), c.Agent.HeartbeatInterval.Std())
	}
	return nil
}

// BrokerConfig converts the redis section into a broker configuration.
func (c Config) BrokerConfig() broker.RedisConfig {
	return broker.RedisConfig{
		Config: broker.Config{
			ResultTTL: c.Redis.ResultTTL.Std(),
		},
		Addr:      c.Redis.Addr,
		Password:  c.Redis.Password,
		DB:        c.Redis.DB,
		KeyPrefix: c.Redis.KeyPrefix,
	}
}

// AgentConfig builds an agent runtime configuration for one agent instance.
func (c Config) AgentConfig(agentID string, agentType message.AgentType) agent.Config {
	return agent.Config{
		AgentID:           agentID,
		AgentType:         agentType,
		PollTimeout:       c.Agent.PollTimeout.Std(),
		HeartbeatInterval: c.Agent.HeartbeatInterval.Std(),
		RetryDelay:        c.Agent.RetryDelay.Std(),
		Logger:            c.NewLogger(),
	}
}

// MonitorConfig builds a liveness monitor configuration.
func (c Config) MonitorConfig() monitor.Config {
	return monitor.Config{
		CheckInterval:   c.Monitor.CheckInterval.Std(),
		LivenessTimeout: c.Monitor.LivenessTimeout.Std(),
		Logger:          c.NewLogger(),
	}
}

// NewLogger builds a logger at the configured level.
func (c Config) NewLogger() *logging.Logger {
	l := logging.New()
	l.SetLevel(logging.ParseLevel(c.LogLevel))
	return l
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback Duration) (Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return Duration(d), nil
}
