package broker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridianml/fleetkit/message"
)

// RedisBroker implements Broker using Redis: LPUSH/BRPOP lists for task
// queues (BRPOP is an atomic pop, so concurrent consumers never receive the
// same task), plain keys with TTL for results, Redis pub/sub for alerts, and
// a hash for heartbeats.
type RedisBroker struct {
	client *redis.Client
	config RedisConfig
	closed atomic.Bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Config // Embed base config

	// Addr is the Redis server address (host:port).
	Addr string

	// Password for authentication, if required.
	Password string

	// DB is the Redis database number.
	DB int

	// KeyPrefix namespaces all keys this broker touches.
	// Default: "fleet"
	KeyPrefix string

	// DialTimeout for the initial connection.
	DialTimeout time.Duration

	// PollInterval is how often GetResult re-checks the result key.
	// Default: 100ms
	PollInterval time.Duration
}

// DefaultRedisConfig returns configuration with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Config:       DefaultConfig(),
		Addr:         "localhost:6379",
		KeyPrefix:    "fleet",
		DialTimeout:  5 * time.Second,
		PollInterval: 100 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultRedisConfig.
func (c RedisConfig) withDefaults() RedisConfig {
	def := DefaultRedisConfig()
	c.Config = c.Config.withDefaults()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = def.KeyPrefix
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	return c
}

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(ctx context.Context, cfg RedisConfig) (*RedisBroker, error) {
	cfg = cfg.withDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrUnavailable, cfg.Addr, err)
	}

	return &RedisBroker{client: client, config: cfg}, nil
}

// NewRedisBrokerFromClient creates a RedisBroker from an existing client.
func NewRedisBrokerFromClient(client *redis.Client, cfg RedisConfig) *RedisBroker {
	return &RedisBroker{client: client, config: cfg.withDefaults()}
}

// Key layout under the configured prefix.
func (b *RedisBroker) taskKey(agentType message.AgentType) string {
	return b.config.KeyPrefix + ":tasks:" + string(agentType)
}

func (b *RedisBroker) resultKey(taskID string) string {
	return b.config.KeyPrefix + ":results:" + taskID
}

func (b *RedisBroker) alertChannel() string {
	return b.config.KeyPrefix + ":alerts"
}

func (b *RedisBroker) heartbeatKey() string {
	return b.config.KeyPrefix + ":heartbeats"
}

// wrap maps a transport failure to ErrUnavailable with the cause attached.
func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// EnqueueTask pushes a task onto its agent type's list.
func (b *RedisBroker) EnqueueTask(ctx context.Context, task *message.Task) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}

	data, err := task.Marshal()
	if err != nil {
		return err
	}

	if err := b.client.LPush(ctx, b.taskKey(task.AgentType), data).Err(); err != nil {
		return wrap("lpush", err)
	}
	return nil
}

// DequeueTask pops the oldest task with BRPOP, blocking up to timeout.
func (b *RedisBroker) DequeueTask(ctx context.Context, agentType message.AgentType, timeout time.Duration) (*message.Task, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if timeout <= 0 {
		timeout = time.Second
	}

	vals, err := b.client.BRPop(ctx, timeout, b.taskKey(agentType)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, wrap("brpop", err)
	}

	// BRPOP returns [key, value].
	return message.UnmarshalTask([]byte(vals[1]))
}

// PublishResult stores the result under its task ID with the retention TTL.
func (b *RedisBroker) PublishResult(ctx context.Context, result *message.Result) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := result.Validate(); err != nil {
		return err
	}

	data, err := result.Marshal()
	if err != nil {
		return err
	}

	if err := b.client.Set(ctx, b.resultKey(result.TaskID), data, b.config.ResultTTL).Err(); err != nil {
		return wrap("set result", err)
	}
	return nil
}

// GetResult polls for the result key until it appears or timeout expires.
func (b *RedisBroker) GetResult(ctx context.Context, taskID string, timeout time.Duration) (*message.Result, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	deadline := time.Now().Add(timeout)
	for {
		data, err := b.client.Get(ctx, b.resultKey(taskID)).Bytes()
		if err == nil {
			return message.UnmarshalResult(data)
		}
		if !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, wrap("get result", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := b.config.PollInterval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// PublishAlert broadcasts the alert on the alerts channel.
func (b *RedisBroker) PublishAlert(ctx context.Context, alert *message.Alert) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := alert.Validate(); err != nil {
		return err
	}

	data, err := alert.Marshal()
	if err != nil {
		return err
	}

	if err := b.client.Publish(ctx, b.alertChannel(), data).Err(); err != nil {
		return wrap("publish alert", err)
	}
	return nil
}

// SubscribeAlerts subscribes to the alerts pub/sub channel.
func (b *RedisBroker) SubscribeAlerts() (AlertSubscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	pubsub := b.client.Subscribe(context.Background(), b.alertChannel())
	sub := &redisAlertSub{
		pubsub: pubsub,
		ch:     make(chan *message.Alert, b.config.AlertBuffer),
	}
	go sub.forward()
	return sub, nil
}

// Heartbeat writes agentID's last-seen time into the heartbeat hash.
func (b *RedisBroker) Heartbeat(ctx context.Context, agentID string) error {
	if b.closed.Load() {
		return ErrClosed
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := b.client.HSet(ctx, b.heartbeatKey(), agentID, now).Err(); err != nil {
		return wrap("hset heartbeat", err)
	}
	return nil
}

// GetHeartbeat reads agentID's last-seen time from the heartbeat hash.
func (b *RedisBroker) GetHeartbeat(ctx context.Context, agentID string) (time.Time, error) {
	if b.closed.Load() {
		return time.Time{}, ErrClosed
	}

	val, err := b.client.HGet(ctx, b.heartbeatKey(), agentID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, ErrNoHeartbeat
		}
		return time.Time{}, wrap("hget heartbeat", err)
	}

	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse heartbeat for %s: %w", agentID, err)
	}
	return t, nil
}

// QueueDepth returns the length of the agent type's task list.
func (b *RedisBroker) QueueDepth(ctx context.Context, agentType message.AgentType) (int64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}

	n, err := b.client.LLen(ctx, b.taskKey(agentType)).Result()
	if err != nil {
		return 0, wrap("llen", err)
	}
	return n, nil
}

// ClearQueue deletes the agent type's task list.
func (b *RedisBroker) ClearQueue(ctx context.Context, agentType message.AgentType) error {
	if b.closed.Load() {
		return ErrClosed
	}

	if err := b.client.Del(ctx, b.taskKey(agentType)).Err(); err != nil {
		return wrap("del", err)
	}
	return nil
}

// Ping verifies the Redis connection.
func (b *RedisBroker) Ping(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.client.Ping(ctx).Err(); err != nil {
		return wrap("ping", err)
	}
	return nil
}

// Close shuts down the Redis connection.
func (b *RedisBroker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}

// Client returns the underlying Redis client for advanced use.
func (b *RedisBroker) Client() *redis.Client {
	return b.client
}

// redisAlertSub wraps a Redis pub/sub subscription.
type redisAlertSub struct {
	pubsub *redis.PubSub
	ch     chan *message.Alert
	closed atomic.Bool
}

// forward decodes pub/sub payloads onto the alert channel.
func (s *redisAlertSub) forward() {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		alert, err := message.UnmarshalAlert([]byte(msg.Payload))
		if err != nil {
			continue
		}
		select {
		case s.ch <- alert:
		default:
			// Buffer full, drop.
		}
	}
}

// Alerts returns the subscription's alert channel.
func (s *redisAlertSub) Alerts() <-chan *message.Alert {
	return s.ch
}

// Unsubscribe closes the pub/sub subscription.
func (s *redisAlertSub) Unsubscribe() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.pubsub.Close()
}
