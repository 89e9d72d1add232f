package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/meridianml/fleetkit/logging"
)

// Config holds coordinator settings.
type Config struct {
	// Timeout bounds the whole shutdown sequence. Default 30s.
	Timeout time.Duration

	// Logger receives per-handler progress. Defaults to a new logger.
	Logger *logging.Logger
}

func (c *Config) withDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.New()
	}
}

// Coordinator drains registered handlers in phase order. Handlers sharing a
// phase run concurrently; phases run sequentially, lowest first. Safe for
// concurrent use.
type Coordinator struct {
	cfg    Config
	logger *logging.Logger

	mu       sync.Mutex
	handlers []registration

	once    sync.Once
	doneCh  chan struct{}
	err     error
	results []Result

	sigCh chan os.Signal
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	cfg.withDefaults()
	return &Coordinator{
		cfg:    cfg,
		logger: cfg.Logger.WithComponent("shutdown"),
		doneCh: make(chan struct{}),
		sigCh:  make(chan os.Signal, 1),
	}
}

// Register adds a handler to the given phase.
func (c *Coordinator) Register(name string, phase int, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, phase: phase, handler: h})
}

// RegisterFunc adds a plain function to the given phase.
func (c *Coordinator) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) {
	c.Register(name, phase, Func(fn))
}

// Shutdown drains all phases. The first call runs the sequence; later calls
// wait for it and return the same error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.err = c.drain(ctx)
		close(c.doneCh)
	})
	<-c.doneCh
	return c.err
}

// ShutdownWithTimeout drains all phases under the configured timeout.
func (c *Coordinator) ShutdownWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals triggers shutdown on SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-c.sigCh
		c.logger.Info("signal received", map[string]any{"signal": sig.String()})
		_ = c.ShutdownWithTimeout()
	}()
}

// Trigger starts shutdown as if a signal arrived. Requires HandleSignals.
func (c *Coordinator) Trigger() {
	select {
	case c.sigCh <- syscall.SIGTERM:
	default:
	}
}

// Done is closed once shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.doneCh
}

// Err returns the shutdown error. Valid once Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.doneCh:
		return c.err
	default:
		return nil
	}
}

// Results returns per-handler outcomes. Valid once Done is closed.
func (c *Coordinator) Results() []Result {
	select {
	case <-c.doneCh:
		return c.results
	default:
		return nil
	}
}

func (c *Coordinator) drain(ctx context.Context) error {
	c.mu.Lock()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	var failed bool
	for start := 0; start < len(handlers); {
		end := start
		for end < len(handlers) && handlers[end].phase == handlers[start].phase {
			end++
		}

		select {
		case <-ctx.Done():
			c.logger.Error("shutdown deadline reached", map[string]any{
				"remaining": len(handlers) - start,
			})
			return ErrTimeout
		default:
		}

		for _, r := range c.runPhase(ctx, handlers[start:end]) {
			c.results = append(c.results, r)
			if r.Err != nil {
				failed = true
				c.logger.Error("handler failed", map[string]any{
					"handler": r.Name,
					"error":   r.Err.Error(),
				})
			} else {
				c.logger.Debug("handler stopped", map[string]any{
					"handler":  r.Name,
					"duration": r.Duration.String(),
				})
			}
		}
		start = end
	}

	if failed {
		return ErrHandlerFailed
	}
	return nil
}

func (c *Coordinator) runPhase(ctx context.Context, group []registration) []Result {
	results := make([]Result, len(group))
	var wg sync.WaitGroup
	for i, reg := range group {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()
			start := time.Now()
			err := r.handler.OnShutdown(ctx)
			results[idx] = Result{
				Name:     r.name,
				Phase:    r.phase,
				Duration: time.Since(start),
				Err:      err,
			}
		}(i, reg)
	}
	wg.Wait()
	return results
}
