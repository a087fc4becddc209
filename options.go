package docex

import (
	"context"
	"log/slog"
)

// Option configures a Coordinator.
type Option func(*Coordinator) error

// Storer is the minimal store interface held by the Coordinator.
// It covers lifecycle operations only. The concrete job.Store is wired
// into the queue and worker layers, which root-level code reaches
// through narrow interfaces to avoid import cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// janitorRunner is an internal interface for the retention janitor.
type janitorRunner interface {
	Start()
	Stop(ctx context.Context) error
}

// Coordinator ties a job store, a worker pool, and the retention
// janitor into one start/stoppable unit. Create one with New() and
// functional options, then hand it the pool and janitor built from the
// worker and queue packages.
type Coordinator struct {
	config  Config
	logger  *slog.Logger
	store   Storer
	pool    poolRunner
	janitor janitorRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Coordinator with the given options.
func New(opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the coordinator's logger.
func (c *Coordinator) Logger() *slog.Logger { return c.logger }

// Store returns the coordinator's store.
func (c *Coordinator) Store() Storer { return c.store }

// Config returns a copy of the coordinator's configuration.
func (c *Coordinator) Config() Config { return c.config }

// SetPool sets the worker pool.
func (c *Coordinator) SetPool(p poolRunner) { c.pool = p }

// SetJanitor sets the retention janitor.
func (c *Coordinator) SetJanitor(j janitorRunner) { c.janitor = j }

// Start begins job processing and retention cleanup.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.pool == nil {
		return ErrNoPool
	}
	if err := c.pool.Start(ctx); err != nil {
		return err
	}
	if c.janitor != nil {
		c.janitor.Start()
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down the coordinator.
func (c *Coordinator) Stop(ctx context.Context) error {
	if c.janitor != nil {
		if err := c.janitor.Stop(ctx); err != nil {
			c.logger.Error("janitor stop error", "error", err)
		}
	}
	if c.pool != nil && c.started {
		if err := c.pool.Stop(ctx); err != nil {
			c.logger.Error("pool stop error", "error", err)
		}
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithConfig replaces the whole worker configuration.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) error {
		c.config = cfg
		return nil
	}
}

// WithMaxConcurrent sets the maximum number of concurrently running jobs.
func WithMaxConcurrent(n int) Option {
	return func(c *Coordinator) error {
		c.config.MaxConcurrent = n
		return nil
	}
}

// WithOperationTypes restricts which operations this coordinator's
// worker will poll.
func WithOperationTypes(ops []string) Option {
	return func(c *Coordinator) error {
		c.config.OperationTypes = ops
		return nil
	}
}

// WithLogger sets the structured logger for the coordinator.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the coordinator.
func WithStore(s Storer) Option {
	return func(c *Coordinator) error {
		c.store = s
		return nil
	}
}
