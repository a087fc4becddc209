package job

import "time"

// Options configures per-operation behavior such as retries, priority,
// and timeout.
type Options struct {
	// MaxRetries is the maximum number of retry attempts before the job
	// is dead-lettered.
	MaxRetries int

	// Priority is advisory: it is stored on the job and surfaced to
	// operators, but claim ordering remains oldest-created-first.
	Priority int

	// Timeout is the maximum duration a job may run before its context
	// is cancelled. Zero falls back to the worker's configured default.
	Timeout time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		Priority:   0,
		Timeout:    5 * time.Minute,
	}
}

// Option is a functional option for configuring an operation definition.
type Option func(*Options)

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithPriority sets the advisory priority stored on enqueued jobs.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the maximum execution duration for the operation.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
