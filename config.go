package docex

import "time"

// Config holds the worker-side configuration surface.
type Config struct {
	// PollInterval is how often the worker polls for claimable jobs.
	PollInterval time.Duration

	// BatchSize is the maximum number of jobs selected per poll cycle.
	BatchSize int

	// MaxConcurrent bounds how many jobs run simultaneously in one
	// worker process.
	MaxConcurrent int

	// MaxRetries is the default retry budget for operations that do not
	// set their own.
	MaxRetries int

	// RetryDelayBase is the first retry delay; doubled per retry.
	RetryDelayBase time.Duration

	// RetryDelayMax caps the computed retry delay.
	RetryDelayMax time.Duration

	// JobTimeout is the default per-job execution deadline applied when
	// a job carries no timeout of its own.
	JobTimeout time.Duration

	// StaleJobTimeout is how long a processing job may go without a
	// heartbeat before the reaper returns it to pending.
	StaleJobTimeout time.Duration

	// ShutdownTimeout is the maximum time Stop waits for in-flight jobs.
	// Jobs still running past it are abandoned in processing status and
	// left to the stale-job reaper.
	ShutdownTimeout time.Duration

	// OperationTypes restricts which operations this worker polls.
	// Empty means every operation with a registered handler.
	OperationTypes []string

	// HeartbeatInterval is how often in-flight jobs heartbeat the store.
	// Zero disables heartbeats (and with them stale-job recovery).
	HeartbeatInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      1 * time.Second,
		BatchSize:         10,
		MaxConcurrent:     10,
		MaxRetries:        3,
		RetryDelayBase:    1 * time.Second,
		RetryDelayMax:     5 * time.Minute,
		JobTimeout:        5 * time.Minute,
		StaleJobTimeout:   10 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
	}
}
