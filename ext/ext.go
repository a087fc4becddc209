package ext

import (
	"context"
	"time"

	"github.com/tommyGPT2S/DocEX-sub002/delivery"
	"github.com/tommyGPT2S/DocEX-sub002/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker claims a job and begins executing it.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally (FAILED or DEAD_LETTER).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a job fails but is returned to pending for
// retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, retryAfter time.Time) error
}

// JobDeadLettered is called when a job exhausts its retry budget.
type JobDeadLettered interface {
	OnJobDeadLettered(ctx context.Context, j *job.Job, err error) error
}

// DeliveryRecorded is called after a connector delivery outcome is
// recorded, whether it succeeded, failed, or was skipped by dedup.
type DeliveryRecorded interface {
	OnDeliveryRecorded(ctx context.Context, res *delivery.Result) error
}

// Shutdown is called once when the coordinator stops.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
