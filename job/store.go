package job

import (
	"context"
	"time"

	"github.com/tommyGPT2S/DocEX-sub002/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Operation filters by operation type. Empty means all operations.
	Operation string
	// SubjectID filters by subject reference. Empty means all subjects.
	SubjectID string
	// TenantID filters by tenant. Empty means all tenants.
	TenantID string
}

// Store defines the persistence contract for jobs and dependency edges.
// The store is the single source of truth shared by every worker process;
// ClaimJob must be implemented as an atomic conditional transition.
type Store interface {
	// CreateJob persists a new job in pending status along with one
	// dependency row per entry in j.DependsOn.
	CreateJob(ctx context.Context, j *Job) error

	// CreateJobs persists a batch of jobs atomically: either every job
	// (and its dependency rows) is created, or none are.
	CreateJobs(ctx context.Context, jobs []*Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// FindByIdempotencyKey returns the live (non-cancelled,
	// non-dead-letter) job holding the given idempotency key, or
	// ErrJobNotFound if no live job holds it.
	FindByIdempotencyKey(ctx context.Context, key string) (*Job, error)

	// ListClaimable returns up to limit pending jobs whose operation is
	// in operations, whose RetryAfter (if set) has passed, and whose
	// dependencies have all completed, ordered oldest-created-first.
	// Listing does not claim: each returned job must still be claimed
	// individually via ClaimJob.
	ListClaimable(ctx context.Context, operations []string, limit int) ([]*Job, error)

	// ClaimJob atomically transitions a job from pending to processing
	// on behalf of workerID. Returns false if the job was not pending
	// (another worker won, or the job was cancelled in the meantime).
	ClaimJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) (bool, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job and its dependency edges.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByStatus returns jobs matching the given status,
	// oldest-created-first.
	ListJobsByStatus(ctx context.Context, status Status, opts ListOpts) ([]*Job, error)

	// QueueStats aggregates job counts by status and operation type.
	QueueStats(ctx context.Context) (*Stats, error)

	// PurgeCompleted deletes completed jobs whose CompletedAt is before
	// the cutoff. Returns the number of jobs deleted.
	PurgeCompleted(ctx context.Context, before time.Time) (int64, error)

	// Dependencies returns the IDs this job depends on.
	Dependencies(ctx context.Context, jobID id.JobID) ([]id.JobID, error)

	// HeartbeatJob updates the heartbeat timestamp for a processing job,
	// indicating the claiming worker is still alive.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// StaleJobs returns processing jobs whose last heartbeat is older
	// than the threshold, indicating the claiming worker likely died.
	StaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)
}
