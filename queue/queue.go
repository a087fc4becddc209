package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	docex "github.com/tommyGPT2S/DocEX-sub002"
	"github.com/tommyGPT2S/DocEX-sub002/ext"
	"github.com/tommyGPT2S/DocEX-sub002/id"
	"github.com/tommyGPT2S/DocEX-sub002/job"
)

// EnqueueRequest describes one job to enqueue.
type EnqueueRequest struct {
	// SubjectID references the entity the job operates on.
	SubjectID string

	// TenantID scopes the job to a tenant. Optional.
	TenantID string

	// Operation is the handler-dispatch operation type, e.g. "EXTRACT".
	Operation string

	// Priority is advisory: stored with the job but not a hard ordering
	// guarantee.
	Priority int

	// Payload is the handler input, typically JSON.
	Payload []byte

	// IdempotencyKey deduplicates enqueues: while a live job holds the
	// key, further enqueues return that job's ID without a new row.
	// Empty disables deduplication.
	IdempotencyKey string

	// DependsOn lists jobs that must complete before this one may be
	// claimed. No cycle detection is performed.
	DependsOn []id.JobID

	// MaxRetries overrides the queue default when positive.
	MaxRetries int

	// Timeout overrides the worker's job timeout when positive.
	Timeout time.Duration
}

// Queue is the enqueue/cancel/retry/query surface over the job store.
// It owns job creation; lifecycle transitions after claim belong to the
// worker.
type Queue struct {
	store      job.Store
	logger     *slog.Logger
	maxRetries int
	exts       *ext.Registry
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithMaxRetries sets the default retry budget for enqueued jobs.
func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

// WithExtensions sets the registry notified on enqueue.
func WithExtensions(r *ext.Registry) Option {
	return func(q *Queue) { q.exts = r }
}

// New creates a Queue over the given store.
func New(store job.Store, opts ...Option) *Queue {
	q := &Queue{
		store:      store,
		logger:     slog.Default(),
		maxRetries: docex.DefaultConfig().MaxRetries,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue creates one pending job, or returns the existing job's ID
// when the idempotency key is already held by a live job.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (id.JobID, error) {
	if req.IdempotencyKey != "" {
		existing, err := q.store.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			q.logger.Debug("enqueue deduplicated on idempotency key",
				slog.String("idempotency_key", req.IdempotencyKey),
				slog.String("job_id", existing.ID.String()),
			)
			return existing.ID, nil
		}
		if !errors.Is(err, docex.ErrJobNotFound) {
			return id.JobID{}, err
		}
	}

	j := q.buildJob(req)
	if err := q.store.CreateJob(ctx, j); err != nil {
		if req.IdempotencyKey != "" && errors.Is(err, docex.ErrJobAlreadyExists) {
			// Lost the race to a concurrent enqueue holding the same
			// key; the winner's job is the dedup result.
			existing, findErr := q.store.FindByIdempotencyKey(ctx, req.IdempotencyKey)
			if findErr == nil {
				q.logger.Debug("enqueue deduplicated on idempotency key",
					slog.String("idempotency_key", req.IdempotencyKey),
					slog.String("job_id", existing.ID.String()),
				)
				return existing.ID, nil
			}
		}
		return id.JobID{}, err
	}

	q.logger.Info("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("operation", j.Operation),
		slog.String("subject_id", j.SubjectID),
	)
	if q.exts != nil {
		q.exts.EmitJobEnqueued(ctx, j)
	}
	return j.ID, nil
}

// EnqueueBatch enqueues several jobs with the same per-job dedup
// semantics as Enqueue, creating all new rows in one atomic batch.
// The returned IDs are positional: deduplicated requests yield the
// existing job's ID.
func (q *Queue) EnqueueBatch(ctx context.Context, reqs []EnqueueRequest) ([]id.JobID, error) {
	ids := make([]id.JobID, len(reqs))
	fresh := make([]*job.Job, 0, len(reqs))

	for i, req := range reqs {
		if req.IdempotencyKey != "" {
			existing, err := q.store.FindByIdempotencyKey(ctx, req.IdempotencyKey)
			if err == nil {
				ids[i] = existing.ID
				continue
			}
			if !errors.Is(err, docex.ErrJobNotFound) {
				return nil, err
			}
		}
		j := q.buildJob(req)
		ids[i] = j.ID
		fresh = append(fresh, j)
	}

	if len(fresh) > 0 {
		if err := q.store.CreateJobs(ctx, fresh); err != nil {
			return nil, err
		}
		q.logger.Info("job batch enqueued",
			slog.Int("created", len(fresh)),
			slog.Int("deduplicated", len(reqs)-len(fresh)),
		)
		if q.exts != nil {
			for _, j := range fresh {
				q.exts.EmitJobEnqueued(ctx, j)
			}
		}
	}
	return ids, nil
}

// Cancel transitions a pending job to cancelled. Any other status,
// including a job already claimed by a worker, is a no-op returning
// false rather than an error.
func (q *Queue) Cancel(ctx context.Context, jobID id.JobID) (bool, error) {
	j, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, docex.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}
	if j.Status != job.StatusPending {
		return false, nil
	}

	j.Status = job.StatusCancelled
	if err := q.store.UpdateJob(ctx, j); err != nil {
		return false, err
	}
	q.logger.Info("job cancelled", slog.String("job_id", jobID.String()))
	return true, nil
}

// RetryFailed returns a failed or dead-lettered job to pending for
// another round of processing, clearing its error and completion state.
// resetRetryCount additionally zeroes the retry counter, granting a
// fresh retry budget. Any other status is a no-op returning false.
func (q *Queue) RetryFailed(ctx context.Context, jobID id.JobID, resetRetryCount bool) (bool, error) {
	j, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, docex.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}
	if j.Status != job.StatusFailed && j.Status != job.StatusDeadLetter {
		return false, nil
	}

	j.Status = job.StatusPending
	j.LastError = ""
	j.RetryAfter = nil
	j.CompletedAt = nil
	j.WorkerID = id.WorkerID{}
	if resetRetryCount {
		j.RetryCount = 0
	}
	if err := q.store.UpdateJob(ctx, j); err != nil {
		return false, err
	}

	q.logger.Info("job returned for retry",
		slog.String("job_id", jobID.String()),
		slog.Bool("retry_count_reset", resetRetryCount),
	)
	return true, nil
}

// DeadLetterJobs lists dead-lettered jobs for operator inspection,
// optionally filtered by operation type.
func (q *Queue) DeadLetterJobs(ctx context.Context, operation string, limit int) ([]*job.Job, error) {
	return q.store.ListJobsByStatus(ctx, job.StatusDeadLetter, job.ListOpts{
		Operation: operation,
		Limit:     limit,
	})
}

// Stats aggregates queue contents by status and operation type.
func (q *Queue) Stats(ctx context.Context) (*job.Stats, error) {
	return q.store.QueueStats(ctx)
}

// ClearCompleted deletes completed jobs older than the given number of
// days and returns how many were removed.
func (q *Queue) ClearCompleted(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	n, err := q.store.PurgeCompleted(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Info("completed jobs purged",
			slog.Int64("purged", n),
			slog.Int("older_than_days", olderThanDays),
		)
	}
	return n, nil
}

// GetJob retrieves a job, exposing its current status and error.
func (q *Queue) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return q.store.GetJob(ctx, jobID)
}

// buildJob materializes an EnqueueRequest into a pending job row.
func (q *Queue) buildJob(req EnqueueRequest) *job.Job {
	now := time.Now().UTC()
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = q.maxRetries
	}
	return &job.Job{
		ID:             id.NewJobID(),
		SubjectID:      req.SubjectID,
		TenantID:       req.TenantID,
		Operation:      req.Operation,
		Status:         job.StatusPending,
		Priority:       req.Priority,
		IdempotencyKey: req.IdempotencyKey,
		Payload:        req.Payload,
		MaxRetries:     maxRetries,
		Timeout:        req.Timeout,
		DependsOn:      append([]id.JobID(nil), req.DependsOn...),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
