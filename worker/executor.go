// Package worker provides the job execution engine: an Executor that
// runs a single claimed job through middleware, the registered handler,
// and the retry state machine, and a Pool that polls the store, claims
// pending jobs atomically, and executes them concurrently under a
// semaphore with heartbeats and stale-job recovery.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	docex "github.com/tommyGPT2S/DocEX-sub002"
	"github.com/tommyGPT2S/DocEX-sub002/backoff"
	"github.com/tommyGPT2S/DocEX-sub002/ext"
	"github.com/tommyGPT2S/DocEX-sub002/id"
	"github.com/tommyGPT2S/DocEX-sub002/job"
	"github.com/tommyGPT2S/DocEX-sub002/middleware"
)

// SubjectResolver loads the domain object a job operates on from its
// SubjectID. The resolved subject is handed to the operation handler.
type SubjectResolver interface {
	Resolve(ctx context.Context, subjectID string) (any, error)
}

// SubjectResolverFunc adapts a function to the SubjectResolver interface.
type SubjectResolverFunc func(ctx context.Context, subjectID string) (any, error)

// Resolve implements SubjectResolver.
func (f SubjectResolverFunc) Resolve(ctx context.Context, subjectID string) (any, error) {
	return f(ctx, subjectID)
}

// Executor runs a single claimed job through middleware and the
// registered handler, then drives the retry state machine: completed on
// success, pending with a backoff delay while retries remain, dead
// letter once the budget is exhausted. A missing handler or subject is
// a terminal failure with no retry.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	resolver   SubjectResolver
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger

	// defaultTimeout applies when neither the job nor its operation
	// options carry one.
	defaultTimeout time.Duration
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	resolver SubjectResolver,
	bo backoff.Strategy,
	defaultTimeout time.Duration,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:       registry,
		extensions:     extensions,
		store:          store,
		resolver:       resolver,
		backoff:        bo,
		mw:             middleware.Chain(mws...),
		logger:         logger,
		defaultTimeout: defaultTimeout,
	}
}

// Execute runs a claimed job to its next resting state. The returned
// error is the handler failure (or timeout) for the pool's logging; a
// nil return means the job completed.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Operation)
	if !ok {
		return e.failTerminal(ctx, j, fmt.Errorf("%w: %s", docex.ErrNoHandler, j.Operation))
	}

	var subject any
	if e.resolver != nil {
		var err error
		subject, err = e.resolver.Resolve(ctx, j.SubjectID)
		if err != nil {
			if !errors.Is(err, docex.ErrSubjectNotFound) {
				err = fmt.Errorf("%w: %s: %v", docex.ErrSubjectNotFound, j.SubjectID, err)
			}
			return e.failTerminal(ctx, j, err)
		}
	}

	start := time.Now()
	err := e.runWithTimeout(ctx, j, func(ctx context.Context) error {
		return handler(ctx, j, subject)
	})
	elapsed := time.Since(start)

	now := time.Now().UTC()
	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}
	return e.handleSuccess(ctx, j, now, elapsed)
}

// runWithTimeout runs the middleware chain and handler under a hard
// deadline. The handler is called on its own goroutine so a handler
// that ignores ctx still cannot hold the job past the timeout; its
// goroutine persists until it returns, but the job's lifecycle moves
// on.
func (e *Executor) runWithTimeout(ctx context.Context, j *job.Job, fn middleware.Handler) error {
	timeout := e.timeoutFor(j)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.mw(runCtx, j, fn)
	}()

	select {
	case err := <-done:
		return err
	case <-runCtx.Done():
		return fmt.Errorf("operation %s timed out after %v: %w", j.Operation, timeout, runCtx.Err())
	}
}

// timeoutFor picks the job's timeout: the per-job override, then the
// operation's registered option, then the executor default.
func (e *Executor) timeoutFor(j *job.Job) time.Duration {
	if j.Timeout > 0 {
		return j.Timeout
	}
	if opts := e.registry.Options(j.Operation); opts.Timeout > 0 {
		return opts.Timeout
	}
	return e.defaultTimeout
}

// handleSuccess marks the job completed.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time, elapsed time.Duration) error {
	j.Status = job.StatusCompleted
	j.CompletedAt = &now
	j.RetryAfter = nil
	j.LastError = ""

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("operation", j.Operation),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	if e.extensions != nil {
		e.extensions.EmitJobCompleted(ctx, j, elapsed)
	}
	return nil
}

// handleFailure either schedules a retry or dead-letters the job.
// Timeouts and handler errors take the same path.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.LastError = handlerErr.Error()

	if j.RetryCount < j.MaxRetries {
		return e.scheduleRetry(ctx, j, handlerErr, now)
	}
	return e.deadLetter(ctx, j, handlerErr, now)
}

// scheduleRetry returns the job to pending with an exponential backoff
// delay recorded in RetryAfter; the job is not claimable before it.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	// Delay(n) is base·2^(n-1), so attempt retryCount+1 yields
	// base·2^retryCount.
	delay := e.backoff.Delay(j.RetryCount + 1)
	retryAt := now.Add(delay)

	j.RetryCount++
	j.Status = job.StatusPending
	j.RetryAfter = &retryAt
	j.WorkerID = id.WorkerID{}

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	if e.extensions != nil {
		e.extensions.EmitJobRetrying(ctx, j, j.RetryCount, retryAt)
	}

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("operation", j.Operation),
		slog.Int("retry_count", j.RetryCount),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
	)
	return handlerErr
}

// deadLetter parks the job terminally after an exhausted retry budget.
func (e *Executor) deadLetter(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.Status = job.StatusDeadLetter
	j.CompletedAt = &now

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to dead-letter job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	if e.extensions != nil {
		e.extensions.EmitJobFailed(ctx, j, handlerErr)
		e.extensions.EmitJobDeadLettered(ctx, j, handlerErr)
	}

	e.logger.Warn("job dead-lettered after exhausting retries",
		slog.String("job_id", j.ID.String()),
		slog.String("operation", j.Operation),
		slog.Int("retry_count", j.RetryCount),
		slog.String("error", handlerErr.Error()),
	)
	return handlerErr
}

// failTerminal marks conditions that retrying cannot fix (no handler,
// missing subject) as failed without touching the retry budget.
func (e *Executor) failTerminal(ctx context.Context, j *job.Job, cause error) error {
	now := time.Now().UTC()
	j.Status = job.StatusFailed
	j.LastError = cause.Error()
	j.CompletedAt = &now

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to mark job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	if e.extensions != nil {
		e.extensions.EmitJobFailed(ctx, j, cause)
	}

	e.logger.Warn("job failed terminally",
		slog.String("job_id", j.ID.String()),
		slog.String("operation", j.Operation),
		slog.String("error", cause.Error()),
	)
	return cause
}
