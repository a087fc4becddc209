package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	docex "github.com/tommyGPT2S/DocEX-sub002"
	"github.com/tommyGPT2S/DocEX-sub002/id"
	"github.com/tommyGPT2S/DocEX-sub002/job"
)

const jobColumns = `
	id, subject_id, tenant_id, operation, status, priority,
	idempotency_key, payload, max_retries, retry_count, last_error,
	retry_after, timeout_ns, worker_id,
	created_at, updated_at, started_at, completed_at, heartbeat_at`

// CreateJob persists a new job along with its dependency rows.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("docex/postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertJob(ctx, tx, j); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("docex/postgres: create job: commit: %w", err)
	}
	return nil
}

// CreateJobs persists a batch of jobs atomically: one transaction covers
// every job and its dependency rows, so a duplicate anywhere in the batch
// rolls back the whole batch.
func (s *Store) CreateJobs(ctx context.Context, jobs []*job.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("docex/postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, j := range jobs {
		if err := insertJob(ctx, tx, j); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("docex/postgres: create jobs: commit: %w", err)
	}
	return nil
}

func insertJob(ctx context.Context, tx pgx.Tx, j *job.Job) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO docex_jobs (
			id, subject_id, tenant_id, operation, status, priority,
			idempotency_key, payload, max_retries, retry_count, last_error,
			retry_after, timeout_ns, worker_id,
			created_at, updated_at, started_at, completed_at, heartbeat_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, $18, $19
		)`,
		j.ID.String(), j.SubjectID, j.TenantID, j.Operation, string(j.Status), j.Priority,
		j.IdempotencyKey, j.Payload, j.MaxRetries, j.RetryCount, j.LastError,
		j.RetryAfter, j.Timeout.Nanoseconds(), j.WorkerID.String(),
		j.CreatedAt, j.UpdatedAt, j.StartedAt, j.CompletedAt, j.HeartbeatAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return docex.ErrJobAlreadyExists
		}
		return fmt.Errorf("docex/postgres: insert job: %w", err)
	}

	for _, dep := range j.DependsOn {
		if _, depErr := tx.Exec(ctx, `
			INSERT INTO docex_job_deps (job_id, depends_on)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			j.ID.String(), dep.String(),
		); depErr != nil {
			return fmt.Errorf("docex/postgres: insert dependency: %w", depErr)
		}
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM docex_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, docex.ErrJobNotFound
		}
		return nil, fmt.Errorf("docex/postgres: get job: %w", err)
	}
	return s.attachDependencies(ctx, j)
}

// FindByIdempotencyKey returns the live job holding the given key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+`
		FROM docex_jobs
		WHERE idempotency_key = $1
		  AND status NOT IN ('cancelled', 'dead_letter')
		LIMIT 1`,
		key,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, docex.ErrJobNotFound
		}
		return nil, fmt.Errorf("docex/postgres: find by idempotency key: %w", err)
	}
	return s.attachDependencies(ctx, j)
}

// ListClaimable returns up to limit pending jobs for the given operations
// whose retry_after has passed and whose dependencies have all completed,
// oldest-created-first. SKIP LOCKED keeps concurrent pollers from
// stalling each other; the actual claim still happens per job in
// ClaimJob.
//
// A dependency whose parent row no longer exists counts as complete:
// purging only removes completed jobs.
func (s *Store) ListClaimable(ctx context.Context, operations []string, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM docex_jobs j
		WHERE j.status = 'pending'
		  AND (j.retry_after IS NULL OR j.retry_after <= NOW())
		  AND (cardinality($1::text[]) = 0 OR j.operation = ANY($1))
		  AND NOT EXISTS (
			SELECT 1
			FROM docex_job_deps d
			JOIN docex_jobs p ON p.id = d.depends_on
			WHERE d.job_id = j.id AND p.status <> 'completed'
		  )
		ORDER BY j.created_at ASC
		LIMIT $2
		FOR UPDATE OF j SKIP LOCKED`,
		operations, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("docex/postgres: list claimable: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ClaimJob atomically transitions a pending job to processing on behalf
// of workerID. The conditional UPDATE is the claim: zero rows affected
// with an existing job means another worker won.
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE docex_jobs SET
			status = 'processing',
			worker_id = $2,
			started_at = NOW(),
			heartbeat_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return false, fmt.Errorf("docex/postgres: claim job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM docex_jobs WHERE id = $1)`,
		jobID.String(),
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("docex/postgres: claim job: %w", err)
	}
	if !exists {
		return false, docex.ErrJobNotFound
	}
	return false, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE docex_jobs SET
			subject_id = $2, tenant_id = $3, operation = $4, status = $5,
			priority = $6, idempotency_key = $7, payload = $8,
			max_retries = $9, retry_count = $10, last_error = $11,
			retry_after = $12, timeout_ns = $13, worker_id = $14,
			started_at = $15, completed_at = $16, heartbeat_at = $17,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.SubjectID, j.TenantID, j.Operation, string(j.Status),
		j.Priority, j.IdempotencyKey, j.Payload,
		j.MaxRetries, j.RetryCount, j.LastError,
		j.RetryAfter, j.Timeout.Nanoseconds(), j.WorkerID.String(),
		j.StartedAt, j.CompletedAt, j.HeartbeatAt,
	)
	if err != nil {
		return fmt.Errorf("docex/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return docex.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job; its dependency rows cascade.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM docex_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("docex/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return docex.ErrJobNotFound
	}
	return nil
}

// ListJobsByStatus returns jobs matching the given status, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM docex_jobs WHERE status = $1`
	args := []any{string(status)}
	argIdx := 2

	if opts.Operation != "" {
		query += fmt.Sprintf(" AND operation = $%d", argIdx)
		args = append(args, opts.Operation)
		argIdx++
	}
	if opts.SubjectID != "" {
		query += fmt.Sprintf(" AND subject_id = $%d", argIdx)
		args = append(args, opts.SubjectID)
		argIdx++
	}
	if opts.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, opts.TenantID)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("docex/postgres: list jobs by status: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// QueueStats aggregates job counts by status and operation type.
func (s *Store) QueueStats(ctx context.Context) (*job.Stats, error) {
	stats := &job.Stats{
		ByStatus:    make(map[job.Status]int64),
		ByOperation: make(map[string]int64),
	}

	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM docex_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("docex/postgres: queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("docex/postgres: scan status count: %w", err)
		}
		stats.ByStatus[job.Status(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docex/postgres: iterate status counts: %w", err)
	}

	opRows, err := s.pool.Query(ctx,
		`SELECT operation, COUNT(*) FROM docex_jobs GROUP BY operation`)
	if err != nil {
		return nil, fmt.Errorf("docex/postgres: queue stats: %w", err)
	}
	defer opRows.Close()

	for opRows.Next() {
		var operation string
		var count int64
		if err := opRows.Scan(&operation, &count); err != nil {
			return nil, fmt.Errorf("docex/postgres: scan operation count: %w", err)
		}
		stats.ByOperation[operation] = count
	}
	if err := opRows.Err(); err != nil {
		return nil, fmt.Errorf("docex/postgres: iterate operation counts: %w", err)
	}

	return stats, nil
}

// PurgeCompleted deletes completed jobs finished before the cutoff.
func (s *Store) PurgeCompleted(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM docex_jobs
		WHERE status = 'completed'
		  AND completed_at IS NOT NULL
		  AND completed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("docex/postgres: purge completed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Dependencies returns the IDs this job depends on.
func (s *Store) Dependencies(ctx context.Context, jobID id.JobID) ([]id.JobID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT depends_on FROM docex_job_deps
		WHERE job_id = $1
		ORDER BY created_at ASC, depends_on ASC`,
		jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("docex/postgres: dependencies: %w", err)
	}
	defer rows.Close()

	var deps []id.JobID
	for rows.Next() {
		var depStr string
		if err := rows.Scan(&depStr); err != nil {
			return nil, fmt.Errorf("docex/postgres: scan dependency: %w", err)
		}
		dep, parseErr := id.ParseJobID(depStr)
		if parseErr != nil {
			return nil, fmt.Errorf("docex/postgres: parse dependency id %q: %w", depStr, parseErr)
		}
		deps = append(deps, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docex/postgres: iterate dependencies: %w", err)
	}
	return deps, nil
}

// HeartbeatJob refreshes the heartbeat for a processing job held by
// workerID.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE docex_jobs SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND worker_id = $2`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("docex/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM docex_jobs WHERE id = $1)`,
		jobID.String(),
	).Scan(&exists); err != nil {
		return fmt.Errorf("docex/postgres: heartbeat job: %w", err)
	}
	if !exists {
		return docex.ErrJobNotFound
	}
	return docex.ErrInvalidStatus
}

// StaleJobs returns processing jobs whose last heartbeat (or start, for
// jobs that never heartbeat) is older than the threshold.
func (s *Store) StaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM docex_jobs
		WHERE status = 'processing'
		  AND COALESCE(heartbeat_at, started_at) < NOW() - $1::interval
		ORDER BY created_at ASC`,
		threshold.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("docex/postgres: stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// attachDependencies loads the dependency edges onto a scanned job.
func (s *Store) attachDependencies(ctx context.Context, j *job.Job) (*job.Job, error) {
	deps, err := s.Dependencies(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	j.DependsOn = deps
	return j, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		statusStr string
		workerStr string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &j.SubjectID, &j.TenantID, &j.Operation, &statusStr, &j.Priority,
		&j.IdempotencyKey, &j.Payload, &j.MaxRetries, &j.RetryCount, &j.LastError,
		&j.RetryAfter, &timeoutNs, &workerStr,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = job.Status(statusStr)
	j.Timeout = time.Duration(timeoutNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("docex/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		if parsedWorker, workerErr := id.ParseWorkerID(workerStr); workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("docex/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docex/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
