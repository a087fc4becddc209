package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	docex "github.com/tommyGPT2S/DocEX-sub002"
	"github.com/tommyGPT2S/DocEX-sub002/id"
	"github.com/tommyGPT2S/DocEX-sub002/job"
)

// claimScript atomically transitions a pending job to processing. It
// rewrites the msgpack blob server-side with cmsgpack, so no other
// client can observe or win an intermediate state.
//
// KEYS[1] = job blob key, KEYS[2] = pending sorted set for the operation
// ARGV[1] = worker ID, ARGV[2] = now (unix nanos), ARGV[3] = job ID
//
// Returns 1 on claim, 0 if the job was not pending, -1 if missing.
var claimScript = goredis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return -1
end
local j = cmsgpack.unpack(raw)
if j.status ~= 'pending' then
  return 0
end
local now = tonumber(ARGV[2])
j.status = 'processing'
j.worker_id = ARGV[1]
j.started_at = now
j.heartbeat_at = now
j.updated_at = now
redis.call('SET', KEYS[1], cmsgpack.pack(j))
redis.call('ZREM', KEYS[2], ARGV[3])
return 1
`)

// heartbeatScript refreshes heartbeat_at server-side, only while the
// job is still processing under the given worker. A plain read-modify-
// write here would race the executor's terminal update and write a
// stale processing blob back over it.
//
// KEYS[1] = job blob key
// ARGV[1] = worker ID, ARGV[2] = now (unix nanos)
//
// Returns 1 on refresh, 0 if not processing under this worker, -1 if
// missing.
var heartbeatScript = goredis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return -1
end
local j = cmsgpack.unpack(raw)
if j.status ~= 'processing' or j.worker_id ~= ARGV[1] then
  return 0
end
local now = tonumber(ARGV[2])
j.heartbeat_at = now
j.updated_at = now
redis.call('SET', KEYS[1], cmsgpack.pack(j))
return 1
`)

// CreateJob persists a new job blob and indexes it for claiming. The
// idempotency mapping is claimed with SETNX before the blob is written,
// so of two concurrent creates sharing a key exactly one lands.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	blob, err := encodeJob(j)
	if err != nil {
		return err
	}

	jID := j.ID.String()
	hasIdem := j.IdempotencyKey != "" && j.Status.Live()
	if hasIdem {
		if err := s.claimIdemKey(ctx, j.IdempotencyKey, jID); err != nil {
			return err
		}
	}

	set, err := s.client.SetNX(ctx, jobKey(jID), blob, 0).Result()
	if err != nil {
		return fmt.Errorf("docex/redis: create job: %w", err)
	}
	if !set {
		if hasIdem {
			s.client.Del(ctx, idemKey(j.IdempotencyKey))
		}
		return docex.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, jobIDsKey, jID)
	if j.Status == job.StatusPending {
		pipe.ZAdd(ctx, pendingKey(j.Operation), goredis.Z{
			Score:  float64(j.CreatedAt.UnixMilli()),
			Member: jID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("docex/redis: index job: %w", err)
	}
	return nil
}

// claimIdemKey maps the idempotency key to jID, winning or losing
// atomically via SETNX. A mapping held by a job that is no longer live
// is stale; it is dropped and the claim retried once.
func (s *Store) claimIdemKey(ctx context.Context, key, jID string) error {
	for attempt := 0; attempt < 2; attempt++ {
		set, err := s.client.SetNX(ctx, idemKey(key), jID, 0).Result()
		if err != nil {
			return fmt.Errorf("docex/redis: claim idempotency key: %w", err)
		}
		if set {
			return nil
		}

		holder, err := s.client.Get(ctx, idemKey(key)).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			return fmt.Errorf("docex/redis: claim idempotency key: %w", err)
		}
		hj, err := s.getJobByKey(ctx, jobKey(holder))
		if err != nil {
			if errors.Is(err, docex.ErrJobNotFound) {
				s.client.Del(ctx, idemKey(key))
				continue
			}
			return err
		}
		if hj.Status.Live() {
			return docex.ErrJobAlreadyExists
		}
		s.client.Del(ctx, idemKey(key))
	}
	return docex.ErrJobAlreadyExists
}

// CreateJobs persists a batch of jobs. All IDs are checked before any
// job is written, so a duplicate anywhere in the batch leaves the store
// untouched.
func (s *Store) CreateJobs(ctx context.Context, jobs []*job.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	for _, j := range jobs {
		exists, err := s.client.Exists(ctx, jobKey(j.ID.String())).Result()
		if err != nil {
			return fmt.Errorf("docex/redis: create jobs check: %w", err)
		}
		if exists > 0 {
			return docex.ErrJobAlreadyExists
		}
	}

	for _, j := range jobs {
		if err := s.CreateJob(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// FindByIdempotencyKey returns the live job holding the given key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*job.Job, error) {
	jID, err := s.client.Get(ctx, idemKey(key)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, docex.ErrJobNotFound
		}
		return nil, fmt.Errorf("docex/redis: find by idempotency key: %w", err)
	}

	j, err := s.getJobByKey(ctx, jobKey(jID))
	if err != nil {
		return nil, err
	}
	if !j.Status.Live() {
		// Stale mapping: the holder released the key.
		s.client.Del(ctx, idemKey(key))
		return nil, docex.ErrJobNotFound
	}
	return j, nil
}

// ListClaimable returns up to limit pending jobs for the given
// operations whose retry_after has passed and whose dependencies have
// all completed, oldest-created-first. A dependency whose blob no longer
// exists counts as complete: purging only removes completed jobs.
func (s *Store) ListClaimable(ctx context.Context, operations []string, limit int) ([]*job.Job, error) {
	now := time.Now().UTC()

	var claimable []*job.Job
	for _, op := range operations {
		ids, err := s.client.ZRangeByScore(ctx, pendingKey(op), &goredis.ZRangeBy{
			Min: "-inf", Max: "+inf",
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("docex/redis: list pending %s: %w", op, err)
		}

		for _, jID := range ids {
			j, getErr := s.getJobByKey(ctx, jobKey(jID))
			if getErr != nil {
				if errors.Is(getErr, docex.ErrJobNotFound) {
					// Orphaned index entry.
					s.client.ZRem(ctx, pendingKey(op), jID)
					continue
				}
				return nil, getErr
			}
			if j.Status != job.StatusPending {
				s.client.ZRem(ctx, pendingKey(op), jID)
				continue
			}
			if j.RetryAfter != nil && j.RetryAfter.After(now) {
				continue
			}
			ok, depErr := s.dependenciesComplete(ctx, j)
			if depErr != nil {
				return nil, depErr
			}
			if !ok {
				continue
			}
			claimable = append(claimable, j)
		}
	}

	sort.Slice(claimable, func(i, k int) bool {
		return claimable[i].CreatedAt.Before(claimable[k].CreatedAt)
	})
	if limit > 0 && len(claimable) > limit {
		claimable = claimable[:limit]
	}
	return claimable, nil
}

// ClaimJob atomically transitions a pending job to processing on behalf
// of workerID via the claim Lua script.
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) (bool, error) {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}

	jID := jobID.String()
	res, err := claimScript.Run(ctx, s.client,
		[]string{jobKey(jID), pendingKey(j.Operation)},
		workerID.String(), time.Now().UTC().UnixNano(), jID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("docex/redis: claim job: %w", err)
	}

	switch res {
	case 1:
		return true, nil
	case -1:
		return false, docex.ErrJobNotFound
	default:
		return false, nil
	}
}

// UpdateJob persists changes to an existing job and keeps the pending
// and idempotency indexes consistent with the new status.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	old, err := s.getJobByKey(ctx, jobKey(jID))
	if err != nil {
		return err
	}

	j.UpdatedAt = time.Now().UTC()
	blob, err := encodeJob(j)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, jobKey(jID), blob, 0)
	if j.Status == job.StatusPending {
		pipe.ZAdd(ctx, pendingKey(j.Operation), goredis.Z{
			Score:  float64(j.CreatedAt.UnixMilli()),
			Member: jID,
		})
	} else {
		pipe.ZRem(ctx, pendingKey(old.Operation), jID)
	}
	if j.IdempotencyKey != "" && !j.Status.Live() {
		// The key is released; drop the mapping if this job holds it.
		pipe.Del(ctx, idemKey(j.IdempotencyKey))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("docex/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job and its index entries.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	j, err := s.getJobByKey(ctx, jobKey(jID))
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(jID))
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, pendingKey(j.Operation), jID)
	if j.IdempotencyKey != "" {
		pipe.Del(ctx, idemKey(j.IdempotencyKey))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("docex/redis: delete job: %w", err)
	}
	return nil
}

// ListJobsByStatus returns jobs matching the given status, oldest first.
// This is a full enumeration — Redis is the ephemeral backend and list
// queries are operator-facing, not hot-path.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	all, err := s.scanJobs(ctx)
	if err != nil {
		return nil, err
	}

	var jobs []*job.Job
	for _, j := range all {
		if j.Status != status {
			continue
		}
		if opts.Operation != "" && j.Operation != opts.Operation {
			continue
		}
		if opts.SubjectID != "" && j.SubjectID != opts.SubjectID {
			continue
		}
		if opts.TenantID != "" && j.TenantID != opts.TenantID {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// QueueStats aggregates job counts by status and operation type.
func (s *Store) QueueStats(ctx context.Context) (*job.Stats, error) {
	all, err := s.scanJobs(ctx)
	if err != nil {
		return nil, err
	}

	stats := &job.Stats{
		ByStatus:    make(map[job.Status]int64),
		ByOperation: make(map[string]int64),
	}
	for _, j := range all {
		stats.Total++
		stats.ByStatus[j.Status]++
		stats.ByOperation[j.Operation]++
	}
	return stats, nil
}

// PurgeCompleted deletes completed jobs finished before the cutoff.
func (s *Store) PurgeCompleted(ctx context.Context, before time.Time) (int64, error) {
	all, err := s.scanJobs(ctx)
	if err != nil {
		return 0, err
	}

	var purged int64
	for _, j := range all {
		if j.Status != job.StatusCompleted {
			continue
		}
		if j.CompletedAt == nil || !j.CompletedAt.Before(before) {
			continue
		}
		if delErr := s.DeleteJob(ctx, j.ID); delErr != nil {
			if errors.Is(delErr, docex.ErrJobNotFound) {
				continue
			}
			return purged, delErr
		}
		purged++
	}
	return purged, nil
}

// Dependencies returns the IDs this job depends on.
func (s *Store) Dependencies(ctx context.Context, jobID id.JobID) ([]id.JobID, error) {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return j.DependsOn, nil
}

// HeartbeatJob refreshes the heartbeat for a processing job held by
// workerID. The status and worker checks run inside Redis so a
// concurrent terminal update cannot be clobbered by a stale blob.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	res, err := heartbeatScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String())},
		workerID.String(), time.Now().UTC().UnixNano(),
	).Int()
	if err != nil {
		return fmt.Errorf("docex/redis: heartbeat job: %w", err)
	}

	switch res {
	case 1:
		return nil
	case -1:
		return docex.ErrJobNotFound
	default:
		return docex.ErrInvalidStatus
	}
}

// StaleJobs returns processing jobs whose last heartbeat (or start, for
// jobs that never heartbeat) is older than the threshold.
func (s *Store) StaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	all, err := s.scanJobs(ctx)
	if err != nil {
		return nil, err
	}

	var stale []*job.Job
	for _, j := range all {
		if j.Status != job.StatusProcessing {
			continue
		}
		last := j.HeartbeatAt
		if last == nil {
			last = j.StartedAt
		}
		if last != nil && last.Before(cutoff) {
			stale = append(stale, j)
		}
	}

	sort.Slice(stale, func(i, k int) bool {
		return stale[i].CreatedAt.Before(stale[k].CreatedAt)
	})
	return stale, nil
}

// dependenciesComplete reports whether every dependency of j has
// completed. Missing parents count as complete.
func (s *Store) dependenciesComplete(ctx context.Context, j *job.Job) (bool, error) {
	for _, dep := range j.DependsOn {
		parent, err := s.getJobByKey(ctx, jobKey(dep.String()))
		if err != nil {
			if errors.Is(err, docex.ErrJobNotFound) {
				continue
			}
			return false, err
		}
		if parent.Status != job.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, docex.ErrJobNotFound
		}
		return nil, fmt.Errorf("docex/redis: get job: %w", err)
	}
	return decodeJob(raw)
}

// scanJobs loads every tracked job, skipping orphaned index entries.
func (s *Store) scanJobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("docex/redis: scan job ids: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			if errors.Is(getErr, docex.ErrJobNotFound) {
				s.client.SRem(ctx, jobIDsKey, jID)
				continue
			}
			return nil, getErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
