package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	docex "github.com/tommyGPT2S/DocEX-sub002"
	"github.com/tommyGPT2S/DocEX-sub002/id"
	"github.com/tommyGPT2S/DocEX-sub002/job"
)

// Ensure Store implements the job contract at compile time.
var _ job.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	jobs map[string]*job.Job
	// deps maps a job ID to the IDs it depends on.
	deps map[string][]id.JobID
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*job.Job),
		deps: make(map[string][]id.JobID),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job along with its dependency edges.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(j)
}

// CreateJobs persists a batch of jobs atomically: every job is checked
// before any is inserted, so a duplicate ID fails the whole batch.
func (m *Store) CreateJobs(_ context.Context, jobs []*job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range jobs {
		if _, exists := m.jobs[j.ID.String()]; exists {
			return docex.ErrJobAlreadyExists
		}
	}
	for _, j := range jobs {
		if err := m.createLocked(j); err != nil {
			return err
		}
	}
	return nil
}

// createLocked inserts one job. Caller holds mu. An idempotency key
// held by another live job rejects the insert, so concurrent enqueues
// with the same key cannot both land.
func (m *Store) createLocked(j *job.Job) error {
	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return docex.ErrJobAlreadyExists
	}
	if j.IdempotencyKey != "" && j.Status.Live() {
		for _, existing := range m.jobs {
			if existing.IdempotencyKey == j.IdempotencyKey && existing.Status.Live() {
				return docex.ErrJobAlreadyExists
			}
		}
	}
	cp := *j
	cp.DependsOn = append([]id.JobID(nil), j.DependsOn...)
	m.jobs[key] = &cp
	if len(cp.DependsOn) > 0 {
		m.deps[key] = append([]id.JobID(nil), cp.DependsOn...)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, docex.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// FindByIdempotencyKey returns the live job holding the given key.
// Cancelled and dead-lettered jobs release their key.
func (m *Store) FindByIdempotencyKey(_ context.Context, key string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, j := range m.jobs {
		if j.IdempotencyKey == key && j.Status.Live() {
			cp := *j
			return &cp, nil
		}
	}
	return nil, docex.ErrJobNotFound
}

// ListClaimable returns up to limit pending jobs ready for a worker:
// operation matches, RetryAfter (if any) has passed, and every
// dependency has completed. Ordered oldest-created-first.
func (m *Store) ListClaimable(_ context.Context, operations []string, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opSet := make(map[string]struct{}, len(operations))
	for _, op := range operations {
		opSet[op] = struct{}{}
	}

	now := time.Now().UTC()

	candidates := make([]*job.Job, 0, limit)
	for _, j := range m.jobs {
		if j.Status != job.StatusPending {
			continue
		}
		if j.RetryAfter != nil && j.RetryAfter.After(now) {
			continue
		}
		if len(opSet) > 0 {
			if _, ok := opSet[j.Operation]; !ok {
				continue
			}
		}
		if !m.depsCompleteLocked(j.ID) {
			continue
		}
		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].CreatedAt.Before(candidates[b].CreatedAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		cp := *j
		out[i] = &cp
	}
	return out, nil
}

// depsCompleteLocked reports whether every dependency of jobID has
// completed. A dependency whose row no longer exists counts as complete:
// purge only removes completed jobs. Caller holds mu.
func (m *Store) depsCompleteLocked(jobID id.JobID) bool {
	for _, depID := range m.deps[jobID.String()] {
		dep, ok := m.jobs[depID.String()]
		if !ok {
			continue
		}
		if dep.Status != job.StatusCompleted {
			return false
		}
	}
	return true
}

// ClaimJob atomically transitions a pending job to processing on behalf
// of workerID. Returns false if another worker already won the job or
// it left pending in the meantime.
func (m *Store) ClaimJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return false, docex.ErrJobNotFound
	}
	if j.Status != job.StatusPending {
		return false, nil
	}

	now := time.Now().UTC()
	j.Status = job.StatusProcessing
	j.WorkerID = workerID
	j.StartedAt = &now
	j.HeartbeatAt = &now
	j.UpdatedAt = now
	return true, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return docex.ErrJobNotFound
	}
	cp := *j
	cp.DependsOn = append([]id.JobID(nil), j.DependsOn...)
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job and its dependency edges.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return docex.ErrJobNotFound
	}
	delete(m.jobs, key)
	delete(m.deps, key)
	return nil
}

// ListJobsByStatus returns jobs matching the given status,
// oldest-created-first, filtered and paginated by opts.
func (m *Store) ListJobsByStatus(_ context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*job.Job, 0)
	for _, j := range m.jobs {
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
		matched = append(matched, j)
	}

	sort.Slice(matched, func(a, b int) bool {
		return matched[a].CreatedAt.Before(matched[b].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return []*job.Job{}, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*job.Job, len(matched))
	for i, j := range matched {
		cp := *j
		out[i] = &cp
	}
	return out, nil
}

// QueueStats aggregates job counts by status and operation type.
func (m *Store) QueueStats(_ context.Context) (*job.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &job.Stats{
		ByStatus:    make(map[job.Status]int64),
		ByOperation: make(map[string]int64),
	}
	for _, j := range m.jobs {
		stats.Total++
		stats.ByStatus[j.Status]++
		stats.ByOperation[j.Operation]++
	}
	return stats, nil
}

// PurgeCompleted deletes completed jobs finished before the cutoff.
func (m *Store) PurgeCompleted(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for key, j := range m.jobs {
		if j.Status != job.StatusCompleted {
			continue
		}
		if j.CompletedAt == nil || !j.CompletedAt.Before(before) {
			continue
		}
		delete(m.jobs, key)
		delete(m.deps, key)
		purged++
	}
	return purged, nil
}

// Dependencies returns the IDs this job depends on.
func (m *Store) Dependencies(_ context.Context, jobID id.JobID) ([]id.JobID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.jobs[jobID.String()]; !ok {
		return nil, docex.ErrJobNotFound
	}
	return append([]id.JobID(nil), m.deps[jobID.String()]...), nil
}

// HeartbeatJob refreshes the heartbeat timestamp for a processing job
// held by workerID.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return docex.ErrJobNotFound
	}
	if j.Status != job.StatusProcessing || j.WorkerID.String() != workerID.String() {
		return docex.ErrInvalidStatus
	}

	now := time.Now().UTC()
	j.HeartbeatAt = &now
	j.UpdatedAt = now
	return nil
}

// StaleJobs returns processing jobs whose heartbeat is older than the
// threshold, meaning the claiming worker likely died mid-job.
func (m *Store) StaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)

	stale := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.Status != job.StatusProcessing {
			continue
		}
		last := j.StartedAt
		if j.HeartbeatAt != nil {
			last = j.HeartbeatAt
		}
		if last == nil || last.Before(cutoff) {
			cp := *j
			stale = append(stale, &cp)
		}
	}

	sort.Slice(stale, func(a, b int) bool {
		return stale[a].CreatedAt.Before(stale[b].CreatedAt)
	})
	return stale, nil
}
