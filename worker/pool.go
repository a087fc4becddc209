package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	docex "github.com/tommyGPT2S/DocEX-sub002"
	"github.com/tommyGPT2S/DocEX-sub002/ext"
	"github.com/tommyGPT2S/DocEX-sub002/id"
	"github.com/tommyGPT2S/DocEX-sub002/job"
)

// Pool runs a single poll loop that claims pending jobs and executes
// them concurrently under a counting semaphore. Several pools may run
// against the same store: the store's atomic claim provides the
// cross-process mutual exclusion, and each pool only tracks jobs it
// claimed itself.
type Pool struct {
	store      job.Store
	registry   *job.Registry
	executor   *Executor
	extensions *ext.Registry
	workerID   id.WorkerID
	logger     *slog.Logger

	pollInterval    time.Duration
	batchSize       int
	maxConcurrent   int64
	shutdownTimeout time.Duration
	operationTypes  []string

	// Heartbeat / reaper configuration. Zero disables the loop.
	heartbeatInterval time.Duration
	staleJobThreshold time.Duration

	sem    *semaphore.Weighted
	stopCh chan struct{}
	wg     sync.WaitGroup

	// baseCtx unblocks semaphore waits and in-flight store calls made
	// by the poll loop when the pool stops.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	running bool

	activeMu   sync.Mutex
	activeJobs map[string]id.JobID
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithMaxConcurrent sets how many jobs may execute simultaneously.
func WithMaxConcurrent(n int) PoolOption {
	return func(p *Pool) { p.maxConcurrent = int64(n) }
}

// WithPollInterval sets how often the pool polls for claimable jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithBatchSize sets how many claimable jobs one poll cycle fetches.
func WithBatchSize(n int) PoolOption {
	return func(p *Pool) { p.batchSize = n }
}

// WithOperationTypes restricts the pool to polling only the given
// operation types. Operations without a registered handler are still
// skipped. Empty polls every registered operation.
func WithOperationTypes(ops ...string) PoolOption {
	return func(p *Pool) { p.operationTypes = ops }
}

// WithShutdownTimeout sets how long Stop waits for in-flight jobs.
func WithShutdownTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.shutdownTimeout = d }
}

// WithHeartbeatInterval sets how often the pool heartbeats its active
// jobs. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets the threshold after which processing jobs
// without a heartbeat are reset to pending. A zero value disables the
// reaper.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// PoolOptionsFromConfig translates a worker configuration into pool
// options, so a Coordinator's Config drives the pool it is handed.
func PoolOptionsFromConfig(cfg docex.Config) []PoolOption {
	return []PoolOption{
		WithPollInterval(cfg.PollInterval),
		WithBatchSize(cfg.BatchSize),
		WithMaxConcurrent(cfg.MaxConcurrent),
		WithShutdownTimeout(cfg.ShutdownTimeout),
		WithHeartbeatInterval(cfg.HeartbeatInterval),
		WithStaleJobThreshold(cfg.StaleJobTimeout),
		WithOperationTypes(cfg.OperationTypes...),
	}
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	registry *job.Registry,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:           store,
		registry:        registry,
		executor:        executor,
		extensions:      extensions,
		workerID:        id.NewWorkerID(),
		logger:          logger,
		pollInterval:    time.Second,
		batchSize:       10,
		maxConcurrent:   10,
		shutdownTimeout: 30 * time.Second,
		stopCh:          make(chan struct{}),
		activeJobs:      make(map[string]id.JobID),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sem = semaphore.NewWeighted(p.maxConcurrent)
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the poll, heartbeat, and reaper goroutines. It
// returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.baseCtx, p.baseCancel = context.WithCancel(context.Background())

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int64("max_concurrent", p.maxConcurrent),
		slog.Duration("poll_interval", p.pollInterval),
	)

	p.wg.Add(1)
	go p.pollLoop()

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}
	if p.staleJobThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}
	return nil
}

// Stop halts polling and waits up to the shutdown timeout for in-flight
// jobs. Jobs still running past the timeout are abandoned in processing
// status; the stale-job reaper of a surviving pool returns them to
// pending once their heartbeat expires.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)
	p.baseCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	deadline := time.NewTimer(p.shutdownTimeout)
	defer deadline.Stop()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-deadline.C:
	case <-ctx.Done():
	}

	p.activeMu.Lock()
	abandoned := len(p.activeJobs)
	p.activeMu.Unlock()
	p.logger.Warn("worker pool shutdown timed out, abandoning in-flight jobs",
		slog.Int("abandoned", abandoned),
	)
	return nil
}

// pollLoop is the single polling goroutine: it lists claimable jobs,
// claims them one at a time, and dispatches each under the semaphore.
func (p *Pool) pollLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if p.pollOnce() == 0 {
			p.sleep()
		}
	}
}

// pollOnce fetches and dispatches one batch; returns how many jobs it
// claimed.
func (p *Pool) pollOnce() int {
	operations := p.pollOperations()
	if len(operations) == 0 {
		return 0
	}

	jobs, err := p.store.ListClaimable(p.baseCtx, operations, p.batchSize)
	if err != nil {
		// The store being unreachable is survivable: back off one poll
		// interval and try again, leaving job state untouched.
		if p.baseCtx.Err() == nil {
			p.logger.Error("poll error", slog.String("error", err.Error()))
		}
		return 0
	}

	claimed := 0
	for _, j := range jobs {
		if err := p.sem.Acquire(p.baseCtx, 1); err != nil {
			return claimed
		}

		ok, err := p.store.ClaimJob(p.baseCtx, j.ID, p.workerID)
		if err != nil || !ok {
			p.sem.Release(1)
			if err != nil && p.baseCtx.Err() == nil {
				p.logger.Error("claim error",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
			}
			// !ok means another worker won the claim; nothing to do.
			continue
		}

		now := time.Now().UTC()
		j.Status = job.StatusProcessing
		j.WorkerID = p.workerID
		j.StartedAt = &now
		j.HeartbeatAt = &now

		claimed++
		p.wg.Add(1)
		go p.run(j)
	}
	return claimed
}

// pollOperations returns the operation types this pool polls for: the
// registered operations, intersected with the configured restriction
// when one is set.
func (p *Pool) pollOperations() []string {
	registered := p.registry.Operations()
	if len(p.operationTypes) == 0 {
		return registered
	}

	allowed := make(map[string]struct{}, len(p.operationTypes))
	for _, op := range p.operationTypes {
		allowed[op] = struct{}{}
	}
	ops := make([]string, 0, len(registered))
	for _, op := range registered {
		if _, ok := allowed[op]; ok {
			ops = append(ops, op)
		}
	}
	return ops
}

// run executes one claimed job on its own goroutine.
func (p *Pool) run(j *job.Job) {
	defer p.wg.Done()
	defer p.sem.Release(1)

	key := j.ID.String()
	p.trackJob(key, j.ID)
	defer p.untrackJob(key)

	if p.extensions != nil {
		p.extensions.EmitJobStarted(context.Background(), j)
	}

	// Execution deliberately outlives pool shutdown signals: stop is
	// cooperative and never preempts a running handler.
	if err := p.executor.Execute(context.Background(), j); err != nil {
		p.logger.Debug("job execution did not complete",
			slog.String("job_id", j.ID.String()),
			slog.String("operation", j.Operation),
			slog.String("error", err.Error()),
		)
	}
}

// heartbeatLoop periodically refreshes heartbeats for active jobs so
// other pools' reapers know this worker is alive.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]id.JobID, 0, len(p.activeJobs))
	for _, jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, jobID := range jobIDs {
		if err := p.store.HeartbeatJob(context.Background(), jobID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop returns jobs whose claiming worker died to pending.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleJobThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapStaleJobs()
		}
	}
}

func (p *Pool) reapStaleJobs() {
	stale, err := p.store.StaleJobs(context.Background(), p.staleJobThreshold)
	if err != nil {
		p.logger.Error("stale job scan error", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		j.Status = job.StatusPending
		j.WorkerID = id.WorkerID{}
		j.StartedAt = nil
		j.HeartbeatAt = nil

		if updateErr := p.store.UpdateJob(context.Background(), j); updateErr != nil {
			p.logger.Error("failed to reset stale job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", updateErr.Error()),
			)
			continue
		}

		p.logger.Info("reaped stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("operation", j.Operation),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(key string, jobID id.JobID) {
	p.activeMu.Lock()
	p.activeJobs[key] = jobID
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(key string) {
	p.activeMu.Lock()
	delete(p.activeJobs, key)
	p.activeMu.Unlock()
}
