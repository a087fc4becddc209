package job

import (
	"time"

	"github.com/tommyGPT2S/DocEX-sub002/id"
)

// Status represents the lifecycle status of a job.
type Status string

const (
	// StatusPending means the job is waiting to be claimed by a worker.
	StatusPending Status = "pending"
	// StatusProcessing means a worker currently holds the job.
	StatusProcessing Status = "processing"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed terminally without entering the
	// retry path (no handler registered, subject missing). Eligible for
	// operator-driven RetryFailed.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was cancelled while still pending.
	StatusCancelled Status = "cancelled"
	// StatusDeadLetter means the job exhausted its retry budget.
	// Terminal until an explicit RetryFailed call.
	StatusDeadLetter Status = "dead_letter"
)

// Terminal reports whether the status is a resting state no worker will
// move the job out of on its own.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusDeadLetter:
		return true
	default:
		return false
	}
}

// Live reports whether the status counts for idempotency-key deduplication.
// Cancelled and dead-lettered jobs release their key; everything else,
// including completed jobs, still holds it.
func (s Status) Live() bool {
	return s != StatusCancelled && s != StatusDeadLetter
}

// Job represents one unit of asynchronous work tracked through the
// status lifecycle. Jobs are created by the queue and mutated only by
// workers during lifecycle transitions.
type Job struct {
	ID             id.JobID      `json:"id"`
	SubjectID      string        `json:"subject_id"`
	TenantID       string        `json:"tenant_id,omitempty"`
	Operation      string        `json:"operation"`
	Status         Status        `json:"status"`
	Priority       int           `json:"priority"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	Payload        []byte        `json:"payload,omitempty"`
	MaxRetries     int           `json:"max_retries"`
	RetryCount     int           `json:"retry_count"`
	LastError      string        `json:"last_error,omitempty"`
	RetryAfter     *time.Time    `json:"retry_after,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
	WorkerID       id.WorkerID   `json:"worker_id,omitempty"`
	DependsOn      []id.JobID    `json:"depends_on,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt    *time.Time    `json:"heartbeat_at,omitempty"`
}

// Dependency is a directed edge: the job identified by JobID may not be
// claimed until DependsOn has completed. No cycle detection is performed;
// callers are responsible for keeping the graph acyclic.
type Dependency struct {
	JobID     id.JobID  `json:"job_id"`
	DependsOn id.JobID  `json:"depends_on"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats aggregates queue contents by status and operation type.
type Stats struct {
	Total       int64            `json:"total"`
	ByStatus    map[Status]int64 `json:"by_status"`
	ByOperation map[string]int64 `json:"by_operation"`
}
