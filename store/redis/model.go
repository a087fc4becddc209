package redis

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tommyGPT2S/DocEX-sub002/id"
	"github.com/tommyGPT2S/DocEX-sub002/job"
)

// jobModel is the msgpack wire form of a job. Only primitive field types
// appear here: timestamps are unix nanoseconds (zero = unset) and IDs are
// strings, so the claim Lua script can round-trip the blob with cmsgpack,
// which does not understand msgpack extension types.
type jobModel struct {
	ID             string   `msgpack:"id"`
	SubjectID      string   `msgpack:"subject_id"`
	TenantID       string   `msgpack:"tenant_id"`
	Operation      string   `msgpack:"operation"`
	Status         string   `msgpack:"status"`
	Priority       int      `msgpack:"priority"`
	IdempotencyKey string   `msgpack:"idempotency_key"`
	Payload        []byte   `msgpack:"payload"`
	MaxRetries     int      `msgpack:"max_retries"`
	RetryCount     int      `msgpack:"retry_count"`
	LastError      string   `msgpack:"last_error"`
	RetryAfter     int64    `msgpack:"retry_after"`
	TimeoutNs      int64    `msgpack:"timeout_ns"`
	WorkerID       string   `msgpack:"worker_id"`
	DependsOn      []string `msgpack:"depends_on"`
	CreatedAt      int64    `msgpack:"created_at"`
	UpdatedAt      int64    `msgpack:"updated_at"`
	StartedAt      int64    `msgpack:"started_at"`
	CompletedAt    int64    `msgpack:"completed_at"`
	HeartbeatAt    int64    `msgpack:"heartbeat_at"`
}

func encodeJob(j *job.Job) ([]byte, error) {
	m := jobModel{
		ID:             j.ID.String(),
		SubjectID:      j.SubjectID,
		TenantID:       j.TenantID,
		Operation:      j.Operation,
		Status:         string(j.Status),
		Priority:       j.Priority,
		IdempotencyKey: j.IdempotencyKey,
		Payload:        j.Payload,
		MaxRetries:     j.MaxRetries,
		RetryCount:     j.RetryCount,
		LastError:      j.LastError,
		RetryAfter:     unixNano(j.RetryAfter),
		TimeoutNs:      j.Timeout.Nanoseconds(),
		WorkerID:       j.WorkerID.String(),
		CreatedAt:      j.CreatedAt.UnixNano(),
		UpdatedAt:      j.UpdatedAt.UnixNano(),
		StartedAt:      unixNano(j.StartedAt),
		CompletedAt:    unixNano(j.CompletedAt),
		HeartbeatAt:    unixNano(j.HeartbeatAt),
	}
	for _, dep := range j.DependsOn {
		m.DependsOn = append(m.DependsOn, dep.String())
	}

	b, err := msgpack.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("docex/redis: encode job: %w", err)
	}
	return b, nil
}

func decodeJob(data []byte) (*job.Job, error) {
	var m jobModel
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("docex/redis: decode job: %w", err)
	}

	jID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("docex/redis: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		ID:             jID,
		SubjectID:      m.SubjectID,
		TenantID:       m.TenantID,
		Operation:      m.Operation,
		Status:         job.Status(m.Status),
		Priority:       m.Priority,
		IdempotencyKey: m.IdempotencyKey,
		Payload:        m.Payload,
		MaxRetries:     m.MaxRetries,
		RetryCount:     m.RetryCount,
		LastError:      m.LastError,
		RetryAfter:     timeFromNano(m.RetryAfter),
		Timeout:        time.Duration(m.TimeoutNs),
		CreatedAt:      time.Unix(0, m.CreatedAt).UTC(),
		UpdatedAt:      time.Unix(0, m.UpdatedAt).UTC(),
		StartedAt:      timeFromNano(m.StartedAt),
		CompletedAt:    timeFromNano(m.CompletedAt),
		HeartbeatAt:    timeFromNano(m.HeartbeatAt),
	}

	if m.WorkerID != "" {
		if wid, widErr := id.ParseWorkerID(m.WorkerID); widErr == nil {
			j.WorkerID = wid
		}
	}
	for _, depStr := range m.DependsOn {
		dep, depErr := id.ParseJobID(depStr)
		if depErr != nil {
			return nil, fmt.Errorf("docex/redis: parse dependency id %q: %w", depStr, depErr)
		}
		j.DependsOn = append(j.DependsOn, dep)
	}

	return j, nil
}

func unixNano(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixNano()
}

func timeFromNano(ns int64) *time.Time {
	if ns == 0 {
		return nil
	}
	t := time.Unix(0, ns).UTC()
	return &t
}
