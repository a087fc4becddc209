package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tommyGPT2S/DocEX-sub002/id"
	"github.com/tommyGPT2S/DocEX-sub002/job"
	"github.com/tommyGPT2S/DocEX-sub002/queue"
	"github.com/tommyGPT2S/DocEX-sub002/store/memory"
)

func newTestQueue() (*queue.Queue, *memory.Store) {
	s := memory.New()
	return queue.New(s), s
}

func TestEnqueueCreatesPendingJob(t *testing.T) {
	t.Parallel()
	q, s := newTestQueue()
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, queue.EnqueueRequest{
		SubjectID: "doc1",
		TenantID:  "tenant-a",
		Operation: "EXTRACT",
		Payload:   []byte(`{"pages":3}`),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != job.StatusPending {
		t.Fatalf("got status %s, want pending", j.Status)
	}
	if j.MaxRetries != 3 {
		t.Fatalf("got max retries %d, want default 3", j.MaxRetries)
	}
}

func TestEnqueueIdempotencyKeyDedup(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue()
	ctx := context.Background()

	req := queue.EnqueueRequest{
		SubjectID:      "doc1",
		Operation:      "EXTRACT",
		IdempotencyKey: "k1",
	}

	first, err := q.Enqueue(ctx, req)
	if err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	second, err := q.Enqueue(ctx, req)
	if err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	if second.String() != first.String() {
		t.Fatalf("got %s, want the first job's ID %s", second, first)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("got %d total jobs, want 1", stats.Total)
	}
}

func TestEnqueueConcurrentDedupSingleLiveJob(t *testing.T) {
	t.Parallel()
	q, s := newTestQueue()
	ctx := context.Background()

	// Concurrent enqueues sharing one key: the store arbitrates, the
	// losers resolve to the winner's job.
	const n = 10
	ids := make([]id.JobID, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = q.Enqueue(ctx, queue.EnqueueRequest{
				SubjectID:      "doc1",
				Operation:      "EXTRACT",
				IdempotencyKey: "k-race",
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Enqueue %d: %v", i, errs[i])
		}
		if ids[i].String() != ids[0].String() {
			t.Fatalf("Enqueue %d returned %s, want %s", i, ids[i], ids[0])
		}
	}

	pending, err := s.ListJobsByStatus(ctx, job.StatusPending, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobsByStatus: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d live jobs for one idempotency key, want 1", len(pending))
	}
}

func TestEnqueueDedupReleasedByCancel(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue()
	ctx := context.Background()

	req := queue.EnqueueRequest{SubjectID: "doc1", Operation: "EXTRACT", IdempotencyKey: "k1"}

	first, err := q.Enqueue(ctx, req)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if ok, err := q.Cancel(ctx, first); err != nil || !ok {
		t.Fatalf("Cancel: ok=%v err=%v", ok, err)
	}

	// A cancelled job releases its key: the next enqueue creates a new
	// row.
	second, err := q.Enqueue(ctx, req)
	if err != nil {
		t.Fatalf("re-Enqueue: %v", err)
	}
	if second.String() == first.String() {
		t.Fatal("cancelled job should not satisfy idempotency dedup")
	}
}

func TestEnqueueBatchMixedDedup(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue()
	ctx := context.Background()

	existing, err := q.Enqueue(ctx, queue.EnqueueRequest{
		SubjectID: "doc1", Operation: "EXTRACT", IdempotencyKey: "k1",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ids, err := q.EnqueueBatch(ctx, []queue.EnqueueRequest{
		{SubjectID: "doc1", Operation: "EXTRACT", IdempotencyKey: "k1"},
		{SubjectID: "doc2", Operation: "EXTRACT", IdempotencyKey: "k2"},
		{SubjectID: "doc3", Operation: "OCR"},
	})
	if err != nil {
		t.Fatalf("EnqueueBatch: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3", len(ids))
	}
	if ids[0].String() != existing.String() {
		t.Fatalf("position 0 should dedup to %s, got %s", existing, ids[0])
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 {
		t.Fatalf("got %d total jobs, want 3 (1 existing + 2 created)", stats.Total)
	}
}

func TestCancelOnlyPending(t *testing.T) {
	t.Parallel()
	q, s := newTestQueue()
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, queue.EnqueueRequest{SubjectID: "doc1", Operation: "EXTRACT"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Claim it: no longer cancellable.
	if _, err := s.ClaimJob(ctx, jobID, id.NewWorkerID()); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	ok, err := q.Cancel(ctx, jobID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ok {
		t.Fatal("cancelling a processing job must be a no-op")
	}

	// Unknown job is also a no-op, not an error.
	ok, err = q.Cancel(ctx, id.NewJobID())
	if err != nil || ok {
		t.Fatalf("Cancel unknown: ok=%v err=%v, want false nil", ok, err)
	}
}

func TestRetryFailedFromDeadLetter(t *testing.T) {
	t.Parallel()
	q, s := newTestQueue()
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, queue.EnqueueRequest{SubjectID: "doc1", Operation: "EXTRACT"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	now := time.Now().UTC()
	j.Status = job.StatusDeadLetter
	j.RetryCount = 3
	j.LastError = "exhausted"
	j.CompletedAt = &now
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	ok, err := q.RetryFailed(ctx, jobID, true)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if !ok {
		t.Fatal("dead-lettered job should be retryable")
	}

	j, err = s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != job.StatusPending {
		t.Fatalf("got status %s, want pending", j.Status)
	}
	if j.RetryCount != 0 || j.LastError != "" || j.CompletedAt != nil {
		t.Fatalf("retry state not cleared: %+v", j)
	}

	// A pending job is not retryable.
	ok, err = q.RetryFailed(ctx, jobID, false)
	if err != nil || ok {
		t.Fatalf("RetryFailed on pending: ok=%v err=%v, want false nil", ok, err)
	}
}

func TestDeadLetterJobsFilter(t *testing.T) {
	t.Parallel()
	q, s := newTestQueue()
	ctx := context.Background()

	for _, op := range []string{"EXTRACT", "EXTRACT", "OCR"} {
		jobID, err := q.Enqueue(ctx, queue.EnqueueRequest{SubjectID: "doc", Operation: op})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		j, err := s.GetJob(ctx, jobID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		j.Status = job.StatusDeadLetter
		if err := s.UpdateJob(ctx, j); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}
	}

	dead, err := q.DeadLetterJobs(ctx, "EXTRACT", 10)
	if err != nil {
		t.Fatalf("DeadLetterJobs: %v", err)
	}
	if len(dead) != 2 {
		t.Fatalf("got %d EXTRACT dead letters, want 2", len(dead))
	}

	all, err := q.DeadLetterJobs(ctx, "", 10)
	if err != nil {
		t.Fatalf("DeadLetterJobs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d dead letters, want 3", len(all))
	}
}

func TestClearCompleted(t *testing.T) {
	t.Parallel()
	q, s := newTestQueue()
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, queue.EnqueueRequest{SubjectID: "doc1", Operation: "EXTRACT"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	done := time.Now().UTC().AddDate(0, 0, -10)
	j.Status = job.StatusCompleted
	j.CompletedAt = &done
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	n, err := q.ClearCompleted(ctx, 7)
	if err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d purged, want 1", n)
	}
}

func TestJanitorSweep(t *testing.T) {
	t.Parallel()
	q, s := newTestQueue()
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, queue.EnqueueRequest{SubjectID: "doc1", Operation: "EXTRACT"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	done := time.Now().UTC().AddDate(0, 0, -30)
	j.Status = job.StatusCompleted
	j.CompletedAt = &done
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	jan, err := queue.NewJanitor(q, queue.WithRetentionDays(7), queue.WithSchedule("@daily"))
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}

	n, err := jan.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d purged, want 1", n)
	}

	jan.Start()
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := jan.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
