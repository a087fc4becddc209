package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	docex "github.com/tommyGPT2S/DocEX-sub002"
	"github.com/tommyGPT2S/DocEX-sub002/backoff"
	"github.com/tommyGPT2S/DocEX-sub002/ext"
	"github.com/tommyGPT2S/DocEX-sub002/job"
	"github.com/tommyGPT2S/DocEX-sub002/middleware"
	"github.com/tommyGPT2S/DocEX-sub002/store/memory"
	"github.com/tommyGPT2S/DocEX-sub002/worker"
)

func setupExecutor(t *testing.T, resolver worker.SubjectResolver, defaultTimeout time.Duration) (
	*worker.Executor, *memory.Store, *job.Registry,
) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)
	bo := backoff.NewConstant(time.Millisecond)

	executor := worker.NewExecutor(
		reg, extensions, s, resolver, bo, defaultTimeout, logger,
		middleware.Recover(logger),
	)
	return executor, s, reg
}

func TestExecutor_NoHandlerFailsTerminally(t *testing.T) {
	executor, s, _ := setupExecutor(t, nil, time.Minute)

	jobID := enqueueTestJob(t, s, "UNREGISTERED", 3, nil)
	j, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}

	execErr := executor.Execute(context.Background(), j)
	if !errors.Is(execErr, docex.ErrNoHandler) {
		t.Fatalf("execute error = %v, want ErrNoHandler", execErr)
	}

	got, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != job.StatusFailed {
		t.Errorf("status = %q, want %q", got.Status, job.StatusFailed)
	}
	// A missing handler is not retryable; the retry budget stays intact.
	if got.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0", got.RetryCount)
	}
	if got.LastError == "" {
		t.Error("expected LastError to be set")
	}
}

func TestExecutor_SubjectNotFoundFailsTerminally(t *testing.T) {
	resolver := worker.SubjectResolverFunc(func(_ context.Context, subjectID string) (any, error) {
		return nil, docex.ErrSubjectNotFound
	})
	executor, s, reg := setupExecutor(t, resolver, time.Minute)

	job.RegisterDefinition(reg, job.NewDefinition("EXTRACT",
		func(_ context.Context, _ *job.Request[struct{}]) error {
			t.Fatal("handler must not run when the subject is missing")
			return nil
		}))

	jobID := enqueueTestJob(t, s, "EXTRACT", 3, nil)
	j, _ := s.GetJob(context.Background(), jobID)

	execErr := executor.Execute(context.Background(), j)
	if !errors.Is(execErr, docex.ErrSubjectNotFound) {
		t.Fatalf("execute error = %v, want ErrSubjectNotFound", execErr)
	}

	got, _ := s.GetJob(context.Background(), jobID)
	if got.Status != job.StatusFailed {
		t.Errorf("status = %q, want %q", got.Status, job.StatusFailed)
	}
}

func TestExecutor_ResolvedSubjectReachesHandler(t *testing.T) {
	type document struct{ Name string }
	resolver := worker.SubjectResolverFunc(func(_ context.Context, subjectID string) (any, error) {
		return &document{Name: subjectID}, nil
	})
	executor, s, reg := setupExecutor(t, resolver, time.Minute)

	job.RegisterDefinition(reg, job.NewDefinition("EXTRACT",
		func(_ context.Context, req *job.Request[struct{}]) error {
			doc, ok := req.Subject.(*document)
			if !ok {
				t.Fatalf("subject type = %T, want *document", req.Subject)
			}
			if doc.Name != "doc-1" {
				t.Errorf("subject name = %q, want %q", doc.Name, "doc-1")
			}
			return nil
		}))

	jobID := enqueueTestJob(t, s, "EXTRACT", 3, nil)
	j, _ := s.GetJob(context.Background(), jobID)

	if err := executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("execute error: %v", err)
	}
	got, _ := s.GetJob(context.Background(), jobID)
	if got.Status != job.StatusCompleted {
		t.Errorf("status = %q, want %q", got.Status, job.StatusCompleted)
	}
}

func TestExecutor_TimeoutSchedulesRetry(t *testing.T) {
	executor, s, reg := setupExecutor(t, nil, time.Minute)

	released := make(chan struct{})
	job.RegisterDefinition(reg, job.NewDefinition("HUNG",
		func(_ context.Context, _ *job.Request[struct{}]) error {
			// Ignores ctx on purpose: the executor's hard deadline must
			// still move the job on.
			<-released
			return nil
		},
		job.WithTimeout(10*time.Millisecond)))
	t.Cleanup(func() { close(released) })

	jobID := enqueueTestJob(t, s, "HUNG", 3, nil)
	j, _ := s.GetJob(context.Background(), jobID)

	start := time.Now()
	execErr := executor.Execute(context.Background(), j)
	if execErr == nil {
		t.Fatal("expected a timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("execute blocked for %v despite the 10ms timeout", elapsed)
	}

	got, _ := s.GetJob(context.Background(), jobID)
	if got.Status != job.StatusPending {
		t.Errorf("status = %q, want %q (retry scheduled)", got.Status, job.StatusPending)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", got.RetryCount)
	}
	if got.RetryAfter == nil {
		t.Error("expected RetryAfter to be set")
	}
}

func TestExecutor_JobTimeoutOverridesDefault(t *testing.T) {
	executor, s, reg := setupExecutor(t, nil, time.Minute)

	job.RegisterDefinition(reg, job.NewDefinition("SLOWISH",
		func(ctx context.Context, _ *job.Request[struct{}]) error {
			select {
			case <-time.After(5 * time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}))

	jobID := enqueueTestJob(t, s, "SLOWISH", 0, nil)
	j, _ := s.GetJob(context.Background(), jobID)
	j.Timeout = 10 * time.Millisecond
	if err := s.UpdateJob(context.Background(), j); err != nil {
		t.Fatalf("update job: %v", err)
	}

	start := time.Now()
	if execErr := executor.Execute(context.Background(), j); execErr == nil {
		t.Fatal("expected a timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("execute blocked for %v despite the per-job timeout", elapsed)
	}
}

func TestExecutor_PanicIsRecoveredAsFailure(t *testing.T) {
	executor, s, reg := setupExecutor(t, nil, time.Minute)

	job.RegisterDefinition(reg, job.NewDefinition("PANICS",
		func(_ context.Context, _ *job.Request[struct{}]) error {
			panic("corrupt payload")
		}))

	jobID := enqueueTestJob(t, s, "PANICS", 0, nil)
	j, _ := s.GetJob(context.Background(), jobID)

	if execErr := executor.Execute(context.Background(), j); execErr == nil {
		t.Fatal("expected an error from the recovered panic")
	}

	got, _ := s.GetJob(context.Background(), jobID)
	if got.Status != job.StatusDeadLetter {
		t.Errorf("status = %q, want %q", got.Status, job.StatusDeadLetter)
	}
	if got.LastError == "" {
		t.Error("expected LastError to record the panic")
	}
}

func TestExecutor_SuccessClearsRetryState(t *testing.T) {
	executor, s, reg := setupExecutor(t, nil, time.Minute)

	job.RegisterDefinition(reg, job.NewDefinition("EXTRACT",
		func(_ context.Context, _ *job.Request[struct{}]) error { return nil }))

	jobID := enqueueTestJob(t, s, "EXTRACT", 3, nil)
	j, _ := s.GetJob(context.Background(), jobID)
	j.RetryCount = 2
	j.LastError = "previous transient failure"
	after := time.Now().UTC()
	j.RetryAfter = &after
	if err := s.UpdateJob(context.Background(), j); err != nil {
		t.Fatalf("update job: %v", err)
	}

	if err := executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("execute error: %v", err)
	}

	got, _ := s.GetJob(context.Background(), jobID)
	if got.Status != job.StatusCompleted {
		t.Errorf("status = %q, want %q", got.Status, job.StatusCompleted)
	}
	if got.LastError != "" {
		t.Errorf("LastError = %q, want empty", got.LastError)
	}
	if got.RetryAfter != nil {
		t.Error("expected RetryAfter to be cleared")
	}
	// RetryCount is history, not state: it survives as an attempt record.
	if got.RetryCount != 2 {
		t.Errorf("retry_count = %d, want 2", got.RetryCount)
	}
}
