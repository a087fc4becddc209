package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/tommyGPT2S/DocEX-sub002/id"
	"github.com/tommyGPT2S/DocEX-sub002/job"
	"github.com/tommyGPT2S/DocEX-sub002/middleware"
	"github.com/tommyGPT2S/DocEX-sub002/tenant"
)

func newTestJob() *job.Job {
	return &job.Job{
		ID:        id.NewJobID(),
		SubjectID: "doc1",
		Operation: "EXTRACT",
		Status:    job.StatusProcessing,
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	err := chain(context.Background(), newTestJob(), handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	handler := func(_ context.Context) error {
		called = true
		return nil
	}

	err := chain(context.Background(), newTestJob(), handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		return next(ctx)
	}
	chain := middleware.Chain(mw)
	want := errors.New("handler error")

	err := chain(context.Background(), newTestJob(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	j := newTestJob()

	err := mw(context.Background(), j, func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got := err.Error(); got != "panic in operation EXTRACT: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)

	called := false
	err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Success(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)

	called := false
	err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Error(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	want := errors.New("fail")

	err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTimeout_UsesJobDeadline(t *testing.T) {
	mw := middleware.Timeout(time.Hour)
	j := newTestJob()
	j.Timeout = 10 * time.Millisecond

	err := mw(context.Background(), j, func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatal("expected deadline in context")
		}
		if time.Until(deadline) > 50*time.Millisecond {
			t.Errorf("deadline too far out: %v", time.Until(deadline))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTimeout_FallsBack(t *testing.T) {
	mw := middleware.Timeout(time.Hour)
	j := newTestJob() // no per-job timeout

	err := mw(context.Background(), j, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Fatal("expected fallback deadline in context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTenant_RestoresFromJob(t *testing.T) {
	mw := middleware.Tenant()
	j := newTestJob()
	j.TenantID = "tenant-42"

	err := mw(context.Background(), j, func(ctx context.Context) error {
		if got := tenant.Capture(ctx); got != "tenant-42" {
			t.Errorf("tenant = %q, want %q", got, "tenant-42")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTenant_NoOpWhenEmpty(t *testing.T) {
	mw := middleware.Tenant()

	err := mw(context.Background(), newTestJob(), func(ctx context.Context) error {
		if got := tenant.Capture(ctx); got != "" {
			t.Errorf("expected no tenant in context, got %q", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
