package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	docex "github.com/tommyGPT2S/DocEX-sub002"
)

func TestFlushOnBatchSize(t *testing.T) {
	t.Parallel()

	var batches [][]string
	var mu sync.Mutex
	agg := New(func(_ context.Context, items []string) ([]string, error) {
		mu.Lock()
		batches = append(batches, items)
		mu.Unlock()
		out := make([]string, len(items))
		for i, it := range items {
			out[i] = strings.ToUpper(it)
		}
		return out, nil
	}, WithBatchSize(3), WithMaxWait(time.Hour))

	ctx := context.Background()
	var wg sync.WaitGroup
	results := make([]string, 3)
	for i, item := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(i int, item string) {
			defer wg.Done()
			res, err := agg.Add(ctx, item)
			if err != nil {
				t.Errorf("Add %q: %v", item, err)
				return
			}
			results[i] = res
		}(i, item)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if len(batches[0]) != 3 {
		t.Fatalf("got batch of %d, want 3", len(batches[0]))
	}
	// Each caller gets the result for its own item, whatever the order
	// the batch assembled in.
	for i, item := range []string{"a", "b", "c"} {
		if results[i] != strings.ToUpper(item) {
			t.Fatalf("caller %d got %q, want %q", i, results[i], strings.ToUpper(item))
		}
	}
}

func TestEachFlushCarriesDistinctBatchID(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seen []string
	agg := New(func(ctx context.Context, items []string) ([]string, error) {
		batchID, ok := BatchIDFromContext(ctx)
		if !ok {
			t.Error("process context carries no batch ID")
		}
		mu.Lock()
		seen = append(seen, batchID.String())
		mu.Unlock()
		return make([]string, len(items)), nil
	}, WithBatchSize(1), WithMaxWait(time.Hour))

	ctx := context.Background()
	for _, item := range []string{"a", "b"} {
		if _, err := agg.Add(ctx, item); err != nil {
			t.Fatalf("Add %q: %v", item, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("got %d flushes, want 2", len(seen))
	}
	if seen[0] == "" || seen[0] == seen[1] {
		t.Fatalf("batch IDs not distinct: %v", seen)
	}
}

func TestFlushOnMaxWait(t *testing.T) {
	t.Parallel()

	agg := New(func(_ context.Context, items []int) ([]int, error) {
		out := make([]int, len(items))
		for i, it := range items {
			out[i] = it * 2
		}
		return out, nil
	}, WithBatchSize(100), WithMaxWait(20*time.Millisecond))

	start := time.Now()
	res, err := agg.Add(context.Background(), 21)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if res != 42 {
		t.Fatalf("got %d, want 42", res)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("partial batch flushed after %v, before maxWait", elapsed)
	}
}

func TestErrorFansOutToAllCallers(t *testing.T) {
	t.Parallel()

	processErr := errors.New("downstream rejected batch")
	agg := New(func(_ context.Context, items []string) ([]string, error) {
		return nil, processErr
	}, WithBatchSize(2), WithMaxWait(time.Hour))

	ctx := context.Background()
	errs := make(chan error, 2)
	for _, item := range []string{"a", "b"} {
		go func(item string) {
			_, err := agg.Add(ctx, item)
			errs <- err
		}(item)
	}

	for i := 0; i < 2; i++ {
		if err := <-errs; !errors.Is(err, processErr) {
			t.Fatalf("caller %d got %v, want process error", i, err)
		}
	}
}

func TestResultCountMismatchIsError(t *testing.T) {
	t.Parallel()

	agg := New(func(_ context.Context, items []string) ([]string, error) {
		return []string{"only-one"}, nil
	}, WithBatchSize(2), WithMaxWait(time.Hour))

	ctx := context.Background()
	errs := make(chan error, 2)
	for _, item := range []string{"a", "b"} {
		go func(item string) {
			_, err := agg.Add(ctx, item)
			errs <- err
		}(item)
	}

	for i := 0; i < 2; i++ {
		if err := <-errs; err == nil {
			t.Fatalf("caller %d got nil error for short result set", i)
		}
	}
}

func TestCloseFlushesAndRejects(t *testing.T) {
	t.Parallel()

	agg := New(func(_ context.Context, items []int) ([]int, error) {
		out := make([]int, len(items))
		copy(out, items)
		return out, nil
	}, WithBatchSize(100), WithMaxWait(time.Hour))

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		_, err := agg.Add(ctx, 1)
		done <- err
	}()

	// Give the Add a moment to enqueue before closing.
	time.Sleep(10 * time.Millisecond)
	if err := agg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("pending Add failed on close: %v", err)
	}

	if _, err := agg.Add(ctx, 2); !errors.Is(err, docex.ErrAggregatorClosed) {
		t.Fatalf("got %v, want ErrAggregatorClosed", err)
	}
}

func TestSequentialBatchesKeepOrder(t *testing.T) {
	t.Parallel()

	agg := New(func(_ context.Context, items []int) ([]string, error) {
		out := make([]string, len(items))
		for i, it := range items {
			out[i] = fmt.Sprintf("r%d", it)
		}
		return out, nil
	}, WithBatchSize(4), WithMaxWait(15*time.Millisecond))

	ctx := context.Background()
	const n = 12
	var wg sync.WaitGroup
	got := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := agg.Add(ctx, i)
			if err != nil {
				t.Errorf("Add %d: %v", i, err)
				return
			}
			got[i] = res
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if got[i] != fmt.Sprintf("r%d", i) {
			t.Fatalf("caller %d got %q, want r%d", i, got[i], i)
		}
	}
}
