package delivery

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tommyGPT2S/DocEX-sub002/backoff"
	"github.com/tommyGPT2S/DocEX-sub002/id"
	"github.com/tommyGPT2S/DocEX-sub002/job"
)

// Observer is notified after every recorded delivery outcome, including
// dedup skips. Used to bridge lifecycle extensions without an import
// cycle.
type Observer func(ctx context.Context, res *Result)

// Tracker wraps a Connector with the uniform dedup + retry envelope.
// Outcomes are recorded into the job store as derived jobs of type
// DELIVERY_<CONNECTOR> so future runs can dedup against them.
type Tracker struct {
	store      job.Store
	connector  Connector
	maxRetries int
	backoff    backoff.Strategy
	observer   Observer
	logger     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithMaxRetries sets how many retries follow the initial attempt.
func WithMaxRetries(n int) TrackerOption {
	return func(t *Tracker) { t.maxRetries = n }
}

// WithBackoff sets the delay strategy between attempts.
func WithBackoff(s backoff.Strategy) TrackerOption {
	return func(t *Tracker) { t.backoff = s }
}

// WithObserver sets a callback invoked after each recorded outcome.
func WithObserver(o Observer) TrackerOption {
	return func(t *Tracker) { t.observer = o }
}

// WithLogger sets the structured logger for the tracker.
func WithLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a delivery tracker around a connector.
func NewTracker(store job.Store, connector Connector, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:      store,
		connector:  connector,
		maxRetries: 3,
		backoff:    backoff.NewExponential(2*time.Second, 2*time.Minute),
		logger:     slog.Default(),
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ShouldDeliver reports whether the subject still needs delivery through
// this tracker's connector: false once a prior successful delivery has
// been recorded for the subject + connector type pair.
func (t *Tracker) ShouldDeliver(ctx context.Context, subjectID string) (bool, error) {
	prior, err := t.store.ListJobsByStatus(ctx, job.StatusCompleted, job.ListOpts{
		Operation: OperationFor(t.connector.Type()),
		SubjectID: subjectID,
		Limit:     1,
	})
	if err != nil {
		return false, err
	}
	return len(prior) == 0, nil
}

// DeliverWithRetry runs the full envelope: dedup check, up to
// maxRetries+1 attempts with exponential backoff between them, and
// recording of the final outcome for future dedup.
//
// A previously delivered subject short-circuits to a skipped success
// with no connector call and no new record.
func (t *Tracker) DeliverWithRetry(ctx context.Context, subjectID string, data []byte, metadata map[string]string) (*Result, error) {
	deliver, err := t.ShouldDeliver(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if !deliver {
		res := &Result{
			DeliveryID:    id.NewDeliveryID(),
			SubjectID:     subjectID,
			ConnectorType: t.connector.Type(),
			Success:       true,
			Status:        StatusDelivered,
			Skipped:       true,
			DeliveredAt:   time.Now().UTC(),
		}
		t.logger.Debug("delivery skipped, already delivered",
			slog.String("subject_id", subjectID),
			slog.String("connector", t.connector.Type()),
		)
		if t.observer != nil {
			t.observer(ctx, res)
		}
		return res, nil
	}

	res := t.attemptAll(ctx, subjectID, data, metadata)

	// Always record the final outcome, success or failure, so the next
	// run can dedup (on success) or an operator can inspect (on failure).
	if recErr := t.record(ctx, res); recErr != nil {
		t.logger.Error("failed to record delivery outcome",
			slog.String("subject_id", subjectID),
			slog.String("connector", t.connector.Type()),
			slog.String("error", recErr.Error()),
		)
	}

	if t.observer != nil {
		t.observer(ctx, res)
	}
	return res, nil
}

// DeliverBatch delivers items through the connector's native bulk path
// when available, falling back to sequential fan-out through the full
// envelope otherwise.
func (t *Tracker) DeliverBatch(ctx context.Context, items []Item) ([]*Result, error) {
	results := make([]*Result, 0, len(items))
	for _, item := range items {
		res, err := t.DeliverWithRetry(ctx, item.SubjectID, item.Data, item.Metadata)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// attemptAll runs up to maxRetries+1 connector attempts with backoff.
func (t *Tracker) attemptAll(ctx context.Context, subjectID string, data []byte, metadata map[string]string) *Result {
	final := &Result{
		DeliveryID:    id.NewDeliveryID(),
		SubjectID:     subjectID,
		ConnectorType: t.connector.Type(),
		Status:        StatusPending,
		Metadata:      metadata,
	}

	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			delay := t.backoff.Delay(attempt)
			t.logger.Debug("delivery retry scheduled",
				slog.String("subject_id", subjectID),
				slog.String("connector", t.connector.Type()),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			if err := t.sleep(ctx, delay); err != nil {
				final.Status = StatusFailed
				final.Error = err.Error()
				final.DeliveredAt = time.Now().UTC()
				return final
			}
		}

		start := time.Now()
		res, err := t.connector.Deliver(ctx, subjectID, data, metadata)
		elapsed := time.Since(start)

		if res != nil {
			final.ResponseCode = res.ResponseCode
			final.ResponseData = res.ResponseData
		}
		final.Duration = elapsed
		final.RetryCount = attempt

		if err == nil {
			final.Success = true
			final.Status = StatusDelivered
			final.Error = ""
			final.DeliveredAt = time.Now().UTC()
			return final
		}

		final.Error = err.Error()
		final.Status = StatusRetrying
		t.logger.Warn("delivery attempt failed",
			slog.String("subject_id", subjectID),
			slog.String("connector", t.connector.Type()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}

	final.Status = StatusFailed
	final.DeliveredAt = time.Now().UTC()
	return final
}

// record persists the outcome as a derived job row. Successful
// deliveries land completed (feeding future dedup); failures land
// failed (discoverable for operator-driven retry).
func (t *Tracker) record(ctx context.Context, res *Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	status := job.StatusCompleted
	var completedAt *time.Time
	if res.Success {
		completedAt = &now
	} else {
		status = job.StatusFailed
	}

	rec := &job.Job{
		ID:          id.NewJobID(),
		SubjectID:   res.SubjectID,
		Operation:   OperationFor(res.ConnectorType),
		Status:      status,
		Payload:     payload,
		LastError:   res.Error,
		RetryCount:  res.RetryCount,
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: completedAt,
	}
	return t.store.CreateJob(ctx, rec)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
