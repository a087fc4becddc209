package queue

import (
	"context"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser supports standard 5-field cron and descriptors like "@daily".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Janitor periodically purges completed jobs past the retention window.
type Janitor struct {
	queue         *Queue
	cron          *cronlib.Cron
	schedule      string
	retentionDays int
	logger        *slog.Logger
}

// JanitorOption configures a Janitor.
type JanitorOption func(*Janitor)

// WithSchedule sets the cron expression for the sweep. Defaults to
// "@daily".
func WithSchedule(expr string) JanitorOption {
	return func(j *Janitor) { j.schedule = expr }
}

// WithRetentionDays sets how many days completed jobs are kept.
func WithRetentionDays(days int) JanitorOption {
	return func(j *Janitor) { j.retentionDays = days }
}

// WithJanitorLogger sets the structured logger.
func WithJanitorLogger(l *slog.Logger) JanitorOption {
	return func(j *Janitor) { j.logger = l }
}

// NewJanitor creates a retention janitor sweeping q on a cron schedule.
func NewJanitor(q *Queue, opts ...JanitorOption) (*Janitor, error) {
	j := &Janitor{
		queue:         q,
		schedule:      "@daily",
		retentionDays: 7,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}

	j.cron = cronlib.New(cronlib.WithParser(cronParser))
	if _, err := j.cron.AddFunc(j.schedule, j.sweep); err != nil {
		return nil, err
	}
	return j, nil
}

// Start launches the cron runner.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("retention janitor started",
		slog.String("schedule", j.schedule),
		slog.Int("retention_days", j.retentionDays),
	)
}

// Stop halts scheduling and waits for a running sweep to finish, up to
// ctx's deadline.
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep purges immediately, outside the schedule.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	return j.queue.ClearCompleted(ctx, j.retentionDays)
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := j.Sweep(ctx); err != nil {
		j.logger.Error("retention sweep failed",
			slog.String("error", err.Error()),
		)
	}
}
