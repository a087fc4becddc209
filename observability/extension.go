package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tommyGPT2S/DocEX-sub002/delivery"
	"github.com/tommyGPT2S/DocEX-sub002/ext"
	"github.com/tommyGPT2S/DocEX-sub002/job"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/tommyGPT2S/DocEX-sub002/observability"

// Compile-time interface checks.
var (
	_ ext.Extension        = (*MetricsExtension)(nil)
	_ ext.JobEnqueued      = (*MetricsExtension)(nil)
	_ ext.JobCompleted     = (*MetricsExtension)(nil)
	_ ext.JobFailed        = (*MetricsExtension)(nil)
	_ ext.JobRetrying      = (*MetricsExtension)(nil)
	_ ext.JobDeadLettered  = (*MetricsExtension)(nil)
	_ ext.DeliveryRecorded = (*MetricsExtension)(nil)
)

// MetricsExtension records pipeline lifecycle metrics via the OTel
// metric API. Register it on the extension registry to track enqueue
// rates, completion counts and durations, failure and retry rates,
// dead-letter entries, and delivery outcomes, all keyed by operation
// and tenant.
type MetricsExtension struct {
	enqueued     metric.Int64Counter
	completed    metric.Int64Counter
	failed       metric.Int64Counter
	retried      metric.Int64Counter
	deadLettered metric.Int64Counter
	duration     metric.Float64Histogram
	deliveries   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global OTel
// meter provider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension recording to
// the provided meter. Used by tests with a manual-reader meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	var err error

	m.enqueued, err = meter.Int64Counter("docex.jobs.enqueued",
		metric.WithDescription("Jobs enqueued"))
	_ = err // noop fallback guaranteed by OTel API contract
	m.completed, err = meter.Int64Counter("docex.jobs.completed",
		metric.WithDescription("Jobs completed successfully"))
	_ = err
	m.failed, err = meter.Int64Counter("docex.jobs.failed",
		metric.WithDescription("Jobs failed terminally"))
	_ = err
	m.retried, err = meter.Int64Counter("docex.jobs.retried",
		metric.WithDescription("Job retry attempts scheduled"))
	_ = err
	m.deadLettered, err = meter.Int64Counter("docex.jobs.dead_lettered",
		metric.WithDescription("Jobs parked after exhausting retries"))
	_ = err
	m.duration, err = meter.Float64Histogram("docex.jobs.duration",
		metric.WithDescription("Successful job execution duration"),
		metric.WithUnit("s"))
	_ = err
	m.deliveries, err = meter.Int64Counter("docex.deliveries.recorded",
		metric.WithDescription("Delivery outcomes recorded"))
	_ = err

	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("operation", j.Operation),
		attribute.String("tenant_id", j.TenantID),
	)
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.enqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.completed.Add(ctx, 1, jobAttrs(j))
	m.duration.Record(ctx, elapsed.Seconds(), jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.failed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobDeadLettered implements ext.JobDeadLettered.
func (m *MetricsExtension) OnJobDeadLettered(ctx context.Context, j *job.Job, _ error) error {
	m.deadLettered.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnDeliveryRecorded implements ext.DeliveryRecorded.
func (m *MetricsExtension) OnDeliveryRecorded(ctx context.Context, res *delivery.Result) error {
	m.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("connector", res.ConnectorType),
		attribute.Bool("success", res.Success),
		attribute.Bool("skipped", res.Skipped),
	))
	return nil
}
