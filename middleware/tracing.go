package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tommyGPT2S/DocEX-sub002/job"
)

// tracerName is the instrumentation scope name for pipeline tracing.
const tracerName = "github.com/tommyGPT2S/DocEX-sub002"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: docex.job.id, docex.operation, docex.subject_id,
// docex.retry_count, docex.tenant_id. On error, the span status is set to
// codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "docex.job.execute",
			trace.WithAttributes(
				attribute.String("docex.job.id", j.ID.String()),
				attribute.String("docex.operation", j.Operation),
				attribute.String("docex.subject_id", j.SubjectID),
				attribute.Int("docex.retry_count", j.RetryCount),
				attribute.String("docex.tenant_id", j.TenantID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
