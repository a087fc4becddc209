// Package observability provides an OpenTelemetry metrics extension for
// the pipeline. The MetricsExtension implements lifecycle hooks to
// record counters for job enqueue, completion, failure, retry, and
// dead-letter events plus delivery outcomes, keyed by operation and
// tenant.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
