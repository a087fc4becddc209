package job

import "context"

// Request carries everything a typed handler needs: the job record, the
// resolved subject, and the decoded payload.
type Request[T any] struct {
	// Job is the record being executed. Read-only from the handler's
	// point of view; lifecycle mutations belong to the worker.
	Job *Job

	// Subject is the domain object the job operates on, resolved from
	// Job.SubjectID by the worker's subject resolver.
	Subject any

	// Payload is the decoded job payload.
	Payload T
}

// Definition is a typed operation definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Operation is the unique operation type, e.g. "EXTRACT".
	Operation string

	// Handler processes one job of this operation type.
	Handler func(ctx context.Context, req *Request[T]) error

	// Opts configures retries, priority, and timeout for jobs of this
	// operation type.
	Opts Options
}

// NewDefinition creates a typed operation definition.
func NewDefinition[T any](operation string, handler func(ctx context.Context, req *Request[T]) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Operation: operation,
		Handler:   handler,
		Opts:      DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
