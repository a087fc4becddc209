// Package job defines the job entity, status machine, typed operation
// definitions, and the store interface.
//
// # Job Entity
//
// A [Job] represents one unit of asynchronous work over a subject
// (a document, basket, or other domain object referenced by SubjectID).
// It progresses through a status machine:
//
//	pending → processing → completed
//	pending → processing → pending (retry, with RetryAfter backoff)
//	pending → processing → dead_letter (retry budget exhausted)
//	pending → processing → failed (no handler / subject missing)
//	pending → cancelled
//
// Fields of note:
//   - IdempotencyKey: at most one live job holds a given key
//   - Priority: advisory; claim ordering stays oldest-created-first
//   - MaxRetries / RetryCount: the retry budget
//   - RetryAfter: earliest time a retried job may be claimed again
//   - DependsOn: the job is not claimable until these have completed
//   - Timeout: per-job execution deadline (zero = worker default)
//
// # Defining an Operation
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and decoded before the handler runs:
//
//	var Extract = job.NewDefinition("EXTRACT",
//	    func(ctx context.Context, req *job.Request[ExtractInput]) error {
//	        doc := req.Subject.(*Document)
//	        return extractor.Run(ctx, doc, req.Payload.Fields)
//	    },
//	    job.WithMaxRetries(5),
//	)
//
// # Registry
//
// [Registry] maps operation types to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]. Workers poll
// only operations present in the registry.
package job
