// Package queue is the enqueue/cancel/retry/query surface over the job
// store.
//
// [Queue.Enqueue] creates pending job rows with idempotency-key
// deduplication: while a live (non-cancelled, non-dead-letter) job
// holds a key, further enqueues with the same key return that job's ID
// and create nothing. Dependency edges listed in
// [EnqueueRequest.DependsOn] gate claiming: a worker will not pick the
// job up until every dependency has completed.
//
//	q := queue.New(store)
//	jobID, err := q.Enqueue(ctx, queue.EnqueueRequest{
//	    SubjectID:      doc.ID,
//	    Operation:      "EXTRACT",
//	    IdempotencyKey: doc.ID + ":extract",
//	})
//
// Cancel and RetryFailed report inapplicable states as a false return,
// not an error: cancelling a job a worker already claimed is a no-op,
// and only failed or dead-lettered jobs can be returned for retry.
//
// The [Janitor] runs [Queue.ClearCompleted] on a cron schedule to purge
// completed jobs past the retention window.
package queue
