// Package delivery exports processed results to external systems
// through pluggable connectors wrapped in a uniform envelope.
//
// A [Connector] performs a single delivery attempt to one destination:
// webhook POST, S3 object put, external database upsert, or CSV append.
// The [Tracker] wraps a connector with the cross-cutting behavior every
// destination needs:
//
//   - Deduplication: each successful delivery is recorded as a derived
//     job row of operation DELIVERY_<TYPE>; a later run for the same
//     subject and connector short-circuits to a skipped success without
//     touching the destination again.
//   - Retry: failed attempts are retried with exponential backoff up to
//     a configurable budget, then recorded as failed for operator
//     inspection.
//   - Recording: the final outcome, success or failure, always lands in
//     the job store.
//
// # Usage
//
//	conn := delivery.NewWebhookConnector("https://example.com/hook", secret)
//	tracker := delivery.NewTracker(store, conn,
//	    delivery.WithMaxRetries(3),
//	)
//
//	res, err := tracker.DeliverWithRetry(ctx, doc.ID, payload, nil)
//
// Connectors implementing [BatchConnector] expose a native bulk path;
// everything else gets sequential fan-out via DeliverBatch.
package delivery
