// Package batch coalesces individual requests into batched downstream
// calls.
//
// An [Aggregator] buffers Add calls until it holds batchSize items or
// the oldest item has waited maxWait, then invokes the ProcessFunc once
// for the whole batch and fans the results back to the blocked callers
// in input order. A processing error is delivered identically to every
// caller in the batch. Flushes are serialized per aggregator.
//
//	agg := batch.New(func(ctx context.Context, docs []Document) ([]Extraction, error) {
//	    return extractMany(ctx, docs)
//	}, batch.WithBatchSize(20), batch.WithMaxWait(250*time.Millisecond))
//
//	// Each caller blocks only for its own batch.
//	result, err := agg.Add(ctx, doc)
//
// Useful when the downstream charges per call rather than per item, or
// amortizes fixed latency across a batch.
package batch
