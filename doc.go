// Package docex provides the asynchronous job-processing pipeline for
// DocEX: a persistent job queue with dependency, priority, and
// idempotency semantics, a polling worker pool with bounded concurrency
// and retry/dead-letter handling, per-tenant rate limiting, batch
// aggregation, and a delivery-tracking envelope for output connectors.
//
// DocEX jobs operate on subjects — documents and baskets owned by the
// surrounding system. The pipeline consumes a job store and dispatches
// to registered handlers; it implements no storage or extraction itself.
//
// # Quick Start
//
//	store := memory.New()
//	registry := job.NewRegistry()
//	job.RegisterDefinition(registry, extractDefinition)
//
//	q := queue.New(store, queue.WithLogger(logger))
//	executor := worker.NewExecutor(registry, exts, store, resolver, bo, timeout, logger)
//	pool := worker.NewPool(store, registry, executor, exts, logger,
//	    worker.WithMaxConcurrent(20),
//	)
//
//	c, err := docex.New(docex.WithStore(store))
//	c.SetPool(pool)
//	c.Start(ctx)
//
// # Architecture
//
// Each subsystem lives in its own package: job (entity + registry +
// store contract), queue (enqueue/cancel/retry/stats), worker (poll,
// claim, execute), ratelimit, batch, cost, delivery, backoff. A single
// backend under store/ implements the job.Store contract; memory,
// postgres, and redis backends ship in-tree.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package docex
