// Package store defines the aggregate persistence interface. The job
// subsystem defines its own store contract; the composite Store adds
// backend lifecycle on top. Backends: Postgres, Redis, and Memory.
package store

import (
	"context"

	"github.com/tommyGPT2S/DocEX-sub002/job"
)

// Store is the aggregate persistence interface. A single backend
// (postgres, redis, memory) implements the job contract plus lifecycle.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
