package middleware

import (
	"context"

	"github.com/tommyGPT2S/DocEX-sub002/job"
	"github.com/tommyGPT2S/DocEX-sub002/tenant"
)

// Tenant returns middleware that restores the multi-tenant identity
// from the job's TenantID field into the context. This ensures handlers
// see the same tenant as the original enqueue caller.
func Tenant() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx = tenant.Restore(ctx, j.TenantID)
		return next(ctx)
	}
}
