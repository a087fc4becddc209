// Package tenant provides helpers to capture and restore multi-tenant
// execution context from/to context.Context.
//
// Jobs persist the enqueue caller's tenant in Job.TenantID; these
// helpers bridge between that field and the context so handlers and
// outbound gates (rate limiter, cost tracker) see the same tenant as
// the original caller.
package tenant

import "context"

type ctxKey struct{}

// Capture extracts the tenant identifier from the context.
// Returns the empty string if no tenant is present.
func Capture(ctx context.Context) string {
	t, _ := ctx.Value(ctxKey{}).(string)
	return t
}

// Restore attaches a tenant identifier to the context.
// If tenantID is empty, the context is returned unchanged (no-op).
func Restore(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, tenantID)
}
