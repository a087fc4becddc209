// Package cost accounts usage tokens and spend per tenant and per
// operation type.
//
// A [Tracker] keeps in-memory running totals and mirrors every record
// into OTel counters (docex.cost.requests, docex.cost.tokens,
// docex.cost.spend) attributed by tenant_id and operation. Handlers
// record after each metered upstream call:
//
//	tracker.Record(ctx, j.TenantID, j.Operation, resp.Tokens, resp.Cost)
//
// The in-memory totals reset with the process; durable billing should
// be built on the exported metrics, not on this bookkeeping.
package cost
