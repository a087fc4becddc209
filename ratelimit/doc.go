// Package ratelimit gates outbound calls with a process-wide token
// bucket and per-tenant rolling window counters.
//
// The bucket (capacity BurstSize, refilling at RequestsPerMinute/60 per
// second) smooths short bursts; the windows cap requests, usage tokens,
// and cost per minute, hour, and day. [Limiter.Acquire] blocks until
// every limit has headroom, sleeping for the smallest wait across the
// violated limits and rechecking. The guarding lock is released across
// every wait so one throttled tenant never delays another.
//
//	lim := ratelimit.New(ratelimit.Config{
//	    RequestsPerMinute: 60,
//	    BurstSize:         10,
//	    BurstCooldown:     5 * time.Second,
//	})
//
//	if err := lim.Acquire(ctx, tenantID); err != nil {
//	    return err // ctx cancelled
//	}
//	resp := callUpstream()
//	lim.RecordUsage(tenantID, resp.Tokens, resp.Cost)
//
// State is in-memory and process-local. Running several worker
// processes against the same upstream yields best-effort aggregate
// limiting only; globally exact quotas would need the counters
// centralized in shared storage.
package ratelimit
