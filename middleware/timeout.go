package middleware

import (
	"context"
	"time"

	"github.com/tommyGPT2S/DocEX-sub002/job"
)

// Timeout returns middleware that sets a per-job context deadline.
// The job's own Timeout wins; jobs without one get fallback. The hard
// stop lives in the executor — this middleware only propagates the
// deadline so cooperative handlers can bail out early.
func Timeout(fallback time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		d := j.Timeout
		if d <= 0 {
			d = fallback
		}
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
