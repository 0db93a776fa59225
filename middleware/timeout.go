package middleware

import (
	"context"
	"time"

	"github.com/migrs/kue/job"
)

// Timeout returns middleware that bounds each handler run with a
// deadline. The core itself never cancels a running handler — a handler
// that never returns leaves its job active until salvage — so a timeout
// here is the practical guard against that. A zero d disables it.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
