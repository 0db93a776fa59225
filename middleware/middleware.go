// Package middleware provides composable wrappers around job handlers.
// A worker runs each claimed job through its middleware chain before the
// handler proper, so cross-cutting concerns (panic recovery, logging,
// deadlines, tracing) stay out of handler code.
package middleware

import (
	"context"

	"github.com/migrs/kue/job"
)

// Handler is the terminal function that executes the job logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// job being executed and the next handler to call; it must call next to
// continue the chain unless it short-circuits on error.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes middleware into one. The first middleware listed is the
// outermost wrapper:
//
//	Chain(logging, recover)  →  logging(recover(handler))
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			inner := h
			h = func(ctx context.Context) error {
				return mw(ctx, j, inner)
			}
		}
		return h(ctx)
	}
}
