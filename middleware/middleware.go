package middleware

import (
	"context"

	"github.com/xraph/jobstore/job"
)

// Handler runs the job the middleware was invoked with.
type Handler func(ctx context.Context) error

// Middleware wraps a run of the reserved job j.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes mws into one Middleware, first is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			m, inner := mws[i], h
			h = func(ctx context.Context) error { return m(ctx, j, inner) }
		}
		return h(ctx)
	}
}
