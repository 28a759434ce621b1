package middleware

import (
	"context"
	"log/slog"

	"github.com/xraph/jobstore/job"
)

// Deadline returns middleware that cancels the handler context when the
// job's expires deadline passes. Past that point the expiry sweep may hand
// the job to another worker, so the handler should stop. Jobs without an
// armed deadline run unbounded.
func Deadline(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if !j.Expires.IsZero() {
			logger.Debug("job deadline set",
				slog.String("job_id", j.ID),
				slog.Time("expires", j.Expires),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithDeadline(ctx, j.Expires)
			defer cancel()
		}
		return next(ctx)
	}
}
