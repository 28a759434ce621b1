package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/jobstore/job"
)

// Logging returns middleware that logs each run with its lease. A run on a
// reclaimed job logs at Info with the attempt count. A run that finishes
// after its expires deadline logs a Warn, because the job may already be
// in another worker's hands.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		lease := LeaseOf(j)
		start := time.Now()

		attrs := []slog.Attr{
			slog.String("job_id", j.ID),
			slog.String("worker_id", j.WorkerID),
		}
		startAttrs := append([]slog.Attr{slog.Int("attempts", j.Attempts)}, attrs...)
		if lease.Bounded() {
			startAttrs = append(startAttrs, slog.Duration("lease", lease.Remaining(start)))
		}
		if j.Attempts > 0 {
			logger.LogAttrs(ctx, slog.LevelInfo, "reclaimed job started", startAttrs...)
		} else {
			logger.LogAttrs(ctx, slog.LevelDebug, "job started", startAttrs...)
		}

		err := next(ctx)
		finished := time.Now()
		attrs = append(attrs,
			slog.Duration("elapsed", finished.Sub(start)),
			slog.String("outcome", string(outcomeOf(lease, err, finished))),
		)

		if overrun := lease.Overrun(finished); overrun > 0 {
			logger.LogAttrs(ctx, slog.LevelWarn, "job outlived its lease",
				append(attrs, slog.Duration("overrun", overrun))...)
		}

		if err != nil {
			logger.LogAttrs(ctx, slog.LevelError, "job failed",
				append(attrs, slog.String("error", err.Error()))...)
			return err
		}
		logger.LogAttrs(ctx, slog.LevelInfo, "job completed", attrs...)
		return nil
	}
}
