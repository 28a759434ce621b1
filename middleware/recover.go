package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/jobstore/job"
)

// PanicError is the error Recover returns for a handler that panicked.
type PanicError struct {
	JobID    string
	Attempts int
	Value    any
	Stack    []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job %s panicked on attempt %d: %v", e.JobID, e.Attempts, e.Value)
}

// Unwrap returns the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Recover returns middleware that turns a handler panic into a *PanicError,
// so the job is marked failed instead of crashing the worker.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				pe := &PanicError{JobID: j.ID, Attempts: j.Attempts, Value: r, Stack: debug.Stack()}
				logger.Error("job handler panicked",
					slog.String("job_id", j.ID),
					slog.Int("attempts", j.Attempts),
					slog.Any("panic", r),
					slog.String("stack", string(pe.Stack)),
				)
				retErr = pe
			}
		}()
		return next(ctx)
	}
}
