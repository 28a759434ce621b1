// Package worker runs job handlers against a job store: a Pool of
// goroutines reserves jobs and hands them to an Executor, which runs the
// handler through middleware and records the outcome.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/jobstore"
	"github.com/xraph/jobstore/ext"
	"github.com/xraph/jobstore/job"
	"github.com/xraph/jobstore/middleware"
)

// FieldError is the field a failed job's handler error is written to.
const FieldError = "error"

// HandlerFunc processes one reserved job.
type HandlerFunc func(ctx context.Context, j *job.Job) error

// Executor runs a single reserved job through middleware and the handler,
// then records the outcome in the store and emits the lifecycle event.
type Executor struct {
	store         job.Store
	handler       HandlerFunc
	extensions    *ext.Registry
	mw            middleware.Middleware
	keepCompleted bool
	logger        *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	store job.Store,
	handler HandlerFunc,
	extensions *ext.Registry,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:      store,
		handler:    handler,
		extensions: extensions,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs j and records the outcome.
// On success the job is removed, or marked completed when completed jobs
// are kept. On failure it is marked failed with the handler error. Either
// way the worker assignment is cleared. Both writes are fenced on the
// reserving worker: if the job was reclaimed in the meantime the outcome is
// dropped, no event fires, and ErrJobNotOwned is returned. Otherwise the
// returned error is the handler's error, or the store error if the outcome
// could not be saved.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	start := time.Now()
	err := e.mw(ctx, j, func(ctx context.Context) error {
		return e.handler(ctx, j)
	})
	elapsed := time.Since(start)

	// A cancelled run still records its outcome.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		return e.handleFailure(ctx, j, err)
	}
	return e.handleSuccess(ctx, j, elapsed)
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	var err error
	if e.keepCompleted {
		err = e.store.UpdateOwned(ctx, j.ID, j.WorkerID, job.Fields{
			job.FieldStatus:   job.StatusCompleted,
			job.FieldWorkerID: nil,
		})
	} else {
		_, err = e.store.RemoveOwned(ctx, j.ID, j.WorkerID)
	}
	if err != nil {
		e.logRecordError("success", j, err)
		return err
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error) error {
	err := e.store.UpdateOwned(ctx, j.ID, j.WorkerID, job.Fields{
		job.FieldStatus:   job.StatusFailed,
		job.FieldWorkerID: nil,
		FieldError:        handlerErr.Error(),
	})
	if err != nil {
		e.logRecordError("failure", j, err)
		return err
	}

	e.extensions.EmitJobFailed(ctx, j, handlerErr)
	return handlerErr
}

func (e *Executor) logRecordError(outcome string, j *job.Job, err error) {
	attrs := []slog.Attr{
		slog.String("job_id", j.ID),
		slog.String("worker_id", j.WorkerID),
		slog.String("outcome", outcome),
		slog.String("error", err.Error()),
	}
	if errors.Is(err, jobstore.ErrJobNotOwned) {
		e.logger.LogAttrs(context.Background(), slog.LevelWarn, "job was reclaimed before its outcome was recorded", attrs...)
		return
	}
	e.logger.LogAttrs(context.Background(), slog.LevelError, "failed to record job outcome", attrs...)
}
