package ext

import (
	"context"
	"time"

	"github.com/xraph/jobstore/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Store lifecycle hooks
// ──────────────────────────────────────────────────

// StoreOpened is called once the store is connected and its indexes exist.
type StoreOpened interface {
	OnStoreOpened(ctx context.Context) error
}

// StoreClosed is called when the store connection ends. err is nil for a
// requested or clean close and carries the cause of a failed open or an
// unplanned drop.
type StoreClosed interface {
	OnStoreClosed(ctx context.Context, err error) error
}

// ──────────────────────────────────────────────────
// Job hooks
// ──────────────────────────────────────────────────

// JobReserved is called after a worker reserves a job.
type JobReserved interface {
	OnJobReserved(ctx context.Context, j *job.Job) error
}

// JobReclaimed is called after a reclamation pass resets count jobs.
type JobReclaimed interface {
	OnJobReclaimed(ctx context.Context, kind job.ReclaimKind, count int64) error
}

// JobCompleted is called after a worker finishes a job successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a worker's handler returns an error.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Func adapter
// ──────────────────────────────────────────────────

// Lifecycle adapts plain callbacks to the StoreOpened and StoreClosed hooks.
// Nil callbacks are skipped.
type Lifecycle struct {
	ExtName string
	Opened  func(ctx context.Context)
	Closed  func(ctx context.Context, err error)
}

// Name implements Extension.
func (l *Lifecycle) Name() string {
	if l.ExtName == "" {
		return "lifecycle"
	}
	return l.ExtName
}

// OnStoreOpened implements StoreOpened.
func (l *Lifecycle) OnStoreOpened(ctx context.Context) error {
	if l.Opened != nil {
		l.Opened(ctx)
	}
	return nil
}

// OnStoreClosed implements StoreClosed.
func (l *Lifecycle) OnStoreClosed(ctx context.Context, err error) error {
	if l.Closed != nil {
		l.Closed(ctx, err)
	}
	return nil
}
