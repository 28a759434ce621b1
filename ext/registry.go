package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/jobstore/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type storeOpenedEntry struct {
	name string
	hook StoreOpened
}

type storeClosedEntry struct {
	name string
	hook StoreClosed
}

type jobReservedEntry struct {
	name string
	hook JobReserved
}

type jobReclaimedEntry struct {
	name string
	hook JobReclaimed
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

// Registry holds registered extensions and dispatches events to them. It
// type-caches extensions at registration time so emit calls iterate only
// over extensions that implement the relevant hook.
//
// Register all extensions before handing the Registry to a store; emit
// methods may be called from many goroutines but Register is not
// synchronized with them.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	storeOpened  []storeOpenedEntry
	storeClosed  []storeClosedEntry
	jobReserved  []jobReservedEntry
	jobReclaimed []jobReclaimedEntry
	jobCompleted []jobCompletedEntry
	jobFailed    []jobFailedEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(StoreOpened); ok {
		r.storeOpened = append(r.storeOpened, storeOpenedEntry{name, h})
	}
	if h, ok := e.(StoreClosed); ok {
		r.storeClosed = append(r.storeClosed, storeClosedEntry{name, h})
	}
	if h, ok := e.(JobReserved); ok {
		r.jobReserved = append(r.jobReserved, jobReservedEntry{name, h})
	}
	if h, ok := e.(JobReclaimed); ok {
		r.jobReclaimed = append(r.jobReclaimed, jobReclaimedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Store lifecycle emitters
// ──────────────────────────────────────────────────

// EmitStoreOpened notifies all extensions that implement StoreOpened.
func (r *Registry) EmitStoreOpened(ctx context.Context) {
	if r == nil {
		return
	}
	for _, e := range r.storeOpened {
		if err := e.hook.OnStoreOpened(ctx); err != nil {
			r.logHookError("OnStoreOpened", e.name, err)
		}
	}
}

// EmitStoreClosed notifies all extensions that implement StoreClosed.
func (r *Registry) EmitStoreClosed(ctx context.Context, cause error) {
	if r == nil {
		return
	}
	for _, e := range r.storeClosed {
		if err := e.hook.OnStoreClosed(ctx, cause); err != nil {
			r.logHookError("OnStoreClosed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Job emitters
// ──────────────────────────────────────────────────

// EmitJobReserved notifies all extensions that implement JobReserved.
func (r *Registry) EmitJobReserved(ctx context.Context, j *job.Job) {
	if r == nil {
		return
	}
	for _, e := range r.jobReserved {
		if err := e.hook.OnJobReserved(ctx, j); err != nil {
			r.logHookError("OnJobReserved", e.name, err)
		}
	}
}

// EmitJobReclaimed notifies all extensions that implement JobReclaimed.
func (r *Registry) EmitJobReclaimed(ctx context.Context, kind job.ReclaimKind, count int64) {
	if r == nil {
		return
	}
	for _, e := range r.jobReclaimed {
		if err := e.hook.OnJobReclaimed(ctx, kind, count); err != nil {
			r.logHookError("OnJobReclaimed", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	if r == nil {
		return
	}
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	if r == nil {
		return
	}
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block the store.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
