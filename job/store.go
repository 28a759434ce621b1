package job

import "context"

// Store defines the persistence contract for jobs. Lookups and bulk
// operations that match nothing are not errors: they return nil jobs or a
// zero count.
type Store interface {
	// Add persists a new job. An empty ID is filled in with a generated one
	// and an empty Status defaults to StatusReady.
	Add(ctx context.Context, j *Job) error

	// GetByID returns the job with the given id, or nil if there is none.
	GetByID(ctx context.Context, jobID string) (*Job, error)

	// Get returns every job matching filter.
	Get(ctx context.Context, filter Filter) ([]*Job, error)

	// Reserve atomically moves one ready job to processing on behalf of
	// workerID and returns its post-update state, or nil if no job is ready.
	Reserve(ctx context.Context, workerID string) (*Job, error)

	// UpdateByID applies a partial update to exactly one job.
	UpdateByID(ctx context.Context, jobID string, fields Fields) error

	// RemoveByID deletes exactly one job.
	RemoveByID(ctx context.Context, jobID string) (bool, error)

	// UpdateOwned is UpdateByID fenced on ownership: it only applies while
	// the job is processing and assigned to workerID, and returns
	// ErrJobNotOwned otherwise.
	UpdateOwned(ctx context.Context, jobID, workerID string, fields Fields) error

	// RemoveOwned deletes the job only while it is processing and assigned
	// to workerID, and returns ErrJobNotOwned otherwise.
	RemoveOwned(ctx context.Context, jobID, workerID string) (bool, error)

	// Remove deletes every job matching filter and returns the count.
	Remove(ctx context.Context, filter Filter) (int64, error)

	// RemoveByStatus deletes every job with the given status.
	RemoveByStatus(ctx context.Context, status Status) (int64, error)

	// Clear deletes every job.
	Clear(ctx context.Context) (int64, error)

	Reclaimer
}

// Reclaimer resets abandoned processing jobs back to ready.
type Reclaimer interface {
	// ReclaimExpired resets processing jobs whose expires deadline has
	// passed and returns how many were modified.
	ReclaimExpired(ctx context.Context) (int64, error)

	// ReclaimStalled resets processing jobs whose stalls deadline has
	// passed and returns how many were modified.
	ReclaimStalled(ctx context.Context) (int64, error)
}

// ReclaimKind names the deadline a reclamation pass is keyed on.
type ReclaimKind string

const (
	ReclaimExpired ReclaimKind = "expired"
	ReclaimStalled ReclaimKind = "stalled"
)

// DeadlineField returns the deadline field the pass scans.
func (k ReclaimKind) DeadlineField() string {
	if k == ReclaimStalled {
		return FieldStalls
	}
	return FieldExpires
}

// DurationField returns the duration field the deadline is recomputed from.
func (k ReclaimKind) DurationField() string {
	if k == ReclaimStalled {
		return FieldStallMs
	}
	return FieldExpireMs
}
