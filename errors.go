package jobstore

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrStoreClosed   = errors.New("jobstore: store closed")
	ErrStoreNotOpen  = errors.New("jobstore: store not open")
	ErrInvalidConfig = errors.New("jobstore: invalid config")

	// Write errors.
	ErrJobNotCreated    = errors.New("jobstore: could not create job")
	ErrJobAlreadyExists = errors.New("jobstore: job already exists")
	ErrWriteCount       = errors.New("jobstore: write count mismatch")
	ErrJobNotOwned      = errors.New("jobstore: job not owned by worker")

	// Argument errors.
	ErrImmutableID   = errors.New("jobstore: job id is immutable")
	ErrInvalidWorker = errors.New("jobstore: worker id must not be empty")
	ErrReservedField = errors.New("jobstore: field name is reserved")
)

// NotOwnedError wraps ErrJobNotOwned with the job and worker involved.
func NotOwnedError(op, jobID, workerID string) error {
	return fmt.Errorf("%w: %s %s (worker %s)", ErrJobNotOwned, op, jobID, workerID)
}

// WriteCountError reports a single-record write that touched an unexpected
// number of records. Actual is usually 0 (the record vanished); anything
// above 1 means the store broke its primary-key guarantee.
type WriteCountError struct {
	Op       string
	Expected int64
	Actual   int64
}

// NewWriteCountError returns a WriteCountError expecting exactly one record.
func NewWriteCountError(op string, actual int64) *WriteCountError {
	return &WriteCountError{Op: op, Expected: 1, Actual: actual}
}

func (e *WriteCountError) Error() string {
	return fmt.Sprintf("jobstore: %s: expected %d, got %d", e.Op, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrWriteCount) match any WriteCountError.
func (e *WriteCountError) Is(target error) bool {
	return target == ErrWriteCount
}
