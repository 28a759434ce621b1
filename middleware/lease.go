package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/jobstore/job"
)

// Outcome classifies how a handler run ended.
type Outcome string

const (
	// OutcomeOK means the handler returned nil.
	OutcomeOK Outcome = "ok"
	// OutcomeError means the handler returned an error before its lease ran out.
	OutcomeError Outcome = "error"
	// OutcomeLeaseExpired means the handler gave up because the job's
	// expires deadline passed. The expiry sweep may already have handed
	// the job to another worker.
	OutcomeLeaseExpired Outcome = "lease_expired"
)

// Lease is the pair of deadlines a reserved job runs under.
type Lease struct {
	Expires time.Time
	Stalls  time.Time
	// StallWindow is how far each heartbeat pushes Stalls.
	StallWindow time.Duration
}

// LeaseOf returns the lease j was reserved with.
func LeaseOf(j *job.Job) Lease {
	return Lease{Expires: j.Expires, Stalls: j.Stalls, StallWindow: j.StallAfter()}
}

// Bounded reports whether the lease has an expires deadline.
func (l Lease) Bounded() bool { return !l.Expires.IsZero() }

// Remaining returns the time left before expires at now. It is negative
// once the lease has run out, and zero for an unbounded lease.
func (l Lease) Remaining(now time.Time) time.Duration {
	if !l.Bounded() {
		return 0
	}
	return l.Expires.Sub(now)
}

// Overrun returns how long past expires the run finished, or zero.
func (l Lease) Overrun(finished time.Time) time.Duration {
	if !l.Bounded() || !finished.After(l.Expires) {
		return 0
	}
	return finished.Sub(l.Expires)
}

// outcomeOf classifies err for a run that finished at the given time.
func outcomeOf(l Lease, err error, finished time.Time) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.DeadlineExceeded) && l.Overrun(finished) > 0:
		return OutcomeLeaseExpired
	default:
		return OutcomeError
	}
}
