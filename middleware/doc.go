// Package middleware provides composable middleware for job handlers run
// by the worker pool.
//
// A [Middleware] wraps a job handler. Middleware are composed with [Chain]
// and applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs each run with its lease, warning on runs that outlive it
//   - [Recover] turns panics into a [PanicError]
//   - [Deadline] cancels the handler context at the job's expires deadline
//   - [Tracing] wraps a run in a span carrying the job's lease
//   - [Metrics] records attempts, run time and lease headroom
//
// # Leases
//
// A reserved job runs under two deadlines armed by Reserve: expires bounds
// the whole run, stalls is pushed forward by worker heartbeats. Once either
// passes, the sweep may hand the job to another worker. [LeaseOf] exposes
// them, and every run is classified as an [Outcome]: ok, error, or
// lease_expired when the handler stopped because expires passed.
//
// Middleware must call next to continue the chain unless intentionally
// short-circuiting.
package middleware
