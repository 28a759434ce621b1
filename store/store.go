package store

import (
	"context"

	"github.com/xraph/jobstore/job"
)

// Store is the aggregate persistence interface: the job contract plus the
// connection lifecycle.
type Store interface {
	job.Store

	// Open connects, ensures indexes, and emits StoreOpened. On failure it
	// emits StoreClosed with the cause and returns it. Open never retries.
	Open(ctx context.Context) error

	// Close shuts the connection down and emits StoreClosed. With force,
	// in-flight operations are abandoned; otherwise Close waits for them.
	Close(ctx context.Context, force bool) error

	// Migrate ensures the indexes reservation and reclamation rely on.
	Migrate(ctx context.Context) error

	// Ping checks store connectivity.
	Ping(ctx context.Context) error
}
