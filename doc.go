// Package jobstore is the persistence backend for a job queue. It stores job
// records, hands work to requesting workers under an exclusivity guarantee,
// and reclaims jobs abandoned by dead or slow workers.
//
// jobstore is designed as a library, not a service. Build a [Config], hand it
// to a backend, and call Open:
//
//	cfg, err := jobstore.NewConfig(
//	    jobstore.WithURI("mongodb://localhost:27017"),
//	    jobstore.WithDatabase("queue"),
//	)
//	s := mongo.New(cfg, mongo.WithExtensions(registry))
//	if err := s.Open(ctx); err != nil { ... }
//	defer s.Close(ctx, false)
//
// # Reservation
//
// A worker claims work with Reserve. The claim is a single conditional
// update-and-fetch evaluated by the store, so two workers can never both move
// the same job from ready to processing.
//
// # Reclamation
//
// ReclaimExpired and ReclaimStalled reset processing jobs whose expires or
// stalls deadline has passed back to ready, bumping their attempt counter.
// The sweep package runs both on a schedule.
//
// # Running workers
//
// The worker package reserves and executes jobs through a middleware chain.
// The engine package ties a store, the sweeper and a worker pool into one
// Start/Stop lifecycle.
//
// # Lifecycle
//
// Backends report connectivity through the ext registry: StoreOpened once
// indexes exist, StoreClosed (optionally carrying an error) on shutdown or on
// an unplanned drop. Reconnection is never automatic.
package jobstore
