// Package ext defines the extension system for jobstore.
//
// Extensions are notified of store lifecycle events and job events and can
// react to them: recording metrics, rebuilding caller state after the store
// connection drops, etc. Each hook is a separate interface so extensions opt
// in only to the events they care about.
//
// # Store Lifecycle Hooks
//
//   - [StoreOpened]: store is connected and its indexes exist
//   - [StoreClosed]: store connection ended, optionally with the cause
//
// A store never reconnects on its own. StoreClosed with a non-nil error is
// the signal to rebuild deliberately.
//
// # Job Hooks
//
//   - [JobReserved]: a worker claimed a job
//   - [JobReclaimed]: a sweep pass reset abandoned jobs
//   - [JobCompleted]: a worker finished a job
//   - [JobFailed]: a worker's handler returned an error
//
// # Callbacks
//
// Callers that only need the two lifecycle events can register a
// [Lifecycle] instead of writing a type:
//
//	reg := ext.NewRegistry(logger)
//	reg.Register(&ext.Lifecycle{
//	    Opened: func(ctx context.Context) { ready.Store(true) },
//	    Closed: func(ctx context.Context, err error) { ready.Store(false) },
//	})
//	s := mongo.New(cfg, mongo.WithExtensions(reg))
package ext
