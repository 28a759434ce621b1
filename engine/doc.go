// Package engine wires a job store, the reclamation sweeper and a worker
// pool into one unit with a single Start/Stop lifecycle.
//
//	reg := ext.NewRegistry(logger)
//	s := mongo.New(cfg, mongo.WithExtensions(reg))
//
//	eng := engine.New(s, reg,
//	    engine.WithHandler(sendEmail),
//	    engine.WithMiddleware(middleware.Logging(logger)),
//	    engine.WithSweepSchedule("@every 5s"),
//	)
//	if err := eng.Start(ctx); err != nil {
//	    return err
//	}
//	defer eng.Stop(ctx)
//
//	eng.Enqueue(ctx, &job.Job{ExpireMs: 60_000, StallMs: 10_000})
//
// Start opens the store, then starts the sweeper and the pool. Stop runs
// in reverse. Without a handler the engine only stores and sweeps, which
// suits producers that never execute jobs themselves.
//
// The engine always registers an observability.MetricsExtension and adds
// tracing and metrics middleware, using the configured OpenTelemetry
// providers or the global ones.
package engine
