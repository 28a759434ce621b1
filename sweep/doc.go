// Package sweep runs the reclamation passes on a schedule.
//
// A Sweeper calls ReclaimExpired and then ReclaimStalled on every tick of a
// cron schedule (default "@every 10s"). A failure of one pass never skips
// the other, and a tick that is still running when the next one fires is
// skipped rather than stacked.
//
//	sw := sweep.New(store, sweep.WithSchedule("@every 30s"))
//	if err := sw.Start(ctx); err != nil {
//	    return err
//	}
//	defer sw.Stop(ctx)
package sweep
