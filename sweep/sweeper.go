package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/jobstore/job"
)

// DefaultSchedule is the sweep schedule used when none is configured.
const DefaultSchedule = "@every 10s"

// ErrAlreadyRunning is returned by Start on a running Sweeper.
var ErrAlreadyRunning = errors.New("sweep: already running")

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Result reports how many jobs one sweep returned to ready.
type Result struct {
	Expired int64
	Stalled int64
}

// Total returns the number of jobs reclaimed by both passes.
func (r Result) Total() int64 { return r.Expired + r.Stalled }

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithSchedule sets the cron expression sweeps run on.
func WithSchedule(schedule string) Option {
	return func(s *Sweeper) { s.schedule = schedule }
}

// WithLogger sets the logger for the sweeper.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

// Sweeper periodically reclaims expired and stalled jobs.
type Sweeper struct {
	reclaimer job.Reclaimer
	schedule  string
	logger    *slog.Logger

	mu     sync.Mutex
	cron   *cronlib.Cron
	cancel context.CancelFunc
}

// New creates a Sweeper over r. It does nothing until Start.
func New(r job.Reclaimer, opts ...Option) *Sweeper {
	s := &Sweeper{
		reclaimer: r,
		schedule:  DefaultSchedule,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules sweeps. Scheduled runs use a context derived from ctx
// that is cancelled by Stop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrAlreadyRunning
	}
	if _, err := cronParser.Parse(s.schedule); err != nil {
		return fmt.Errorf("sweep: parse schedule %q: %w", s.schedule, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cronlib.New(
		cronlib.WithParser(cronParser),
		cronlib.WithChain(cronlib.SkipIfStillRunning(cronlib.DiscardLogger)),
	)
	if _, err := c.AddFunc(s.schedule, func() { s.run(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("sweep: schedule: %w", err)
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.logger.Info("sweeper started", slog.String("schedule", s.schedule))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish, or for
// ctx to end. Stopping a Sweeper that is not running is a no-op.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	done := c.Stop()
	select {
	case <-done.Done():
		cancel()
		s.logger.Info("sweeper stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("sweep: stop: %w", ctx.Err())
	}
}

// Sweep runs both reclamation passes once, concurrently. A failing pass
// does not cancel the other; when either fails, both errors are joined.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var (
		res                    Result
		expiredErr, stalledErr error
		g                      errgroup.Group
	)

	g.Go(func() error {
		res.Expired, expiredErr = s.pass(ctx, "expired", s.reclaimer.ReclaimExpired)
		return expiredErr
	})
	g.Go(func() error {
		res.Stalled, stalledErr = s.pass(ctx, "stalled", s.reclaimer.ReclaimStalled)
		return stalledErr
	})
	if err := g.Wait(); err != nil {
		return res, errors.Join(expiredErr, stalledErr)
	}
	return res, nil
}

func (s *Sweeper) pass(ctx context.Context, name string, reclaim func(context.Context) (int64, error)) (int64, error) {
	n, err := reclaim(ctx)
	if err != nil {
		return n, fmt.Errorf("sweep: %s: %w", name, err)
	}
	return n, nil
}

func (s *Sweeper) run(ctx context.Context) {
	res, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Warn("sweep failed", slog.String("error", err.Error()))
	}
	if res.Total() > 0 {
		s.logger.Info("sweep reclaimed jobs",
			slog.Int64("expired", res.Expired),
			slog.Int64("stalled", res.Stalled),
		)
	}
}
