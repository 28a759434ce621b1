package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/jobstore"
	"github.com/xraph/jobstore/backoff"
	"github.com/xraph/jobstore/ext"
	"github.com/xraph/jobstore/id"
	"github.com/xraph/jobstore/job"
	"github.com/xraph/jobstore/middleware"
)

// activeJob is a job currently running in this pool.
type activeJob struct {
	cancel  context.CancelFunc
	stallMs int64
}

// Pool manages a set of concurrent worker goroutines that reserve jobs
// and execute them through the Executor.
type Pool struct {
	store       job.Store
	handler     HandlerFunc
	executor    *Executor
	concurrency int
	workerID    string
	backoff     backoff.Strategy
	limiter     *rate.Limiter
	logger      *slog.Logger
	now         func() time.Time

	heartbeatInterval time.Duration

	// Executor configuration, applied in NewPool.
	extensions    *ext.Registry
	middleware    []middleware.Middleware
	keepCompleted bool

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]activeJob
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithWorkerID sets the id the pool reserves jobs under.
func WithWorkerID(workerID string) PoolOption {
	return func(p *Pool) { p.workerID = workerID }
}

// WithBackoff sets the idle poll strategy.
func WithBackoff(s backoff.Strategy) PoolOption {
	return func(p *Pool) { p.backoff = s }
}

// WithReserveRate caps how many reservations per second the pool issues
// across all of its workers. Zero disables the limit.
func WithReserveRate(perSecond float64, burst int) PoolOption {
	return func(p *Pool) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithHeartbeatInterval sets how often the pool pushes the stall deadline
// of its active jobs forward. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithMiddleware sets the middleware every handler call runs through.
func WithMiddleware(mws ...middleware.Middleware) PoolOption {
	return func(p *Pool) { p.middleware = mws }
}

// WithExtensions sets the registry that receives job outcome events.
func WithExtensions(r *ext.Registry) PoolOption {
	return func(p *Pool) { p.extensions = r }
}

// WithKeepCompleted marks successful jobs completed instead of removing
// them.
func WithKeepCompleted() PoolOption {
	return func(p *Pool) { p.keepCompleted = true }
}

// WithClock sets the time source for heartbeat deadlines.
func WithClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// NewPool creates a worker pool that runs handler for every job it
// reserves from store.
func NewPool(store job.Store, handler HandlerFunc, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:             store,
		handler:           handler,
		concurrency:       10,
		workerID:          id.NewWorkerID(),
		backoff:           backoff.DefaultStrategy(),
		logger:            logger,
		now:               func() time.Time { return time.Now().UTC() },
		heartbeatInterval: time.Second,
		stopCh:            make(chan struct{}),
		activeJobs:        make(map[string]activeJob),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.executor = NewExecutor(store, handler, p.extensions, logger, p.middleware...)
	p.executor.keepCompleted = p.keepCompleted
	return p
}

// WorkerID returns the id the pool reserves jobs under.
func (p *Pool) WorkerID() string { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.reserveLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If ctx ends first, active jobs are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// reserveLoop is run by each worker goroutine.
func (p *Pool) reserveLoop() {
	defer p.wg.Done()

	idle := 0
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if !p.waitForToken() {
			return
		}

		j, err := p.store.Reserve(context.Background(), p.workerID)
		if err != nil {
			p.logger.Error("reserve error", slog.String("error", err.Error()))
			idle++
			p.sleep(idle)
			continue
		}
		if j == nil {
			idle++
			p.sleep(idle)
			continue
		}
		idle = 0

		ctx, cancel := context.WithCancel(context.Background())
		p.trackJob(j, cancel)

		if execErr := p.executor.Execute(ctx, j); execErr != nil {
			p.logger.Debug("job execution failed",
				slog.String("job_id", j.ID),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrackJob(j.ID)
		cancel()
	}
}

// heartbeatLoop periodically pushes the stall deadline of active jobs.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	beats := make(map[string]int64, len(p.activeJobs))
	for jobID, a := range p.activeJobs {
		if a.stallMs > 0 {
			beats[jobID] = a.stallMs
		}
	}
	p.activeMu.Unlock()

	now := p.now()
	for jobID, stallMs := range beats {
		stalls := now.Add(time.Duration(stallMs) * time.Millisecond)
		err := p.store.UpdateOwned(context.Background(), jobID, p.workerID, job.Fields{job.FieldStalls: stalls})
		switch {
		case errors.Is(err, jobstore.ErrJobNotOwned):
			p.logger.Warn("job lost to reclamation, cancelling",
				slog.String("job_id", jobID),
				slog.String("worker_id", p.workerID),
			)
			p.cancelJob(jobID)
		case err != nil:
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// waitForToken blocks until the reserve limiter allows another call. It
// returns false if the pool stopped first.
func (p *Pool) waitForToken() bool {
	if p.limiter == nil {
		return true
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return p.limiter.Wait(ctx) == nil
}

func (p *Pool) sleep(idle int) {
	select {
	case <-time.After(p.backoff.Delay(idle)):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(j *job.Job, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[j.ID] = activeJob{cancel: cancel, stallMs: j.StallMs}
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelJob(jobID string) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	if a, ok := p.activeJobs[jobID]; ok {
		a.cancel()
	}
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, a := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		a.cancel()
	}
}
