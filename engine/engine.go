package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/jobstore/ext"
	"github.com/xraph/jobstore/job"
	mw "github.com/xraph/jobstore/middleware"
	"github.com/xraph/jobstore/observability"
	"github.com/xraph/jobstore/store"
	"github.com/xraph/jobstore/sweep"
	"github.com/xraph/jobstore/worker"
)

// instrumentationName is the scope name for engine-created tracers and meters.
const instrumentationName = "github.com/xraph/jobstore"

// Engine owns the lifecycle of a store, its sweeper and a worker pool.
type Engine struct {
	store      store.Store
	extensions *ext.Registry
	sweeper    *sweep.Sweeper
	pool       *worker.Pool
	logger     *slog.Logger

	handler       worker.HandlerFunc
	mws           []mw.Middleware
	poolOpts      []worker.PoolOption
	sweepSchedule string

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithHandler sets the handler the worker pool runs. Without one the
// engine starts no pool.
func WithHandler(h worker.HandlerFunc) Option {
	return func(eng *Engine) { eng.handler = h }
}

// WithExtension registers an extension on the engine's registry.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware adds middleware to the handler chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithPoolOptions passes options through to the worker pool.
func WithPoolOptions(opts ...worker.PoolOption) Option {
	return func(eng *Engine) { eng.poolOpts = append(eng.poolOpts, opts...) }
}

// WithSweepSchedule sets the cron expression the sweeper runs on.
func WithSweepSchedule(schedule string) Option {
	return func(eng *Engine) { eng.sweepSchedule = schedule }
}

// WithLogger sets the logger for the engine and the components it builds.
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = logger }
}

// WithTracerProvider sets the TracerProvider for the tracing middleware.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets the MeterProvider for the metrics middleware and
// the observability extension. If not set, the global
// otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New builds an Engine over s. extensions must be the registry s was
// constructed with so store and pool events reach the same extensions.
func New(s store.Store, extensions *ext.Registry, opts ...Option) *Engine {
	if extensions == nil {
		extensions = ext.NewRegistry(nil)
	}
	eng := &Engine{
		store:         s,
		extensions:    extensions,
		logger:        slog.Default(),
		sweepSchedule: sweep.DefaultSchedule,
	}
	for _, opt := range opts {
		opt(eng)
	}

	tp := eng.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := eng.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	eng.extensions.Register(observability.NewMetricsExtensionWithMeter(mp.Meter(instrumentationName)))

	eng.sweeper = sweep.New(s,
		sweep.WithSchedule(eng.sweepSchedule),
		sweep.WithLogger(eng.logger),
	)

	if eng.handler != nil {
		// Tracing and metrics wrap the caller's middleware so they observe
		// the whole chain.
		chain := append([]mw.Middleware{
			mw.TracingWithTracer(tp.Tracer(instrumentationName)),
			mw.MetricsWithMeter(mp.Meter(instrumentationName)),
		}, eng.mws...)

		poolOpts := append([]worker.PoolOption{
			worker.WithExtensions(eng.extensions),
			worker.WithMiddleware(chain...),
		}, eng.poolOpts...)
		eng.pool = worker.NewPool(s, eng.handler, eng.logger, poolOpts...)
	}

	return eng
}

// Start opens the store, then starts the sweeper and the worker pool.
// If a later step fails, the earlier ones are undone.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.store.Open(ctx); err != nil {
		return fmt.Errorf("engine: open store: %w", err)
	}

	if err := eng.sweeper.Start(ctx); err != nil {
		_ = eng.store.Close(ctx, true)
		return fmt.Errorf("engine: start sweeper: %w", err)
	}

	if eng.pool != nil {
		if err := eng.pool.Start(ctx); err != nil {
			_ = eng.sweeper.Stop(ctx)
			_ = eng.store.Close(ctx, true)
			return fmt.Errorf("engine: start worker pool: %w", err)
		}
	}

	eng.logger.Info("engine started", slog.Bool("worker_pool", eng.pool != nil))
	return nil
}

// Stop shuts the pool down, stops the sweeper and closes the store. The
// store is closed gracefully unless ctx has already ended.
func (eng *Engine) Stop(ctx context.Context) error {
	var errs []error

	if eng.pool != nil {
		if err := eng.pool.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("engine: stop worker pool: %w", err))
		}
	}
	if err := eng.sweeper.Stop(ctx); err != nil {
		eng.logger.Error("sweeper stop error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := eng.store.Close(ctx, ctx.Err() != nil); err != nil {
		errs = append(errs, fmt.Errorf("engine: close store: %w", err))
	}

	eng.logger.Info("engine stopped")
	return errors.Join(errs...)
}

// Enqueue adds j to the store. The assigned id is written back to j.
func (eng *Engine) Enqueue(ctx context.Context, j *job.Job) error {
	return eng.store.Add(ctx, j)
}

// Sweep runs both reclamation passes once, outside the schedule.
func (eng *Engine) Sweep(ctx context.Context) (sweep.Result, error) {
	return eng.sweeper.Sweep(ctx)
}

// Store returns the engine's job store.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Pool returns the worker pool, or nil when the engine has no handler.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }
