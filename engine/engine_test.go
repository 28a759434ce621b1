package engine_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/jobstore/backoff"
	"github.com/xraph/jobstore/engine"
	"github.com/xraph/jobstore/ext"
	"github.com/xraph/jobstore/job"
	"github.com/xraph/jobstore/middleware"
	"github.com/xraph/jobstore/store/memory"
	"github.com/xraph/jobstore/worker"
)

func newEngine(t *testing.T, s *memory.Store, reg *ext.Registry, opts ...engine.Option) *engine.Engine {
	t.Helper()
	base := []engine.Option{
		engine.WithLogger(slog.Default()),
		engine.WithTracerProvider(sdktrace.NewTracerProvider()),
		engine.WithMeterProvider(sdkmetric.NewMeterProvider()),
		engine.WithPoolOptions(
			worker.WithConcurrency(2),
			worker.WithBackoff(backoff.NewConstant(10*time.Millisecond)),
		),
	}
	return engine.New(s, reg, append(base, opts...)...)
}

func stop(t *testing.T, eng *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, eng.Stop(ctx))
}

func TestEngine_LifecycleEvents(t *testing.T) {
	var opened, closed atomic.Int64
	reg := ext.NewRegistry(slog.Default())
	s := memory.New(memory.WithExtensions(reg))

	eng := newEngine(t, s, reg, engine.WithExtension(&ext.Lifecycle{
		Opened: func(context.Context) { opened.Add(1) },
		Closed: func(_ context.Context, err error) {
			assert.NoError(t, err)
			closed.Add(1)
		},
	}))

	require.NoError(t, eng.Start(context.Background()))
	assert.Equal(t, int64(1), opened.Load())
	assert.Nil(t, eng.Pool(), "no handler means no pool")

	stop(t, eng)
	assert.Equal(t, int64(1), closed.Load())

	_, err := s.GetByID(context.Background(), "job_1")
	assert.Error(t, err, "store should be closed after Stop")
}

func TestEngine_ProcessesEnqueuedJobs(t *testing.T) {
	reg := ext.NewRegistry(slog.Default())
	s := memory.New(memory.WithExtensions(reg))

	var handled atomic.Int64
	eng := newEngine(t, s, reg, engine.WithHandler(func(_ context.Context, j *job.Job) error {
		handled.Add(1)
		return nil
	}))
	require.NotNil(t, eng.Pool())

	require.NoError(t, eng.Start(context.Background()))
	defer stop(t, eng)

	for range 5 {
		require.NoError(t, eng.Enqueue(context.Background(), &job.Job{}))
	}

	require.Eventually(t, func() bool {
		jobs, err := eng.Store().Get(context.Background(), job.Filter{})
		return err == nil && len(jobs) == 0 && handled.Load() == 5
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_HandlerRunsThroughMiddleware(t *testing.T) {
	reg := ext.NewRegistry(slog.Default())
	s := memory.New(memory.WithExtensions(reg))

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	var order []string
	var done atomic.Bool
	eng := newEngine(t, s, reg,
		engine.WithTracerProvider(tp),
		engine.WithMeterProvider(mp),
		engine.WithMiddleware(func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
			order = append(order, "custom")
			return next(ctx)
		}),
		engine.WithHandler(func(context.Context, *job.Job) error {
			order = append(order, "handler")
			done.Store(true)
			return nil
		}),
		engine.WithPoolOptions(worker.WithConcurrency(1)),
	)

	require.NoError(t, eng.Start(context.Background()))
	require.NoError(t, eng.Enqueue(context.Background(), &job.Job{ID: "job_1"}))
	require.Eventually(t, done.Load, 5*time.Second, 10*time.Millisecond)
	stop(t, eng)

	assert.Equal(t, []string{"custom", "handler"}, order)

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Contains(t, names, "jobstore.job.execute")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var metricNames []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			metricNames = append(metricNames, m.Name)
		}
	}
	assert.Contains(t, metricNames, "jobstore.job.attempts")
	assert.Contains(t, metricNames, "jobstore.store.opened")
	assert.Contains(t, metricNames, "jobstore.job.reserved")
}

func TestEngine_SweepReclaimsExpired(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	clock := func() time.Time { return now }

	reg := ext.NewRegistry(slog.Default())
	s := memory.New(memory.WithExtensions(reg), memory.WithClock(clock))
	eng := newEngine(t, s, reg, engine.WithSweepSchedule("@every 1h"))

	require.NoError(t, eng.Start(context.Background()))
	defer stop(t, eng)

	require.NoError(t, eng.Enqueue(context.Background(), &job.Job{ID: "job_1", ExpireMs: 1000}))
	reserved, err := s.Reserve(context.Background(), "w1")
	require.NoError(t, err)
	require.NotNil(t, reserved)

	now = start.Add(2 * time.Second)

	res, err := eng.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Expired)
	assert.Equal(t, int64(0), res.Stalled)

	got, err := s.GetByID(context.Background(), "job_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.StatusReady, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestEngine_StartFailsOnBadSchedule(t *testing.T) {
	var closed atomic.Int64
	reg := ext.NewRegistry(slog.Default())
	s := memory.New(memory.WithExtensions(reg))

	eng := newEngine(t, s, reg,
		engine.WithSweepSchedule("not a schedule"),
		engine.WithExtension(&ext.Lifecycle{
			Closed: func(context.Context, error) { closed.Add(1) },
		}),
	)

	err := eng.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start sweeper")
	assert.Equal(t, int64(1), closed.Load(), "store should be closed again")
}
