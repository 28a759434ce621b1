package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/jobstore/ext"
	"github.com/xraph/jobstore/job"
	"github.com/xraph/jobstore/observability"
	"github.com/xraph/jobstore/store/memory"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

// sums collects every Int64 sum data point keyed by metric name and
// attribute set.
func sums(t *testing.T, reader *sdkmetric.ManualReader) map[string]map[attribute.Distinct]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	out := make(map[string]map[attribute.Distinct]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			points := make(map[attribute.Distinct]int64)
			for _, dp := range sum.DataPoints {
				points[dp.Attributes.Equivalent()] = dp.Value
			}
			out[m.Name] = points
		}
	}
	return out
}

func total(points map[attribute.Distinct]int64) int64 {
	var n int64
	for _, v := range points {
		n += v
	}
	return n
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_Counters(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()
	j := &job.Job{ID: "job_1"}

	hooks := []error{
		e.OnStoreOpened(ctx),
		e.OnStoreClosed(ctx, nil),
		e.OnStoreClosed(ctx, errors.New("connection lost")),
		e.OnJobReserved(ctx, j),
		e.OnJobReserved(ctx, j),
		e.OnJobReclaimed(ctx, job.ReclaimExpired, 3),
		e.OnJobReclaimed(ctx, job.ReclaimStalled, 2),
		e.OnJobCompleted(ctx, j, time.Second),
		e.OnJobFailed(ctx, j, errors.New("boom")),
	}
	for i, err := range hooks {
		if err != nil {
			t.Fatalf("hook %d: unexpected error: %v", i, err)
		}
	}

	got := sums(t, reader)
	want := map[string]int64{
		"jobstore.store.opened":  1,
		"jobstore.store.closed":  2,
		"jobstore.job.reserved":  2,
		"jobstore.job.reclaimed": 5,
		"jobstore.job.completed": 1,
		"jobstore.job.failed":    1,
	}
	for name, n := range want {
		if total(got[name]) != n {
			t.Errorf("%s = %d, want %d", name, total(got[name]), n)
		}
	}

	reclaimed := got["jobstore.job.reclaimed"]
	if v := reclaimed[attribute.NewSet(attribute.String("kind", "expired")).Equivalent()]; v != 3 {
		t.Errorf("reclaimed{kind=expired} = %d, want 3", v)
	}
	if v := reclaimed[attribute.NewSet(attribute.String("kind", "stalled")).Equivalent()]; v != 2 {
		t.Errorf("reclaimed{kind=stalled} = %d, want 2", v)
	}

	closed := got["jobstore.store.closed"]
	if v := closed[attribute.NewSet(attribute.Bool("error", true)).Equivalent()]; v != 1 {
		t.Errorf("closed{error=true} = %d, want 1", v)
	}
}

func TestMetricsExtension_FedByStore(t *testing.T) {
	e, reader := newTestExtension()
	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	s := memory.New(memory.WithExtensions(reg), memory.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	if err := s.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Add(ctx, &job.Job{ID: "job_1", ExpireMs: 1000}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.Reserve(ctx, "w1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	clock = now.Add(2 * time.Second)
	if _, err := s.ReclaimExpired(ctx); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if err := s.Close(ctx, false); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := sums(t, reader)
	for _, name := range []string{
		"jobstore.store.opened",
		"jobstore.store.closed",
		"jobstore.job.reserved",
		"jobstore.job.reclaimed",
	} {
		if total(got[name]) != 1 {
			t.Errorf("%s = %d, want 1", name, total(got[name]))
		}
	}
}

func TestMetricsExtension_DefaultNoopSafe(t *testing.T) {
	e := observability.NewMetricsExtension()
	if err := e.OnJobReclaimed(context.Background(), job.ReclaimExpired, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
