package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/jobstore/job"
	"github.com/xraph/jobstore/middleware"
)

// meteredRuns runs one handler per job through metrics middleware (with
// Deadline inside it) and returns the collected metrics by name.
func meteredRuns(t *testing.T, runs map[*job.Job]middleware.Handler) map[string]metricdata.Aggregation {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
	chain := middleware.Chain(middleware.MetricsWithMeter(meter), middleware.Deadline(slog.Default()))

	for j, h := range runs {
		_ = chain(context.Background(), j, h)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestMetrics_AttemptsHistogram(t *testing.T) {
	data := meteredRuns(t, map[*job.Job]middleware.Handler{
		reservedJob(0, 0): succeed,
		reservedJob(0, 0): succeed,
		reservedJob(4, 0): succeed,
		reservedJob(1, 0): func(context.Context) error { return errors.New("bad input") },
	})

	hist, ok := data["jobstore.job.attempts"].(metricdata.Histogram[int64])
	require.True(t, ok, "attempts should be an int64 histogram")

	byOutcome := make(map[string]metricdata.HistogramDataPoint[int64])
	for _, dp := range hist.DataPoints {
		v, _ := dp.Attributes.Value("outcome")
		byOutcome[v.AsString()] = dp
	}

	okRuns := byOutcome["ok"]
	assert.Equal(t, uint64(3), okRuns.Count)
	assert.Equal(t, int64(4), okRuns.Sum)
	assert.Equal(t, []float64{0, 1, 2, 3, 5, 8, 13}, okRuns.Bounds)
	// Buckets: (-inf,0] holds the two first attempts, (3,5] the fourth.
	assert.Equal(t, uint64(2), okRuns.BucketCounts[0])
	assert.Equal(t, uint64(1), okRuns.BucketCounts[4])

	failed := byOutcome["error"]
	assert.Equal(t, uint64(1), failed.Count)
	assert.Equal(t, int64(1), failed.Sum)
}

func TestMetrics_LeaseHeadroom(t *testing.T) {
	data := meteredRuns(t, map[*job.Job]middleware.Handler{
		reservedJob(0, time.Hour): succeed,
		reservedJob(0, 0):         succeed,
	})

	hist, ok := data["jobstore.job.lease_headroom"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	dp := hist.DataPoints[0]
	assert.Equal(t, uint64(1), dp.Count, "only the bounded run has headroom")
	assert.InDelta(t, time.Hour.Seconds(), dp.Sum, 60)

	_, found := data["jobstore.job.lease_overruns"]
	assert.False(t, found, "no overruns recorded")

	dur, ok := data["jobstore.job.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, dur.DataPoints, 1)
	assert.Equal(t, uint64(2), dur.DataPoints[0].Count)
}

func TestMetrics_LeaseOverrun(t *testing.T) {
	data := meteredRuns(t, map[*job.Job]middleware.Handler{
		reservedJob(0, 20*time.Millisecond): func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	sum, ok := data["jobstore.job.lease_overruns"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
	v, _ := sum.DataPoints[0].Attributes.Value("outcome")
	assert.Equal(t, "lease_expired", v.AsString())

	_, found := data["jobstore.job.lease_headroom"]
	assert.False(t, found, "an overrun run has no headroom")
}

func TestMetrics_GlobalProviderIsNoopSafe(t *testing.T) {
	called := false
	err := middleware.Metrics()(context.Background(), reservedJob(0, time.Hour), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
