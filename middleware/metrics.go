package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/jobstore/job"
)

// meterName is the instrumentation scope name for handler metrics.
const meterName = "github.com/xraph/jobstore"

// attemptBuckets bound the attempts histogram. Most jobs run on attempt 0;
// the tail shows how often the sweep had to hand work out again.
var attemptBuckets = []float64{0, 1, 2, 3, 5, 8, 13}

// Metrics returns handler metrics middleware using the global
// MeterProvider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns handler metrics middleware using meter.
//
// Instruments, all carrying an outcome attribute (see Outcome):
//   - jobstore.job.attempts (Int64Histogram): the job's attempt count per run
//   - jobstore.job.duration (Float64Histogram, s): handler run time
//   - jobstore.job.lease_headroom (Float64Histogram, s): time left before
//     expires when a bounded run finished in time
//   - jobstore.job.lease_overruns (Int64Counter): bounded runs that finished
//     after expires
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	attempts, _ := meter.Int64Histogram(
		"jobstore.job.attempts",
		metric.WithDescription("Attempt count of each job run"),
		metric.WithUnit("{attempt}"),
		metric.WithExplicitBucketBoundaries(attemptBuckets...),
	)
	duration, _ := meter.Float64Histogram(
		"jobstore.job.duration",
		metric.WithDescription("Handler run time"),
		metric.WithUnit("s"),
	)
	headroom, _ := meter.Float64Histogram(
		"jobstore.job.lease_headroom",
		metric.WithDescription("Time left on the expires deadline when a run finished"),
		metric.WithUnit("s"),
	)
	overruns, _ := meter.Int64Counter(
		"jobstore.job.lease_overruns",
		metric.WithDescription("Runs that finished after their expires deadline"),
		metric.WithUnit("{run}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		lease := LeaseOf(j)
		start := time.Now()
		err := next(ctx)
		finished := time.Now()

		outcome := metric.WithAttributes(
			attribute.String("outcome", string(outcomeOf(lease, err, finished))),
		)
		attempts.Record(ctx, int64(j.Attempts), outcome)
		duration.Record(ctx, finished.Sub(start).Seconds(), outcome)

		if lease.Bounded() {
			if lease.Overrun(finished) > 0 {
				overruns.Add(ctx, 1, outcome)
			} else {
				headroom.Record(ctx, lease.Remaining(finished).Seconds(), outcome)
			}
		}
		return err
	}
}
