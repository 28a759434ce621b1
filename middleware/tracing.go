package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/jobstore/job"
)

// tracerName is the instrumentation scope name for handler tracing.
const tracerName = "github.com/xraph/jobstore"

// Tracing returns middleware that wraps a handler run in a
// "jobstore.job.execute" span using the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
//
// The span carries the job's identity, its attempt count and whether it
// was reclaimed, plus its lease: the expires deadline with the time left
// on it at start, and the stalls deadline with its heartbeat window. A run
// that outlives its expires deadline gets a "jobstore.job.lease_overrun"
// event. The outcome attribute is one of the Outcome values.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		lease := LeaseOf(j)
		start := time.Now()

		attrs := []attribute.KeyValue{
			attribute.String("jobstore.job.id", j.ID),
			attribute.String("jobstore.worker.id", j.WorkerID),
			attribute.Int("jobstore.job.attempts", j.Attempts),
			attribute.Bool("jobstore.job.reclaimed", j.Attempts > 0),
		}
		if lease.Bounded() {
			attrs = append(attrs,
				attribute.String("jobstore.job.expires", lease.Expires.UTC().Format(time.RFC3339Nano)),
				attribute.Int64("jobstore.job.lease_remaining_ms", lease.Remaining(start).Milliseconds()),
			)
		}
		if !lease.Stalls.IsZero() {
			attrs = append(attrs,
				attribute.String("jobstore.job.stalls", lease.Stalls.UTC().Format(time.RFC3339Nano)),
				attribute.Int64("jobstore.job.stall_window_ms", lease.StallWindow.Milliseconds()),
			)
		}

		ctx, span := tracer.Start(ctx, "jobstore.job.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		finished := time.Now()

		if overrun := lease.Overrun(finished); overrun > 0 {
			span.AddEvent("jobstore.job.lease_overrun", trace.WithAttributes(
				attribute.Int64("jobstore.job.overrun_ms", overrun.Milliseconds()),
			))
		}

		outcome := outcomeOf(lease, err, finished)
		span.SetAttributes(attribute.String("jobstore.job.outcome", string(outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
