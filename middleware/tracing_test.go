package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/jobstore/middleware"
)

// runTraced runs handler for a job under tracing middleware and returns
// the single ended span.
func runTraced(t *testing.T, attempts int, expiresIn time.Duration, handler middleware.Handler) (sdktrace.ReadOnlySpan, error) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)).Tracer("test")

	err := middleware.Chain(
		middleware.TracingWithTracer(tracer),
		middleware.Deadline(slog.Default()),
	)(context.Background(), reservedJob(attempts, expiresIn), handler)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "jobstore.job.execute", spans[0].Name())
	return spans[0], err
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracing_LeaseAttributes(t *testing.T) {
	span, err := runTraced(t, 0, time.Hour, succeed)
	require.NoError(t, err)

	attrs := spanAttrs(span)
	assert.Equal(t, "wkr_1", attrs["jobstore.worker.id"].AsString())
	assert.Equal(t, int64(0), attrs["jobstore.job.attempts"].AsInt64())
	assert.False(t, attrs["jobstore.job.reclaimed"].AsBool())
	assert.Equal(t, int64(30_000), attrs["jobstore.job.stall_window_ms"].AsInt64())
	assert.Contains(t, attrs, attribute.Key("jobstore.job.stalls"))

	expires, perr := time.Parse(time.RFC3339Nano, attrs["jobstore.job.expires"].AsString())
	require.NoError(t, perr)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	remaining := time.Duration(attrs["jobstore.job.lease_remaining_ms"].AsInt64()) * time.Millisecond
	assert.InDelta(t, time.Hour.Seconds(), remaining.Seconds(), 60)

	assert.Equal(t, "ok", attrs["jobstore.job.outcome"].AsString())
	assert.Equal(t, codes.Ok, span.Status().Code)
	assert.Empty(t, span.Events())
}

func TestTracing_UnboundedJobHasNoExpiry(t *testing.T) {
	span, err := runTraced(t, 1, 0, succeed)
	require.NoError(t, err)

	attrs := spanAttrs(span)
	assert.True(t, attrs["jobstore.job.reclaimed"].AsBool())
	assert.NotContains(t, attrs, attribute.Key("jobstore.job.expires"))
	assert.NotContains(t, attrs, attribute.Key("jobstore.job.lease_remaining_ms"))
}

func TestTracing_HandlerError(t *testing.T) {
	want := errors.New("smtp unavailable")
	span, err := runTraced(t, 0, time.Hour, func(context.Context) error { return want })
	require.ErrorIs(t, err, want)

	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, "smtp unavailable", span.Status().Description)
	assert.Equal(t, "error", spanAttrs(span)["jobstore.job.outcome"].AsString())

	var names []string
	for _, ev := range span.Events() {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"exception"}, names)
}

func TestTracing_LeaseOverrun(t *testing.T) {
	span, err := runTraced(t, 2, 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, "lease_expired", spanAttrs(span)["jobstore.job.outcome"].AsString())

	var overrun *sdktrace.Event
	for _, ev := range span.Events() {
		if ev.Name == "jobstore.job.lease_overrun" {
			overrun = &ev
		}
	}
	require.NotNil(t, overrun, "expected a lease overrun event")
	require.Len(t, overrun.Attributes, 1)
	assert.Equal(t, attribute.Key("jobstore.job.overrun_ms"), overrun.Attributes[0].Key)
	assert.GreaterOrEqual(t, overrun.Attributes[0].Value.AsInt64(), int64(0))
}

func TestTracing_HandlerSeesSpan(t *testing.T) {
	var inner trace.SpanContext
	span, err := runTraced(t, 0, 0, func(ctx context.Context) error {
		inner = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, span.SpanContext().SpanID(), inner.SpanID())
}

func TestTracing_GlobalProviderIsNoopSafe(t *testing.T) {
	called := false
	err := middleware.Tracing()(context.Background(), reservedJob(0, time.Hour), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
