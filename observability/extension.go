package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/jobstore/ext"
	"github.com/xraph/jobstore/job"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/xraph/jobstore/observability"

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.StoreOpened  = (*MetricsExtension)(nil)
	_ ext.StoreClosed  = (*MetricsExtension)(nil)
	_ ext.JobReserved  = (*MetricsExtension)(nil)
	_ ext.JobReclaimed = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle counters through an OTel meter.
// Register it on the ext.Registry passed to a store and worker pool.
type MetricsExtension struct {
	StoreOpened  metric.Int64Counter
	StoreClosed  metric.Int64Counter
	JobReserved  metric.Int64Counter
	JobReclaimed metric.Int64Counter
	JobCompleted metric.Int64Counter
	JobFailed    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	return &MetricsExtension{
		StoreOpened:  counter(meter, "jobstore.store.opened", "Store connections opened"),
		StoreClosed:  counter(meter, "jobstore.store.closed", "Store connections closed, by outcome"),
		JobReserved:  counter(meter, "jobstore.job.reserved", "Jobs moved from ready to processing"),
		JobReclaimed: counter(meter, "jobstore.job.reclaimed", "Jobs returned to ready by a sweep, by kind"),
		JobCompleted: counter(meter, "jobstore.job.completed", "Jobs whose handler succeeded"),
		JobFailed:    counter(meter, "jobstore.job.failed", "Jobs whose handler failed"),
	}
}

// counter creates an Int64Counter. On error the API returns a noop
// instrument.
func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
	return c
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Store lifecycle hooks ───────────────────────────

// OnStoreOpened implements ext.StoreOpened.
func (m *MetricsExtension) OnStoreOpened(ctx context.Context) error {
	m.StoreOpened.Add(ctx, 1)
	return nil
}

// OnStoreClosed implements ext.StoreClosed. Closes caused by an error are
// counted with error=true.
func (m *MetricsExtension) OnStoreClosed(ctx context.Context, err error) error {
	m.StoreClosed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", err != nil)))
	return nil
}

// ── Job hooks ───────────────────────────────────────

// OnJobReserved implements ext.JobReserved.
func (m *MetricsExtension) OnJobReserved(ctx context.Context, _ *job.Job) error {
	m.JobReserved.Add(ctx, 1)
	return nil
}

// OnJobReclaimed implements ext.JobReclaimed.
func (m *MetricsExtension) OnJobReclaimed(ctx context.Context, kind job.ReclaimKind, count int64) error {
	m.JobReclaimed.Add(ctx, count, metric.WithAttributes(attribute.String("kind", string(kind))))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, _ *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1)
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, _ *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1)
	return nil
}
