package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/shaharia-lab/terediX/pkg/resource"
)

// ResourceCount is the number of stored resources of one kind from one source.
type ResourceCount struct {
	Source string
	Kind   string
	Count  int64
}

// CountFunc reports current stored resource counts.
type CountFunc func(ctx context.Context) ([]ResourceCount, error)

// Metrics holds the pipeline instruments. It satisfies the recorder interfaces of
// the scheduler, worker pool and processor.
type Metrics struct {
	meter metric.Meter

	scanDuration        metric.Float64Histogram
	scanRuns            metric.Int64Counter
	resourcesDiscovered metric.Int64Counter
	triggersDropped     metric.Int64Counter
	processingErrors    metric.Int64Counter
	batchSize           metric.Int64Histogram
	commitDuration      metric.Float64Histogram
	commitFailures      metric.Int64Counter
	relations           metric.Int64Gauge

	observeOnce sync.Once
}

// NewMetrics creates all instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	if err := m.init(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewNopMetrics returns metrics backed by a no-op meter.
func NewNopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider().Meter(InstrumentationName))
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) init() error {
	var err error

	m.scanDuration, err = m.meter.Float64Histogram(
		"teredix_scan_duration_seconds",
		metric.WithDescription("Duration of one source scan"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create scan_duration: %w", err)
	}

	m.scanRuns, err = m.meter.Int64Counter(
		"teredix_scan_runs_total",
		metric.WithDescription("Scan runs by status"),
	)
	if err != nil {
		return fmt.Errorf("create scan_runs: %w", err)
	}

	m.resourcesDiscovered, err = m.meter.Int64Counter(
		"teredix_resources_discovered_total",
		metric.WithDescription("Resources emitted by scanners"),
	)
	if err != nil {
		return fmt.Errorf("create resources_discovered: %w", err)
	}

	m.triggersDropped, err = m.meter.Int64Counter(
		"teredix_scheduler_triggers_dropped_total",
		metric.WithDescription("Triggers dropped because the previous run was still in flight"),
	)
	if err != nil {
		return fmt.Errorf("create triggers_dropped: %w", err)
	}

	m.processingErrors, err = m.meter.Int64Counter(
		"teredix_processing_errors_total",
		metric.WithDescription("Resources dropped as malformed"),
	)
	if err != nil {
		return fmt.Errorf("create processing_errors: %w", err)
	}

	m.batchSize, err = m.meter.Int64Histogram(
		"teredix_batch_size",
		metric.WithDescription("Resources per storage commit"),
		metric.WithExplicitBucketBoundaries(1, 10, 25, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		return fmt.Errorf("create batch_size: %w", err)
	}

	m.commitDuration, err = m.meter.Float64Histogram(
		"teredix_storage_commit_duration_seconds",
		metric.WithDescription("Duration of storage commits"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create commit_duration: %w", err)
	}

	m.commitFailures, err = m.meter.Int64Counter(
		"teredix_storage_commit_failures_total",
		metric.WithDescription("Failed storage commits"),
	)
	if err != nil {
		return fmt.Errorf("create commit_failures: %w", err)
	}

	m.relations, err = m.meter.Int64Gauge(
		"teredix_relations_total",
		metric.WithDescription("Relations produced by the last inference run"),
	)
	if err != nil {
		return fmt.Errorf("create relations: %w", err)
	}

	return nil
}

// RecordScan records the outcome of one scan run.
func (m *Metrics) RecordScan(ctx context.Context, res resource.ScanResult) {
	attrs := metric.WithAttributes(
		attribute.String("source", res.Source),
		attribute.String("kind", res.Kind),
		attribute.String("status", res.Status()),
	)
	m.scanDuration.Record(ctx, res.Duration.Seconds(), attrs)
	m.scanRuns.Add(ctx, 1, attrs)
	if res.Resources > 0 {
		m.resourcesDiscovered.Add(ctx, int64(res.Resources), metric.WithAttributes(
			attribute.String("source", res.Source),
			attribute.String("kind", res.Kind),
		))
	}
}

// TriggerDropped counts a skipped trigger.
func (m *Metrics) TriggerDropped(ctx context.Context, source string) {
	m.triggersDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// ProcessingError counts a dropped resource.
func (m *Metrics) ProcessingError(ctx context.Context, reason string) {
	m.processingErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordCommit records one batch commit.
func (m *Metrics) RecordCommit(ctx context.Context, size int, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failed"
		m.commitFailures.Add(ctx, 1)
	}
	m.batchSize.Record(ctx, int64(size))
	m.commitDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordRelations records the relation count of the last inference run.
func (m *Metrics) RecordRelations(ctx context.Context, count int) {
	m.relations.Record(ctx, int64(count))
}

// ObserveResources registers an observable gauge fed by fn. Only the first call registers.
func (m *Metrics) ObserveResources(fn CountFunc) error {
	var err error
	m.observeOnce.Do(func() {
		_, err = m.meter.Int64ObservableGauge(
			"teredix_resources",
			metric.WithDescription("Stored resources per source and kind"),
			metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
				counts, cerr := fn(ctx)
				if cerr != nil {
					return cerr
				}
				for _, c := range counts {
					o.Observe(c.Count, metric.WithAttributes(
						attribute.String("source", c.Source),
						attribute.String("kind", c.Kind),
					))
				}
				return nil
			}),
		)
	})
	return err
}
