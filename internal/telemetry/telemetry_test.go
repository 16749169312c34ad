package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/shaharia-lab/terediX/internal/config"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, mm := range sm.Metrics {
			out[mm.Name] = mm.Data
		}
	}
	return out
}

func sumOf(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "got %T", agg)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewProvider_Disabled(t *testing.T) {
	cfg := config.Telemetry{ServiceName: "test-teredix"}

	p, err := NewProvider(context.Background(), cfg, "dev")
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_WithEndpoint(t *testing.T) {
	cfg := config.Telemetry{
		Endpoint:    "localhost:4317",
		Insecure:    true,
		ServiceName: "test-teredix",
		Traces:      config.Traces{Enabled: true, SampleRate: 1.0},
	}

	// exporters connect lazily, so setup succeeds without a collector
	p, err := NewProvider(context.Background(), cfg, "dev")
	require.NoError(t, err)
	require.NotNil(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestProvider_Handler(t *testing.T) {
	p, err := NewProvider(context.Background(), config.Telemetry{ServiceName: "test-teredix"}, "dev")
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	m, err := NewMetrics(p.Meter())
	require.NoError(t, err)
	m.TriggerDropped(context.Background(), "fs")

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "teredix_scheduler_triggers_dropped_total")
}

func TestMetrics_RecordScan(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordScan(ctx, resource.ScanResult{Source: "fs", Kind: resource.KindFilePath, Resources: 3, Duration: time.Second})
	m.RecordScan(ctx, resource.ScanResult{Source: "fs", Kind: resource.KindFilePath, Error: errors.New("boom")})

	data := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, data["teredix_scan_runs_total"]))
	assert.Equal(t, int64(3), sumOf(t, data["teredix_resources_discovered_total"]))

	hist, ok := data["teredix_scan_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}

func TestMetrics_CommitAndErrors(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCommit(ctx, 10, 5*time.Millisecond, nil)
	m.RecordCommit(ctx, 4, time.Millisecond, errors.New("rollback"))
	m.ProcessingError(ctx, "invalid")
	m.TriggerDropped(ctx, "fs")
	m.RecordRelations(ctx, 7)

	data := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, data["teredix_storage_commit_failures_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["teredix_processing_errors_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["teredix_scheduler_triggers_dropped_total"]))

	gauge, ok := data["teredix_relations_total"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(7), gauge.DataPoints[0].Value)
}

func TestMetrics_ObserveResources(t *testing.T) {
	m, reader := newTestMetrics(t)

	err := m.ObserveResources(func(context.Context) ([]ResourceCount, error) {
		return []ResourceCount{
			{Source: "fs", Kind: resource.KindFilePath, Count: 4},
			{Source: "gh", Kind: resource.KindGitHubRepository, Count: 2},
		}, nil
	})
	require.NoError(t, err)
	require.NoError(t, m.ObserveResources(func(context.Context) ([]ResourceCount, error) {
		t.Fatal("second callback must not be registered")
		return nil, nil
	}))

	data := collect(t, reader)
	gauge, ok := data["teredix_resources"].(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Len(t, gauge.DataPoints, 2)
}

func TestNewNopMetrics(t *testing.T) {
	m := NewNopMetrics()
	assert.NotPanics(t, func() {
		m.RecordScan(context.Background(), resource.ScanResult{Source: "x"})
		m.RecordCommit(context.Background(), 1, time.Millisecond, nil)
	})
}
