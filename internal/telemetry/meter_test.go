package telemetry

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordRequest(ctx, http.MethodGet, "/api/v1/tasks", http.StatusOK, time.Now())
	m.RecordMutation(ctx, "add", OutcomeSuccess)
	m.RecordMutation(ctx, "add", OutcomeSuccess)
	m.RecordMutation(ctx, "remove", OutcomeError)
	m.RecordSnapshot(ctx, 4)

	got := collect(t, reader)

	mutations, ok := got["tasksync_mutations_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	counts := map[string]int64{}
	for _, dp := range mutations.DataPoints {
		op, _ := dp.Attributes.Value(attribute.Key("op"))
		outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
		counts[op.AsString()+"/"+outcome.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"add/success": 2, "remove/error": 1}, counts)

	snapshots, ok := got["tasksync_snapshots_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, snapshots.DataPoints, 1)
	assert.EqualValues(t, 1, snapshots.DataPoints[0].Value)

	gauge, ok := got["tasksync_tasks"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.EqualValues(t, 4, gauge.DataPoints[0].Value)

	_, ok = got["http_requests_total"]
	assert.True(t, ok)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordRequest(ctx, http.MethodGet, "/", http.StatusOK, time.Now())
		m.RecordMutation(ctx, "add", OutcomeSuccess)
		m.RecordSnapshot(ctx, 1)
		m.SetTasks(2)
	})
	assert.Zero(t, m.Tasks())
}

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(context.Background(), Config{ServiceName: "test"}, false)
	require.NoError(t, err)

	assert.NotNil(t, p.Logger)
	assert.NotNil(t, p.Metrics)
	p.Metrics.SetTasks(3)
	assert.EqualValues(t, 3, p.Metrics.Tasks())
	assert.NoError(t, p.Shutdown(context.Background()))
}
