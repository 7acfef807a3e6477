package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"google.golang.org/grpc"
)

// Mutation outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics holds the application's instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	RequestCounter  metric.Int64Counter
	RequestDuration metric.Float64Histogram
	MutationCounter metric.Int64Counter
	SnapshotCounter metric.Int64Counter
	TasksGauge      metric.Int64ObservableGauge

	tasks atomic.Int64
}

// InitMeterProvider configures an OTLP gRPC metric exporter with a 10 second
// periodic reader and installs the global meter provider.
func InitMeterProvider(ctx context.Context, cfg Config, conn *grpc.ClientConn) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(10*time.Second),
		)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return mp, nil
}

// NewMetrics creates and registers the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.RequestCounter, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	m.RequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	m.MutationCounter, err = meter.Int64Counter(
		"tasksync_mutations_total",
		metric.WithDescription("Task mutations by operation and outcome"),
		metric.WithUnit("{mutation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mutation counter: %w", err)
	}

	m.SnapshotCounter, err = meter.Int64Counter(
		"tasksync_snapshots_total",
		metric.WithDescription("Live query snapshots applied to the task list"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot counter: %w", err)
	}

	m.TasksGauge, err = meter.Int64ObservableGauge(
		"tasksync_tasks",
		metric.WithDescription("Number of tasks in the synchronized list"),
		metric.WithUnit("{task}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.tasks.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks gauge: %w", err)
	}

	return m, nil
}

// RecordRequest records one HTTP request.
func (m *Metrics) RecordRequest(ctx context.Context, method, route string, status int, start time.Time) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)
	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

// RecordMutation counts one mutation attempt.
func (m *Metrics) RecordMutation(ctx context.Context, op, outcome string) {
	if m == nil {
		return
	}
	m.MutationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

// RecordSnapshot counts an applied snapshot of n tasks.
func (m *Metrics) RecordSnapshot(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.SnapshotCounter.Add(ctx, 1)
	m.tasks.Store(int64(n))
}

// SetTasks sets the observed list length.
func (m *Metrics) SetTasks(n int) {
	if m == nil {
		return
	}
	m.tasks.Store(int64(n))
}

// Tasks returns the last observed list length.
func (m *Metrics) Tasks() int64 {
	if m == nil {
		return 0
	}
	return m.tasks.Load()
}
