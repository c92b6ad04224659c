// Package observe provides the serving core's observability: OpenTelemetry
// metrics bridged to a Prometheus /metrics endpoint, plus the instruments
// the orchestrator and worker supervisors record into.
//
// A package-level default [Metrics] instance is available via
// [DefaultMetrics]; tests should use [NewMetrics] with their own
// metric.MeterProvider to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all serving-core metrics.
const meterName = "github.com/attunehq/attune"

// Metrics holds the metric instruments. The underlying OTel types are safe
// for concurrent use.
type Metrics struct {
	// StageDuration tracks per-stage turn latency. Attributes:
	//   stage = emotion | respond | speech | total
	StageDuration metric.Float64Histogram

	// Turns counts completed turns. Attributes:
	//   status = ok | degraded | rejected
	Turns metric.Int64Counter

	// Substitutions counts degradations applied mid-turn. Attributes:
	//   stage, reason (matching TurnResult warning strings)
	Substitutions metric.Int64Counter

	// WorkerRestarts counts worker process respawns by worker name.
	WorkerRestarts metric.Int64Counter

	// QueueRejections counts turns refused because a worker queue was full.
	QueueRejections metric.Int64Counter

	// ActiveTurns tracks turns currently in flight.
	ActiveTurns metric.Int64UpDownCounter
}

// latencyBuckets covers the turn pipeline's latency range: classification in
// tens of milliseconds up to a 20 s turn deadline.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// NewMetrics creates the instruments against the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("attune.stage.duration",
		metric.WithDescription("Latency per turn stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("attune.turns",
		metric.WithDescription("Completed turns by status."),
	); err != nil {
		return nil, err
	}
	if met.Substitutions, err = m.Int64Counter("attune.substitutions",
		metric.WithDescription("Degradations applied mid-turn by stage and reason."),
	); err != nil {
		return nil, err
	}
	if met.WorkerRestarts, err = m.Int64Counter("attune.worker.restarts",
		metric.WithDescription("Worker process respawns by worker name."),
	); err != nil {
		return nil, err
	}
	if met.QueueRejections, err = m.Int64Counter("attune.queue.rejections",
		metric.WithDescription("Turns refused because a worker queue was full."),
	); err != nil {
		return nil, err
	}
	if met.ActiveTurns, err = m.Int64UpDownCounter("attune.turns.active",
		metric.WithDescription("Turns currently in flight."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance, created on first call
// from the global meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordStage records one stage latency.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordTurn records a completed turn with its status.
func (m *Metrics) RecordTurn(ctx context.Context, status string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordSubstitution records one degradation.
func (m *Metrics) RecordSubstitution(ctx context.Context, stage, reason string) {
	m.Substitutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("reason", reason),
	))
}

// RecordWorkerRestart records one worker respawn.
func (m *Metrics) RecordWorkerRestart(ctx context.Context, worker string) {
	m.WorkerRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("worker", worker)))
}
