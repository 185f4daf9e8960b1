package stream

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/xerrors"
)

type metrics struct {
	targets  metric.Int64Counter
	results  metric.Int64Counter
	duration metric.Int64Histogram
	busy     metric.Int64UpDownCounter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	targets, err := meter.Int64Counter("capture_targets_total")
	if err != nil {
		return nil, xerrors.Errorf("failed to create capture_targets_total counter: %w", err)
	}
	results, err := meter.Int64Counter("capture_results_total")
	if err != nil {
		return nil, xerrors.Errorf("failed to create capture_results_total counter: %w", err)
	}
	duration, err := meter.Int64Histogram("capture_target_duration_micro_seconds")
	if err != nil {
		return nil, xerrors.Errorf("failed to create capture_target_duration_micro_seconds histogram: %w", err)
	}
	busy, err := meter.Int64UpDownCounter("capture_workers_busy")
	if err != nil {
		return nil, xerrors.Errorf("failed to create capture_workers_busy counter: %w", err)
	}
	return &metrics{
		targets:  targets,
		results:  results,
		duration: duration,
		busy:     busy,
	}, nil
}

func (m *metrics) dispatched() {
	m.busy.Add(context.Background(), 1)
}

func (m *metrics) completed(outcome string, results int, elapsed time.Duration) {
	ctx := context.Background()
	m.busy.Add(ctx, -1)
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.targets.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Microseconds(), attrs)
	if results > 0 {
		m.results.Add(ctx, int64(results))
	}
}
