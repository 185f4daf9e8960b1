package stream

import (
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"snapshot-capture/internal/engine"
	"snapshot-capture/internal/shutdown"
)

const (
	DefaultConcurrency = 4
	DefaultBufferSize  = 16
)

type Options struct {
	// Concurrency is the maximum number of browsers running at once.
	Concurrency int
	// BufferSize bounds the results held before the consumer reads them.
	BufferSize int
	Engine     engine.Engine
	Logger     logr.Logger
	Meter      metric.Meter
	// Shutdown receives the pool's termination hook. Defaults to
	// shutdown.Default.
	Shutdown *shutdown.Registry
}

func DefaultOptions() Options {
	return Options{
		Concurrency: DefaultConcurrency,
		BufferSize:  DefaultBufferSize,
		Engine:      engine.NewPlaywright(engine.DefaultPlaywrightConfig()),
		Logger:      logr.Discard(),
		Meter:       noop.NewMeterProvider().Meter(""),
		Shutdown:    shutdown.Default,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	if o.Engine == nil {
		o.Engine = d.Engine
	}
	if o.Logger.GetSink() == nil {
		o.Logger = d.Logger
	}
	if o.Meter == nil {
		o.Meter = d.Meter
	}
	if o.Shutdown == nil {
		o.Shutdown = d.Shutdown
	}
	return o
}
