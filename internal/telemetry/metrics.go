package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MeterName is the instrumentation scope name for taskbot metrics.
const MeterName = "taskbot"

// Metrics holds the command-processing instruments.
type Metrics struct {
	CommandsTotal   metric.Int64Counter
	CommandDuration metric.Float64Histogram
}

// NewMetrics creates the metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CommandsTotal, err = meter.Int64Counter("taskbot.commands",
		metric.WithDescription("Commands processed, by command and outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.CommandDuration, err = meter.Float64Histogram("taskbot.command.duration",
		metric.WithDescription("Command handling duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// MeterProvider wraps the SDK meter provider with cleanup. When disabled it
// is a no-op with zero overhead.
type MeterProvider struct {
	Meter    metric.Meter
	shutdown func(context.Context) error
}

func (p *MeterProvider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}

// NewMeterProvider sets up the metrics pipeline: a periodic stdout exporter
// when enabled, a no-op meter otherwise.
func NewMeterProvider(ctx context.Context, enabled bool) (*MeterProvider, error) {
	if !enabled {
		return &MeterProvider{
			Meter:    noop.NewMeterProvider().Meter(MeterName),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("taskbot")),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("create stdout metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(time.Minute))),
	)

	return &MeterProvider{
		Meter:    mp.Meter(MeterName),
		shutdown: mp.Shutdown,
	}, nil
}
