// Package metrics holds the OpenTelemetry instruments the FlashDB server
// records to. Without a configured MeterProvider the global no-op meter is
// used and recording costs nothing.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "flashdb"

// Metrics holds all server metric instruments.
type Metrics struct {
	Commands        metric.Int64Counter
	CommandErrors   metric.Int64Counter
	Connections     metric.Int64UpDownCounter
	Swept           metric.Int64Counter
	CommandDuration metric.Float64Histogram
}

// New creates all instruments on meter. A nil meter means the global one.
func New(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &Metrics{}
	var err error

	m.Commands, err = meter.Int64Counter("flashdb.commands",
		metric.WithDescription("Number of commands received"))
	if err != nil {
		return nil, err
	}

	m.CommandErrors, err = meter.Int64Counter("flashdb.command_errors",
		metric.WithDescription("Number of commands answered with ERR"))
	if err != nil {
		return nil, err
	}

	m.Connections, err = meter.Int64UpDownCounter("flashdb.connections.active",
		metric.WithDescription("Number of open client connections"))
	if err != nil {
		return nil, err
	}

	m.Swept, err = meter.Int64Counter("flashdb.swept",
		metric.WithDescription("Number of expired entries removed by the sweeper"))
	if err != nil {
		return nil, err
	}

	m.CommandDuration, err = meter.Float64Histogram("flashdb.command.duration_seconds",
		metric.WithDescription("Time spent executing a command against the store"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCommand counts one command for op and its execution time.
func (m *Metrics) RecordCommand(ctx context.Context, op string, seconds float64, failed bool) {
	attrs := metric.WithAttributes(attribute.String("op", op))
	m.Commands.Add(ctx, 1, attrs)
	m.CommandDuration.Record(ctx, seconds, attrs)
	if failed {
		m.CommandErrors.Add(ctx, 1, attrs)
	}
}
