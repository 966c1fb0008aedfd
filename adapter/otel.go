package adapter

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies memguardian spans and instruments.
const InstrumentationName = "github.com/srediag/memory-guardian"

// Telemetry carries the tracer and meter handed to the engines.
type Telemetry struct {
	Tracer trace.Tracer
	Meter  metric.Meter
}

// NewTelemetry builds a Telemetry from the given providers. Nil providers fall
// back to the otel globals, which are no-ops until an SDK installs itself.
func NewTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Telemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	return Telemetry{
		Tracer: tp.Tracer(InstrumentationName),
		Meter:  mp.Meter(InstrumentationName),
	}
}
