package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Observability owns the OpenTelemetry meter and tracer providers for the process.
type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          otelmetric.Meter
	tracer         trace.Tracer
	requestCounter otelmetric.Int64Counter
	requestLatency otelmetric.Float64Histogram
}

// New sets up metrics through the Prometheus exporter and, when jaegerEndpoint is set,
// tracing through the Jaeger exporter. Failures degrade to no-op instruments.
func New(serviceName, jaegerEndpoint string) (*Observability, error) {
	o := &Observability{tracer: noop.NewTracerProvider().Tracer(serviceName)}

	exporter, err := prometheus.New()
	if err != nil {
		return o, err
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	o.meterProvider = provider
	o.meter = provider.Meter(serviceName)

	o.requestCounter, _ = o.meter.Int64Counter(
		"proxy.requests",
		otelmetric.WithDescription("Number of ask-ai requests processed"),
	)
	o.requestLatency, _ = o.meter.Float64Histogram(
		"proxy.request.duration",
		otelmetric.WithDescription("Ask-ai request processing duration"),
		otelmetric.WithUnit("ms"),
	)

	if jaegerEndpoint != "" {
		tp, err := newTracerProvider(serviceName, jaegerEndpoint)
		if err != nil {
			return o, err
		}
		otel.SetTracerProvider(tp)
		o.tracerProvider = tp
		o.tracer = tp.Tracer(serviceName)
	}

	return o, nil
}

// NewNoop returns an Observability whose instruments discard everything; handy in tests.
func NewNoop() *Observability {
	return &Observability{tracer: noop.NewTracerProvider().Tracer("noop")}
}

// Tracer returns the tracer used for request spans.
func (o *Observability) Tracer() trace.Tracer {
	return o.tracer
}

func (o *Observability) RecordRequest(ctx context.Context, status string) {
	if o.requestCounter != nil {
		o.requestCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordRequestDuration(ctx context.Context, duration time.Duration, status string) {
	if o.requestLatency != nil {
		o.requestLatency.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) Shutdown(ctx context.Context) error {
	var firstErr error
	if o.tracerProvider != nil {
		if err := o.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if o.meterProvider != nil {
		if err := o.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
