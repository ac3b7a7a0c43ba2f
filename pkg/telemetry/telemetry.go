// Package telemetry sets up OpenTelemetry tracing and metrics for tool
// dispatch.
//
// Spans are exported over OTLP/HTTP when an endpoint is configured and
// dropped otherwise. Metrics are always collected in process by a manual
// reader so the HTTP API can serve a snapshot without an external
// collector.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer and meter.
const InstrumentationName = "github.com/entrhq/sitebridge"

// Config configures the providers.
type Config struct {
	// Endpoint is an OTLP/HTTP collector URL such as
	// http://localhost:4318. Empty disables span export.
	Endpoint    string
	ServiceName string
	// SpanProcessor, when set, receives spans in addition to any exporter.
	SpanProcessor sdktrace.SpanProcessor
}

// Provider owns the tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	reader         *sdkmetric.ManualReader
}

// Setup builds the providers described by cfg.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "sitebridge"
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}
	if cfg.SpanProcessor != nil {
		traceOpts = append(traceOpts, sdktrace.WithSpanProcessor(cfg.SpanProcessor))
	}

	reader := sdkmetric.NewManualReader()
	return &Provider{
		tracerProvider: sdktrace.NewTracerProvider(traceOpts...),
		meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res)),
		reader:         reader,
	}, nil
}

// Tracer returns the runtime tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracerProvider.Tracer(InstrumentationName)
}

// Meter returns the runtime meter.
func (p *Provider) Meter() metric.Meter {
	return p.meterProvider.Meter(InstrumentationName)
}

// Observer builds a call observer on this provider.
func (p *Provider) Observer() (*Observer, error) {
	return NewObserver(p.Meter(), p.Tracer())
}

// Shutdown flushes pending spans and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.tracerProvider.Shutdown(ctx), p.meterProvider.Shutdown(ctx))
}

// Point is one metric series in a snapshot.
type Point struct {
	Attributes map[string]string `json:"attributes"`
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Count      uint64            `json:"count,omitempty"`
}

// Snapshot collects the current value of every counter and histogram.
// Histograms report their sum as Value and their sample count as Count.
func (p *Provider) Snapshot(ctx context.Context) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("failed to collect metrics: %w", err)
	}
	var points []Point
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					points = append(points, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Value: float64(dp.Value)})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					points = append(points, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Value: dp.Sum, Count: dp.Count})
				}
			}
		}
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Name < points[j].Name })
	return points, nil
}

func attrMap(set attribute.Set) map[string]string {
	out := make(map[string]string, set.Len())
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}
