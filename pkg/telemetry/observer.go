package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/entrhq/sitebridge/pkg/types"
)

// Metric names.
const (
	MetricCalls    = "sitebridge.tool.calls"
	MetricDuration = "sitebridge.tool.duration"
)

// Observer records one span, one counter increment and one latency sample
// per tool call. A nil *Observer records nothing.
type Observer struct {
	tracer   trace.Tracer
	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewObserver creates the instruments on meter.
func NewObserver(meter metric.Meter, tracer trace.Tracer) (*Observer, error) {
	calls, err := meter.Int64Counter(MetricCalls,
		metric.WithDescription("Number of tool calls by outcome code"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(MetricDuration,
		metric.WithDescription("Duration of tool calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &Observer{tracer: tracer, calls: calls, duration: duration}, nil
}

// Start opens the span for a call. The returned function closes it with
// the call's result and must be called exactly once.
func (o *Observer) Start(ctx context.Context, adapterID, tool string) (context.Context, func(*types.Result)) {
	if o == nil {
		return ctx, func(*types.Result) {}
	}
	start := time.Now()
	base := []attribute.KeyValue{
		attribute.String("adapter_id", adapterID),
		attribute.String("tool_name", tool),
	}
	ctx, span := o.tracer.Start(ctx, "tool.call", trace.WithAttributes(base...))

	return ctx, func(res *types.Result) {
		code := "OK"
		if res != nil && !res.Success {
			code = string(res.Code)
			span.SetStatus(codes.Error, res.Error)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		attrs := append(base, attribute.String("code", code))
		span.SetAttributes(attribute.String("code", code))
		span.End()

		opts := metric.WithAttributes(attrs...)
		o.calls.Add(context.Background(), 1, opts)
		o.duration.Record(context.Background(), time.Since(start).Seconds(), opts)
	}
}
