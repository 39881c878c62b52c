package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartStageSpan opens the span that parents every request of one load stage.
func StartStageSpan(ctx context.Context, tracer trace.Tracer, index int, rate float64, concurrency int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "breakpoint stage",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int("breakpoint.stage.index", index),
			attribute.Float64("breakpoint.stage.target_rate", rate),
			attribute.Int("breakpoint.stage.concurrency_limit", concurrency),
		),
	)
}

// StartRequestSpan opens a client span for one HTTP call.
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, method, url string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "HTTP "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", url),
		),
	)
}

// EndSpan finishes span, recording err when set.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders writes the W3C trace context of ctx into headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
