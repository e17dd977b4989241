// Package telemetry provides OpenTelemetry spans for gateway requests.
// Spans cover the upstream exchange of each attempt; FC error retries and
// the inject fallback show up as sibling spans under the same request.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/digitallysavvy/go-llm-gateway"

// Tracer returns the gateway tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartExchange opens a span for one upstream exchange. The returned end
// function records the error (if any) and closes the span.
func StartExchange(ctx context.Context, ingress, provider, model string, stream, fcActive bool) (context.Context, func(error)) {
	ctx, span := Tracer().Start(ctx, "gateway.upstream_exchange",
		trace.WithAttributes(
			attribute.String("gateway.ingress_api", ingress),
			attribute.String("gateway.provider", provider),
			attribute.String("gateway.model", model),
			attribute.Bool("gateway.stream", stream),
			attribute.Bool("gateway.fc_inject", fcActive),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// RecordUsage attaches token usage attributes to the active span.
func RecordUsage(ctx context.Context, inputTokens, outputTokens uint64) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int64("gateway.usage.input_tokens", int64(inputTokens)),
		attribute.Int64("gateway.usage.output_tokens", int64(outputTokens)),
	)
}
