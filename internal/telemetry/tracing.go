// Package telemetry configures OpenTelemetry tracing for the automaton
// runtime.
//
// Spans follow the OTel GenAI semantic conventions where applicable:
//   - gen_ai.system — the inference provider
//   - gen_ai.request.model — the model name
//   - gen_ai.usage.input_tokens — tokens consumed
//   - gen_ai.usage.output_tokens — tokens generated
//
// Custom span attributes use the `moneyclaw.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "moneyclaw/agentloop"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC
// exporter. If endpoint is empty, tracing is disabled (the global no-op
// provider is left in place). Returns a shutdown function to call on exit.
func InitTraceProvider(ctx context.Context, endpoint, walletAddress, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("moneyclaw"),
			semconv.ServiceVersionKey.String(version),
			attribute.String("moneyclaw.wallet_address", walletAddress),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartTurnSpan creates the parent span for one Think→Act→Observe turn.
func StartTurnSpan(ctx context.Context, sessionID string, turnIndex int64, tier string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "agent.turn",
		trace.WithAttributes(
			attribute.String("moneyclaw.session", sessionID),
			attribute.Int64("moneyclaw.turn_index", turnIndex),
			attribute.String("moneyclaw.tier", tier),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartLLMCallSpan creates a child span for an inference call, following
// GenAI semantic conventions.
func StartLLMCallSpan(ctx context.Context, model, provider string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "gen_ai.chat",
		trace.WithAttributes(
			attribute.String("gen_ai.system", provider),
			attribute.String("gen_ai.request.model", model),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndLLMCallSpan enriches the LLM span with usage data.
func EndLLMCallSpan(span trace.Span, inputTokens, outputTokens int64, hasToolCalls bool) {
	span.SetAttributes(
		attribute.Int64("gen_ai.usage.input_tokens", inputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", outputTokens),
		attribute.Bool("moneyclaw.has_tool_calls", hasToolCalls),
	)
	span.End()
}

// StartToolCallSpan creates a child span for a tool execution inside a turn.
func StartToolCallSpan(ctx context.Context, tool, tier string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "agent.tool_call",
		trace.WithAttributes(
			attribute.String("moneyclaw.tool", tool),
			attribute.String("moneyclaw.tier", tier),
		),
	)
}

// EndToolCallSpan enriches the tool span with its result.
func EndToolCallSpan(span trace.Span, exitCode int, err error) {
	span.SetAttributes(attribute.Int("moneyclaw.exit_code", exitCode))
	if err != nil {
		span.SetAttributes(attribute.String("moneyclaw.error", err.Error()))
	}
	span.End()
}

// StartSpawnSpan creates a span for one replication spawn attempt.
func StartSpawnSpan(ctx context.Context, childName string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "agent.spawn",
		trace.WithAttributes(
			attribute.String("moneyclaw.child_name", childName),
		),
	)
}

// EndSpawnSpan enriches the spawn span with its terminal state.
func EndSpawnSpan(span trace.Span, status string) {
	span.SetAttributes(attribute.String("moneyclaw.child_status", status))
	span.End()
}
