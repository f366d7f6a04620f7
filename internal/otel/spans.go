package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for coc spans.
var (
	AttrTaskID       = attribute.Key("coc.task.id")
	AttrTaskType     = attribute.Key("coc.task.type")
	AttrProcessID    = attribute.Key("coc.process.id")
	AttrWorkspaceID  = attribute.Key("coc.workspace.id")
	AttrModel        = attribute.Key("coc.llm.model")
	AttrTokensInput  = attribute.Key("coc.llm.tokens.input")
	AttrTokensOutput = attribute.Key("coc.llm.tokens.output")
	AttrRetryCount   = attribute.Key("coc.task.retry_count")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request (Gateway).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call (LLM API, MCP).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
