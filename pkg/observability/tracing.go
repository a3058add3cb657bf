package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOption configures a span
type SpanOption func(trace.Span)

// WithAttributes adds attributes to a span
func WithAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(span trace.Span) {
		span.SetAttributes(attrs...)
	}
}

// StartSpan starts a new span with the given name and options
// Returns the span and a context containing the span
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...SpanOption) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)

	for _, opt := range opts {
		opt(span)
	}

	return ctx, span
}

// EndSpan ends a span, optionally recording an error
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TraceID extracts the trace ID from context as a string
func TraceID(ctx context.Context) string {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// SetSpanAttributes adds attributes to the current span in the context
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// SetSpanError records an error on the current span in the context
func SetSpanError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddSpanEvent adds an event to the current span in the context
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys for client spans
var (
	// Command attributes
	AttrCommandType = attribute.Key("command.type")
	AttrRequestID   = attribute.Key("command.request_id")
	AttrService     = attribute.Key("command.service")

	// Routing attributes
	AttrEndpoint = attribute.Key("route.endpoint")
	AttrRouting  = attribute.Key("route.kind")

	// Outcome attributes
	AttrOutcomeKind = attribute.Key("outcome.kind")
	AttrOutcomeCode = attribute.Key("outcome.code")

	// Error attributes
	AttrErrorType = attribute.Key("error.type")
)

// CommandAttrs returns common command attributes
func CommandAttrs(commandType, requestID, service string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrCommandType.String(commandType),
	}
	if requestID != "" {
		attrs = append(attrs, AttrRequestID.String(requestID))
	}
	if service != "" {
		attrs = append(attrs, AttrService.String(service))
	}
	return attrs
}

// RouteAttrs returns routing attributes
func RouteAttrs(kind, endpoint string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRouting.String(kind),
		AttrEndpoint.String(endpoint),
	}
}

// OutcomeAttrs returns outcome attributes
func OutcomeAttrs(kind, code string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrOutcomeKind.String(kind),
	}
	if code != "" {
		attrs = append(attrs, AttrOutcomeCode.String(code))
	}
	return attrs
}

// ErrorAttrs returns common error attributes
func ErrorAttrs(err error) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrErrorType.String(fmt.Sprintf("%T", err)),
	}
}
