package observability

import (
	"context"
	"time"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/outcome"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DispatchMiddleware provides observability for synchronous command round trips
type DispatchMiddleware struct {
	tel *Telemetry
}

// NewDispatchMiddleware creates a new dispatch middleware
func NewDispatchMiddleware(tel *Telemetry) *DispatchMiddleware {
	return &DispatchMiddleware{tel: tel}
}

// WrapRoundTrip wraps a send-and-wait with a client span and outcome metrics
func (m *DispatchMiddleware) WrapRoundTrip(ctx context.Context, cmd *command.Command, operation func(context.Context) (outcome.Outcome, error)) (outcome.Outcome, error) {
	tracer := m.tel.Tracer(TracerName)
	cmdType := string(cmd.Type)

	ctx, span := tracer.Start(ctx, "nsclient."+cmdType,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(CommandAttrs(cmdType, "", cmd.ServiceName())...),
	)
	defer span.End()

	start := time.Now()
	out, err := operation(ctx)
	duration := time.Since(start)

	if m.tel.Metrics != nil && err == nil {
		if out.TimedOut() {
			m.tel.Metrics.RecordTimeout(ctx, cmdType)
		}
		m.tel.Metrics.RecordOutcome(ctx, cmdType, out.Kind.String(), duration, false)
	}

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(ErrorAttrs(err)...)
	case !out.OK():
		span.SetAttributes(OutcomeAttrs(out.Kind.String(), string(out.Code))...)
		span.SetStatus(codes.Error, out.String())
	default:
		span.SetAttributes(OutcomeAttrs(out.Kind.String(), "")...)
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(attribute.Float64("duration_ms", float64(duration.Milliseconds())))

	return out, err
}

// HandlerMiddleware provides observability for inbound command handling on
// the replica side
type HandlerMiddleware struct {
	tel  *Telemetry
	name string
}

// NewHandlerMiddleware creates a new handler middleware
func NewHandlerMiddleware(tel *Telemetry, name string) *HandlerMiddleware {
	return &HandlerMiddleware{tel: tel, name: name}
}

// WrapHandle wraps the execution of one inbound command
func (m *HandlerMiddleware) WrapHandle(ctx context.Context, id command.RequestID, cmd *command.Command, operation func(context.Context) outcome.Outcome) outcome.Outcome {
	tracer := m.tel.Tracer(TracerName)
	cmdType := string(cmd.Type)

	ctx, span := tracer.Start(ctx, m.name+"."+cmdType,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(CommandAttrs(cmdType, id.String(), cmd.ServiceName())...),
	)
	defer span.End()

	out := operation(ctx)

	span.SetAttributes(OutcomeAttrs(out.Kind.String(), string(out.Code))...)
	if out.OK() {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, out.String())
	}
	return out
}
