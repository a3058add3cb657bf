package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments of the client
type Metrics struct {
	// Command metrics
	CommandsSent    metric.Int64Counter
	CommandLatency  metric.Float64Histogram
	CommandOutcomes metric.Int64Counter
	CommandTimeouts metric.Int64Counter

	// Correlation metrics
	StaleResults     metric.Int64Counter
	AsyncErrors      metric.Int64Counter
	GarbageCollected metric.Int64Counter

	// Resolution metrics
	ResolutionQueries   metric.Int64Counter
	ResolutionResponses metric.Int64Counter
	QueuedCommands      metric.Int64Counter

	// Signing metrics
	SigningDuration metric.Float64Histogram
	SigningFailures metric.Int64Counter

	// Transport metrics
	TransportLatency metric.Float64Histogram
	TransportErrors  metric.Int64Counter
}

// NewMetrics creates all metric instruments
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CommandsSent, err = meter.Int64Counter(
		"nsclient.command.sent",
		metric.WithDescription("Total commands sent"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.sent: %w", err)
	}

	m.CommandLatency, err = meter.Float64Histogram(
		"nsclient.command.latency",
		metric.WithDescription("Time from send to result in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.latency: %w", err)
	}

	m.CommandOutcomes, err = meter.Int64Counter(
		"nsclient.command.outcomes",
		metric.WithDescription("Completed commands by outcome kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.outcomes: %w", err)
	}

	m.CommandTimeouts, err = meter.Int64Counter(
		"nsclient.command.timeouts",
		metric.WithDescription("Synchronous commands that timed out"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.timeouts: %w", err)
	}

	m.StaleResults, err = meter.Int64Counter(
		"nsclient.correlation.stale",
		metric.WithDescription("Results dropped because nobody was waiting"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating correlation.stale: %w", err)
	}

	m.AsyncErrors, err = meter.Int64Counter(
		"nsclient.correlation.async_errors",
		metric.WithDescription("Asynchronous commands completed with a failure outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating correlation.async_errors: %w", err)
	}

	m.GarbageCollected, err = meter.Int64Counter(
		"nsclient.correlation.gc",
		metric.WithDescription("Entries removed by the garbage collector"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating correlation.gc: %w", err)
	}

	m.ResolutionQueries, err = meter.Int64Counter(
		"nsclient.resolution.queries",
		metric.WithDescription("Resolution requests sent to bootstrap endpoints"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resolution.queries: %w", err)
	}

	m.ResolutionResponses, err = meter.Int64Counter(
		"nsclient.resolution.responses",
		metric.WithDescription("Resolution responses received"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resolution.responses: %w", err)
	}

	m.QueuedCommands, err = meter.Int64Counter(
		"nsclient.resolution.queued",
		metric.WithDescription("Commands queued behind an unresolved name"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resolution.queued: %w", err)
	}

	m.SigningDuration, err = meter.Float64Histogram(
		"nsclient.signing.duration",
		metric.WithDescription("Command signing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating signing.duration: %w", err)
	}

	m.SigningFailures, err = meter.Int64Counter(
		"nsclient.signing.failures",
		metric.WithDescription("Commands that could not be signed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating signing.failures: %w", err)
	}

	m.TransportLatency, err = meter.Float64Histogram(
		"nsclient.transport.send.latency",
		metric.WithDescription("Transport send latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating transport.send.latency: %w", err)
	}

	m.TransportErrors, err = meter.Int64Counter(
		"nsclient.transport.errors",
		metric.WithDescription("Failed transport sends"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating transport.errors: %w", err)
	}

	return m, nil
}

// RecordSend records a command handed to the transport
func (m *Metrics) RecordSend(ctx context.Context, commandType string, queued bool) {
	attrs := []attribute.KeyValue{
		attribute.String("command_type", commandType),
	}
	m.CommandsSent.Add(ctx, 1, metric.WithAttributes(attrs...))
	if queued {
		m.QueuedCommands.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordOutcome records a completed command
func (m *Metrics) RecordOutcome(ctx context.Context, commandType, kind string, latency time.Duration, async bool) {
	attrs := []attribute.KeyValue{
		attribute.String("command_type", commandType),
		attribute.String("outcome", kind),
		attribute.Bool("async", async),
	}
	m.CommandOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
	if latency > 0 {
		m.CommandLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs[0]))
	}
}

// RecordTimeout records a synchronous wait that gave up
func (m *Metrics) RecordTimeout(ctx context.Context, commandType string) {
	m.CommandTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("command_type", commandType)))
}

// RecordStale records a dropped result
func (m *Metrics) RecordStale(ctx context.Context, reason string) {
	m.StaleResults.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordAsyncError records an asynchronous failure outcome
func (m *Metrics) RecordAsyncError(ctx context.Context, code string) {
	m.AsyncErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// RecordGC records entries removed by one collection pass
func (m *Metrics) RecordGC(ctx context.Context, table string, count int) {
	if count == 0 {
		return
	}
	m.GarbageCollected.Add(ctx, int64(count), metric.WithAttributes(attribute.String("table", table)))
}

// RecordResolutionQuery records a resolution request
func (m *Metrics) RecordResolutionQuery(ctx context.Context, endpoint string, err error) {
	m.ResolutionQueries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.Bool("success", err == nil),
	))
}

// RecordResolutionResponse records a resolution answer and how many queued
// commands it released
func (m *Metrics) RecordResolutionResponse(ctx context.Context, failed bool, drained int) {
	m.ResolutionResponses.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("failed", failed),
		attribute.Int("drained", drained),
	))
}

// RecordSigning records a signing attempt
func (m *Metrics) RecordSigning(ctx context.Context, mode string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("mode", mode),
	}
	m.SigningDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if err != nil {
		m.SigningFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordTransportSend records one transport send
func (m *Metrics) RecordTransportSend(ctx context.Context, endpoint string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("endpoint", endpoint),
	}
	m.TransportLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if err != nil {
		m.TransportErrors.Add(ctx, 1, metric.WithAttributes(
			append(attrs, attribute.String("error_type", fmt.Sprintf("%T", err)))...,
		))
	}
}
