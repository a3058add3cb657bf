// Package observability wires OpenTelemetry tracing and metrics for the
// client. Without a span exporter or metric reader every recording call is a
// no-op.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// MeterName and TracerName name the client's instrumentation scope.
const (
	MeterName  = "nsclient"
	TracerName = "nsclient"
)

// Resource attribute keys describing a client process.
const (
	ResourceClientAddress = attribute.Key("nsclient.client.address")
	ResourceSigningMode   = attribute.Key("nsclient.signing.mode")
	ResourceBootstrap     = attribute.Key("nsclient.bootstrap.count")
	ResourceWireFormat    = attribute.Key("nsclient.wire.format")
)

// Config configures telemetry for one process.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// ClientAddress, SigningMode, WireFormat and BootstrapCount describe the
	// client and are attached to every span and metric. Empty values are
	// omitted.
	ClientAddress  string
	SigningMode    string
	WireFormat     string
	BootstrapCount int

	// TraceExporter receives sampled spans. Nil disables tracing.
	TraceExporter   sdktrace.SpanExporter
	TraceSampleRate float64

	// MetricReader collects client metrics. Nil keeps the instruments but
	// nothing reads them.
	MetricReader sdkmetric.Reader

	Logger *slog.Logger
}

// Telemetry holds the providers and client instruments.
type Telemetry struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Metrics        *Metrics
	Logger         *slog.Logger
	Resource       *resource.Resource

	shutdowns []func(context.Context) error
}

// Init builds the providers described by cfg and installs them, together with
// W3C trace context propagation, as the otel globals.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	res, err := resource.New(ctx, resource.WithAttributes(resourceAttrs(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	tel := &Telemetry{Logger: cfg.Logger, Resource: res}

	if cfg.TraceExporter != nil {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(cfg.TraceExporter),
			sdktrace.WithSampler(sampler(cfg.TraceSampleRate)),
		)
		tel.TracerProvider = tp
		tel.shutdowns = append(tel.shutdowns, tp.Shutdown)
		otel.SetTracerProvider(tp)
	} else {
		tel.TracerProvider = noop.NewTracerProvider()
	}

	mopts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.MetricReader != nil {
		mopts = append(mopts, sdkmetric.WithReader(cfg.MetricReader))
	}
	mp := sdkmetric.NewMeterProvider(mopts...)
	tel.MeterProvider = mp
	tel.Metrics, err = NewMetrics(mp.Meter(MeterName))
	if err != nil {
		return nil, err
	}
	if cfg.MetricReader != nil {
		tel.shutdowns = append(tel.shutdowns, mp.Shutdown)
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cfg.Logger.Info("telemetry initialized",
		"service", cfg.ServiceName,
		"tracing", cfg.TraceExporter != nil,
		"metrics", cfg.MetricReader != nil,
		"signing_mode", cfg.SigningMode,
	)
	return tel, nil
}

func resourceAttrs(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	}
	if cfg.ClientAddress != "" {
		attrs = append(attrs, ResourceClientAddress.String(cfg.ClientAddress))
	}
	if cfg.SigningMode != "" {
		attrs = append(attrs, ResourceSigningMode.String(cfg.SigningMode))
	}
	if cfg.WireFormat != "" {
		attrs = append(attrs, ResourceWireFormat.String(cfg.WireFormat))
	}
	if cfg.BootstrapCount > 0 {
		attrs = append(attrs, ResourceBootstrap.Int(cfg.BootstrapCount))
	}
	return attrs
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		return sdktrace.NeverSample()
	case rate >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Shutdown flushes and stops the providers created by Init.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if len(t.shutdowns) == 0 {
		return nil
	}
	t.Logger.Info("shutting down telemetry")
	var errs []error
	for _, fn := range t.shutdowns {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// Disabled returns telemetry that records nothing.
func Disabled() *Telemetry {
	mp := sdkmetric.NewMeterProvider()
	metrics, _ := NewMetrics(mp.Meter(MeterName))
	return &Telemetry{
		TracerProvider: noop.NewTracerProvider(),
		MeterProvider:  mp,
		Metrics:        metrics,
		Logger:         slog.Default(),
		Resource:       resource.Empty(),
	}
}

// Tracer returns a tracer from the configured provider.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	return t.TracerProvider.Tracer(name)
}

// Meter returns a meter from the configured provider.
func (t *Telemetry) Meter(name string) metric.Meter {
	return t.MeterProvider.Meter(name)
}
