// Package embeddednats runs an embedded NATS server as a runner.Service.
package embeddednats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/plaenen/nsclient/pkg/observability"
	"github.com/plaenen/nsclient/pkg/runner"
	natstransport "github.com/plaenen/nsclient/pkg/transport/nats"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Service wraps an embedded NATS server.
type Service struct {
	opts   natstransport.EmbeddedOptions
	server *natstransport.EmbeddedServer
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTracer sets the OpenTelemetry tracer for the service.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithServerOptions sets the listen address and authorization.
func WithServerOptions(o natstransport.EmbeddedOptions) Option {
	return func(s *Service) {
		s.opts = o
	}
}

// New creates the service. The server starts in Start.
func New(opts ...Option) *Service {
	s := &Service{
		logger: slog.Default(),
		tracer: noop.NewTracerProvider().Tracer("embeddednats"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "embeddednats")
	return s
}

func (s *Service) Name() string {
	return "embedded-nats"
}

// Start starts the server and waits until it accepts connections.
func (s *Service) Start(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "embeddednats.Start")
	defer span.End()

	srv, err := natstransport.StartEmbeddedServer(s.opts)
	if err != nil {
		observability.SetSpanError(ctx, err)
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	s.server = srv

	span.SetAttributes(attribute.String("nats.url", srv.URL()))
	s.logger.Info("embedded NATS server started", "url", srv.URL())
	return nil
}

// Stop shuts the server down. It is safe to call without Start.
func (s *Service) Stop(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "embeddednats.Stop")
	defer span.End()

	if s.server != nil {
		s.server.Shutdown()
		s.logger.Info("embedded NATS server stopped")
	}
	return nil
}

// HealthCheck connects to the server to verify it is responsive.
func (s *Service) HealthCheck(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "embeddednats.HealthCheck")
	defer span.End()

	if s.server == nil || !s.server.Running() {
		err := fmt.Errorf("nats server not running")
		observability.SetSpanError(ctx, err)
		return err
	}

	connOpts := []nats.Option{nats.Name("nsclient-healthcheck")}
	if s.opts.Authorization != "" {
		connOpts = append(connOpts, nats.Token(s.opts.Authorization))
	}
	nc, err := nats.Connect(s.server.URL(), connOpts...)
	if err != nil {
		observability.SetSpanError(ctx, err)
		return fmt.Errorf("nats server not responsive: %w", err)
	}
	nc.Close()

	span.SetAttributes(attribute.Bool("healthy", true))
	return nil
}

// URL returns the connection URL, or "" before Start.
func (s *Service) URL() string {
	if s.server == nil {
		return ""
	}
	return s.server.URL()
}

var (
	_ runner.Service       = (*Service)(nil)
	_ runner.HealthChecker = (*Service)(nil)
)
