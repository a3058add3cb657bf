// Package simcluster runs a simulated naming service cluster on NATS as a
// runner.Service.
package simcluster

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/plaenen/nsclient/pkg/observability"
	"github.com/plaenen/nsclient/pkg/replicasim"
	"github.com/plaenen/nsclient/pkg/runner"
	"github.com/plaenen/nsclient/pkg/security/credentials"
	"github.com/plaenen/nsclient/pkg/transport"
	natstransport "github.com/plaenen/nsclient/pkg/transport/nats"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Seed is a record created when the cluster starts.
type Seed struct {
	GUID   string
	Name   string
	Fields map[string]any
}

// Service binds a replicasim.Cluster to a NATS server. The server URL is
// resolved at Start, so the service can follow an embedded server started
// by an earlier service.
type Service struct {
	cluster *replicasim.Cluster
	url     func() string
	prefix  string
	creds   credentials.Provider
	seeds   []Seed
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures the service.
type Option func(*Service)

// WithURL sets the NATS server URL.
func WithURL(url string) Option {
	return func(s *Service) {
		s.url = func() string { return url }
	}
}

// WithURLFunc resolves the NATS server URL when the service starts.
func WithURLFunc(url func() string) Option {
	return func(s *Service) {
		s.url = url
	}
}

// WithSubjectPrefix sets the subject prefix of every node.
func WithSubjectPrefix(prefix string) Option {
	return func(s *Service) {
		s.prefix = prefix
	}
}

// WithCredentials authenticates every node connection.
func WithCredentials(p credentials.Provider) Option {
	return func(s *Service) {
		s.creds = p
	}
}

// WithSeeds creates records when the cluster starts.
func WithSeeds(seeds ...Seed) Option {
	return func(s *Service) {
		s.seeds = append(s.seeds, seeds...)
	}
}

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

// New creates the service for cluster.
func New(cluster *replicasim.Cluster, opts ...Option) *Service {
	s := &Service{
		cluster: cluster,
		url:     func() string { return natstransport.DefaultConfig().URL },
		logger:  slog.Default(),
		tracer:  noop.NewTracerProvider().Tracer("simcluster"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "simcluster")
	return s
}

func (s *Service) Name() string {
	return "simcluster"
}

// Dialer returns the dialer that connects each node under its own endpoint
// name.
func (s *Service) Dialer() replicasim.Dialer {
	return func(ctx context.Context, address string) (transport.Transport, error) {
		cfg := natstransport.DefaultConfig()
		cfg.URL = s.url()
		cfg.Name = "nsclient-sim-" + address
		cfg.Address = address
		if s.prefix != "" {
			cfg.SubjectPrefix = s.prefix
		}
		cfg.CredentialProvider = s.creds
		cfg.Logger = s.logger
		return natstransport.NewTransport(ctx, cfg)
	}
}

// Start seeds the store and connects every node.
func (s *Service) Start(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "simcluster.Start")
	defer span.End()

	for _, seed := range s.seeds {
		s.cluster.Seed(seed.GUID, seed.Name, seed.Fields)
	}
	if err := s.cluster.Start(ctx, s.Dialer()); err != nil {
		observability.SetSpanError(ctx, err)
		return fmt.Errorf("failed to start simulated cluster: %w", err)
	}

	span.SetAttributes(attribute.StringSlice("bootstrap", s.cluster.Bootstrap()))
	s.logger.Info("simulated cluster started", "bootstrap", s.cluster.Bootstrap(), "seeds", len(s.seeds))
	return nil
}

// Stop disconnects every node.
func (s *Service) Stop(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "simcluster.Stop")
	defer span.End()
	return s.cluster.Close()
}

// Cluster returns the simulated cluster.
func (s *Service) Cluster() *replicasim.Cluster {
	return s.cluster
}

var _ runner.Service = (*Service)(nil)
