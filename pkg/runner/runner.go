// Package runner starts a list of services in order, waits for the context
// to end and stops them in reverse order.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultShutdownTimeout = 30 * time.Second
	DefaultStartupTimeout  = time.Minute
)

// ErrShutdownTimeout is returned when services fail to stop in time.
var ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

// Runner manages the lifecycle of multiple services.
type Runner struct {
	services        []Service
	logger          *slog.Logger
	shutdownTimeout time.Duration
	startupTimeout  time.Duration
	handleSignals   bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger for the runner.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithShutdownTimeout sets the timeout for graceful shutdown.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		r.shutdownTimeout = timeout
	}
}

// WithStartupTimeout sets the per-service startup timeout.
func WithStartupTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		r.startupTimeout = timeout
	}
}

// WithSignals makes Run also return on SIGINT or SIGTERM.
func WithSignals() Option {
	return func(r *Runner) {
		r.handleSignals = true
	}
}

// New creates a Runner for services.
func New(services []Service, opts ...Option) *Runner {
	r := &Runner{
		services:        services,
		logger:          slog.Default(),
		shutdownTimeout: DefaultShutdownTimeout,
		startupTimeout:  DefaultStartupTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "runner")
	return r
}

// Run starts all services in registration order and blocks until ctx is
// done. A failed start stops the services already running. On shutdown
// services are stopped in reverse order.
func (r *Runner) Run(ctx context.Context) error {
	if r.handleSignals {
		var stop context.CancelFunc
		ctx, stop = SignalContext(ctx)
		defer stop()
	}

	r.logger.Info("starting services", "count", len(r.services))
	started := make([]Service, 0, len(r.services))

	for _, svc := range r.services {
		startCtx, cancel := context.WithTimeout(ctx, r.startupTimeout)
		err := svc.Start(startCtx)
		cancel()

		if err != nil {
			r.logger.Error("failed to start service", "service", svc.Name(), "error", err)
			return errors.Join(fmt.Errorf("start service %s: %w", svc.Name(), err), r.stop(started))
		}

		started = append(started, svc)
		r.logger.Info("service started", "service", svc.Name())
	}

	<-ctx.Done()
	r.logger.Info("shutting down services", "timeout", r.shutdownTimeout)
	return r.stop(started)
}

// stop stops services in reverse order. Order matters here: the client must
// drain before the transport under it goes away.
func (r *Runner) stop(services []Service) error {
	if len(services) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", svc.Name(), ErrShutdownTimeout))
			continue
		}
		if err := svc.Stop(ctx); err != nil {
			r.logger.Error("error stopping service", "service", svc.Name(), "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", svc.Name(), err))
			continue
		}
		r.logger.Info("service stopped", "service", svc.Name())
	}
	return errors.Join(errs...)
}

// HealthCheck checks every service that implements HealthChecker.
func (r *Runner) HealthCheck(ctx context.Context) error {
	for _, svc := range r.services {
		if hc, ok := svc.(HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				return fmt.Errorf("service %s unhealthy: %w", svc.Name(), err)
			}
		}
	}
	return nil
}
