package runner

import "context"

// Service is a component with a start/stop lifecycle managed by the Runner.
type Service interface {
	// Name identifies the service in logs and errors.
	Name() string

	// Start brings the service up. It blocks until the service is ready and
	// must respect ctx.
	Start(ctx context.Context) error

	// Stop shuts the service down within the deadline of ctx.
	Stop(ctx context.Context) error
}

// HealthChecker is implemented by services that can report their health.
type HealthChecker interface {
	Service

	HealthCheck(ctx context.Context) error
}

// Func adapts a pair of functions to a Service. A nil stop is a no-op.
type Func struct {
	ServiceName string
	OnStart     func(ctx context.Context) error
	OnStop      func(ctx context.Context) error
	OnHealth    func(ctx context.Context) error
}

func (f *Func) Name() string { return f.ServiceName }

func (f *Func) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f *Func) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}

// HealthCheck returns nil when no health function is set.
func (f *Func) HealthCheck(ctx context.Context) error {
	if f.OnHealth == nil {
		return nil
	}
	return f.OnHealth(ctx)
}
