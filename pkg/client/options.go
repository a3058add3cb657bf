package client

import (
	"log/slog"
	"time"

	"github.com/plaenen/nsclient/pkg/observability"
	"github.com/plaenen/nsclient/pkg/signing"
	"github.com/plaenen/nsclient/pkg/wire"
)

const (
	// DefaultReadTimeout bounds SendAndWait.
	DefaultReadTimeout = 20 * time.Second

	// DefaultRetention is the GC retention window for unclaimed results and
	// unresolved queues.
	DefaultRetention = 60 * time.Second

	// DefaultRetryInterval spaces resolution queries for one name.
	DefaultRetryInterval = time.Second
)

type options struct {
	readTimeout           time.Duration
	signingMode           signing.Mode
	signer                *signing.Engine
	bootstrap             []string
	retryInterval         time.Duration
	retention             time.Duration
	proxy                 string
	forceCoordinatedReads bool
	telemetry             *observability.Telemetry
	journal               Journal
	wireFormat            wire.Format
	logger                *slog.Logger
}

func defaultOptions() options {
	return options{
		readTimeout:   DefaultReadTimeout,
		signingMode:   signing.ModeAsymmetric,
		retryInterval: DefaultRetryInterval,
		retention:     DefaultRetention,
	}
}

// Option configures a Client.
type Option func(*options)

// WithReadTimeout bounds synchronous waits. Zero waits forever.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.readTimeout = d
		}
	}
}

// WithSigningMode selects the signing scheme of the client's own engine.
func WithSigningMode(m signing.Mode) Option {
	return func(o *options) {
		o.signingMode = m
	}
}

// WithSigner shares an existing signing engine. It takes precedence over
// WithSigningMode.
func WithSigner(e *signing.Engine) Option {
	return func(o *options) {
		o.signer = e
	}
}

// WithBootstrap sets the reconfigurator endpoints used for resolution
// queries and anycast commands.
func WithBootstrap(endpoints ...string) Option {
	return func(o *options) {
		o.bootstrap = append([]string(nil), endpoints...)
	}
}

// WithRetryInterval sets the minimum spacing of resolution queries per name.
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryInterval = d
		}
	}
}

// WithRetention sets the garbage collection retention window.
func WithRetention(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retention = d
		}
	}
}

// WithProxy sends every non-anycast command to endpoint, bypassing
// resolution.
func WithProxy(endpoint string) Option {
	return func(o *options) {
		o.proxy = endpoint
	}
}

// WithForceCoordinatedReads marks every read as coordinated.
func WithForceCoordinatedReads(enabled bool) Option {
	return func(o *options) {
		o.forceCoordinatedReads = enabled
	}
}

// WithTelemetry sets the tracing and metrics stack.
func WithTelemetry(tel *observability.Telemetry) Option {
	return func(o *options) {
		o.telemetry = tel
	}
}

// WithJournal records stale responses.
func WithJournal(j Journal) Option {
	return func(o *options) {
		o.journal = j
	}
}

// WithWireFormat selects the envelope format of outgoing messages. Inbound
// messages are accepted in either format.
func WithWireFormat(f wire.Format) Option {
	return func(o *options) {
		o.wireFormat = f
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
