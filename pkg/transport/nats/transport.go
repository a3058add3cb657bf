// Package nats carries client traffic over NATS core publish/subscribe.
//
// Each endpoint address maps to one subject under a common prefix, so a
// replica named "replica-1" listens on "<prefix>.replica-1" and a client
// listens on its own generated address. Trace context travels in message
// headers.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
	"github.com/plaenen/nsclient/pkg/observability"
	"github.com/plaenen/nsclient/pkg/security/credentials"
	"github.com/plaenen/nsclient/pkg/transport"
	"go.opentelemetry.io/otel/propagation"
)

// Config configures the NATS transport.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222")
	URL string

	// Name is the client name for connection identification
	Name string

	// Address is the local endpoint. Empty generates "client-<uuid>".
	Address string

	// SubjectPrefix namespaces every endpoint subject.
	SubjectPrefix string

	// CredentialProvider supplies authentication (optional)
	CredentialProvider credentials.Provider

	MaxReconnectAttempts int
	ReconnectWait        time.Duration

	// FlushTimeout bounds the flush after each send. Zero skips flushing.
	FlushTimeout time.Duration

	// Telemetry for observability (optional)
	Telemetry *observability.Telemetry

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		URL:                  nats.DefaultURL,
		Name:                 "nsclient",
		SubjectPrefix:        "nsclient.ep",
		MaxReconnectAttempts: 5,
		ReconnectWait:        2 * time.Second,
	}
}

// Transport implements transport.Transport over NATS.
type Transport struct {
	nc        *nats.Conn
	address   string
	prefix    string
	flush     time.Duration
	telemetry *observability.Telemetry
	logger    *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

var _ transport.Transport = (*Transport)(nil)

// NewTransport connects to NATS.
func NewTransport(ctx context.Context, config Config) (*Transport, error) {
	defaults := DefaultConfig()
	if config.URL == "" {
		config.URL = defaults.URL
	}
	if config.Name == "" {
		config.Name = defaults.Name
	}
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = defaults.SubjectPrefix
	}
	if config.Address == "" {
		config.Address = "client-" + uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("component", "transport.nats", "address", config.Address)

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(config.MaxReconnectAttempts),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	if config.CredentialProvider != nil {
		authOpt, err := authOption(ctx, config.CredentialProvider)
		if err != nil {
			return nil, err
		}
		if authOpt != nil {
			opts = append(opts, authOpt)
		}
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Transport{
		nc:        nc,
		address:   config.Address,
		prefix:    config.SubjectPrefix,
		flush:     config.FlushTimeout,
		telemetry: config.Telemetry,
		logger:    logger,
	}, nil
}

func authOption(ctx context.Context, provider credentials.Provider) (nats.Option, error) {
	creds, err := provider.GetCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	switch creds.Type {
	case credentials.CredentialTypeNone:
		return nil, nil
	case credentials.CredentialTypeToken:
		return nats.Token(creds.Token), nil
	case credentials.CredentialTypeUserPassword:
		return nats.UserInfo(creds.User, creds.Password), nil
	case credentials.CredentialTypeNKey:
		kp, err := nkeys.FromSeed([]byte(creds.Seed))
		if err != nil {
			return nil, fmt.Errorf("invalid nkey seed: %w", err)
		}
		pub, err := kp.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("invalid nkey seed: %w", err)
		}
		return nats.Nkey(pub, kp.Sign), nil
	default:
		return nil, fmt.Errorf("unsupported credential type: %s", creds.Type)
	}
}

// Subject returns the subject an endpoint listens on.
func (t *Transport) Subject(endpoint string) string {
	return Subject(t.prefix, endpoint)
}

// Subject maps an endpoint to its subject under prefix. Wildcard and space
// characters are replaced so an endpoint always names exactly one subject.
func Subject(prefix, endpoint string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, endpoint)
	return prefix + "." + clean
}

// Address returns the local endpoint.
func (t *Transport) Address() string {
	return t.address
}

// SendTo publishes data on the endpoint's subject.
func (t *Transport) SendTo(ctx context.Context, endpoint string, data []byte) error {
	if t.nc.IsClosed() {
		return transport.ErrClosed
	}

	msg := nats.NewMsg(t.Subject(endpoint))
	msg.Data = data
	msg.Header.Set("From", t.address)
	propagation.TraceContext{}.Inject(ctx, &natsHeaderCarrier{header: msg.Header})

	start := time.Now()
	err := t.nc.PublishMsg(msg)
	if err == nil && t.flush > 0 {
		err = t.nc.FlushTimeout(t.flush)
	}
	if t.telemetry != nil && t.telemetry.Metrics != nil {
		t.telemetry.Metrics.RecordTransportSend(ctx, endpoint, time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("publish to %s: %w", endpoint, err)
	}
	return nil
}

// Subscribe delivers messages addressed to this transport to h.
func (t *Transport) Subscribe(h transport.Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sub != nil {
		return transport.ErrAlreadySubscribed
	}
	sub, err := t.nc.Subscribe(t.Subject(t.address), func(msg *nats.Msg) {
		ctx := context.Background()
		if msg.Header != nil {
			ctx = propagation.TraceContext{}.Extract(ctx, &natsHeaderCarrier{header: msg.Header})
		}
		h(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if err := t.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("failed to flush subscription: %w", err)
	}
	t.sub = sub
	t.logger.Debug("subscribed", "subject", sub.Subject)
	return nil
}

// natsHeaderCarrier adapts NATS headers to propagation.TextMapCarrier
type natsHeaderCarrier struct {
	header nats.Header
}

func (c *natsHeaderCarrier) Get(key string) string {
	return c.header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, value string) {
	c.header.Set(key, value)
}

func (c *natsHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.header))
	for k := range c.header {
		keys = append(keys, k)
	}
	return keys
}

// Close drains the subscription and closes the connection
func (t *Transport) Close() error {
	if t.nc == nil || t.nc.IsClosed() {
		return nil
	}
	if err := t.nc.Drain(); err != nil {
		t.nc.Close()
		return err
	}
	return nil
}

// IsConnected returns true if connected to NATS
func (t *Transport) IsConnected() bool {
	return t.nc != nil && t.nc.IsConnected()
}

// ConnectedURL returns the URL of the connected NATS server
func (t *Transport) ConnectedURL() string {
	if t.nc != nil {
		return t.nc.ConnectedUrl()
	}
	return ""
}
