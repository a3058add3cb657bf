// Package replicasim simulates the server side of the naming service: a set
// of reconfigurators answering resolution requests and a set of replicas
// executing commands against a shared field store.
//
// It is used by the client tests and by "nsclient sim". Every node runs on
// its own transport endpoint, so the same cluster can sit on a loopback
// network or on NATS.
package replicasim

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/middleware"
	"github.com/plaenen/nsclient/pkg/observability"
	"github.com/plaenen/nsclient/pkg/outcome"
	"github.com/plaenen/nsclient/pkg/signing"
	"github.com/plaenen/nsclient/pkg/transport"
	"github.com/plaenen/nsclient/pkg/wire"
)

// ErrStarted is returned when Start is called twice.
var ErrStarted = errors.New("cluster already started")

// Dialer opens a transport bound to address.
type Dialer func(ctx context.Context, address string) (transport.Transport, error)

// Config configures a Cluster.
type Config struct {
	// Reconfigurators answer resolution requests. They are the client's
	// bootstrap endpoints.
	Reconfigurators []string

	// Replicas execute commands.
	Replicas []string

	// Placement returns the replicas serving name. Nil places every name on
	// every replica.
	Placement func(name string) []string

	// SigningMode selects how signatures are verified.
	SigningMode signing.Mode

	// RequireSignatures rejects unsigned commands other than ReadUnsigned.
	RequireSignatures bool

	// Delay is added before every reply.
	Delay time.Duration

	// WireFormat is the envelope format of replies.
	WireFormat wire.Format

	Telemetry *observability.Telemetry
	Logger    *slog.Logger
}

// DefaultConfig returns a cluster of one reconfigurator and three replicas.
func DefaultConfig() Config {
	return Config{
		Reconfigurators: []string{"recon-1"},
		Replicas:        []string{"replica-1", "replica-2", "replica-3"},
	}
}

// Cluster is a running simulated service.
type Cluster struct {
	cfg      Config
	codec    *wire.Codec
	verifier *signing.Engine
	store    *store
	handler  middleware.Handler
	logger   *slog.Logger

	mu           sync.Mutex
	nodes        map[string]*node
	keys         map[string]crypto.PublicKey
	muted        map[string]bool
	unresolvable map[string]bool
	injected     map[string]outcome.Outcome
	queries      map[string]int
	duplicate    bool
	started      bool
}

// New creates a cluster. Start binds it to transports.
func New(cfg Config) *Cluster {
	defaults := DefaultConfig()
	if len(cfg.Reconfigurators) == 0 {
		cfg.Reconfigurators = defaults.Reconfigurators
	}
	if len(cfg.Replicas) == 0 {
		cfg.Replicas = defaults.Replicas
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = observability.Disabled()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	codec := wire.NewCodec(wire.WithFormat(cfg.WireFormat))
	c := &Cluster{
		cfg:          cfg,
		codec:        codec,
		verifier:     signing.NewEngine(codec, signing.WithMode(cfg.SigningMode), signing.WithLogger(cfg.Logger)),
		store:        newStore(),
		logger:       cfg.Logger.With("component", "replicasim"),
		nodes:        make(map[string]*node),
		keys:         make(map[string]crypto.PublicKey),
		muted:        make(map[string]bool),
		unresolvable: make(map[string]bool),
		injected:     make(map[string]outcome.Outcome),
		queries:      make(map[string]int),
	}
	c.handler = middleware.Chain(middleware.HandlerFunc(c.run),
		middleware.Tracing(cfg.Telemetry, "replicasim"),
		middleware.Recovery(c.logger),
		middleware.Logging(c.logger),
		middleware.Validation(),
		middleware.Authorization(middleware.AuthorizerFunc(c.authorize)),
	)
	return c
}

// Start binds every node to a transport opened by dial.
func (c *Cluster) Start(ctx context.Context, dial Dialer) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrStarted
	}
	c.started = true
	c.mu.Unlock()

	bind := func(address string, reconfigurator bool) error {
		tr, err := dial(ctx, address)
		if err != nil {
			return fmt.Errorf("dial %s: %w", address, err)
		}
		n := &node{cluster: c, address: address, reconfigurator: reconfigurator, tr: tr}
		if err := tr.Subscribe(n.handle); err != nil {
			tr.Close()
			return fmt.Errorf("subscribe %s: %w", address, err)
		}
		c.mu.Lock()
		c.nodes[address] = n
		c.mu.Unlock()
		return nil
	}

	for _, address := range c.cfg.Reconfigurators {
		if err := bind(address, true); err != nil {
			c.Close()
			return err
		}
	}
	for _, address := range c.cfg.Replicas {
		if err := bind(address, false); err != nil {
			c.Close()
			return err
		}
	}

	c.logger.Info("cluster started",
		"reconfigurators", len(c.cfg.Reconfigurators),
		"replicas", len(c.cfg.Replicas),
	)
	return nil
}

// Close shuts every node down.
func (c *Cluster) Close() error {
	c.mu.Lock()
	nodes := c.nodes
	c.nodes = make(map[string]*node)
	c.mu.Unlock()

	var errs []error
	for _, n := range nodes {
		if err := n.tr.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Bootstrap returns the reconfigurator endpoints.
func (c *Cluster) Bootstrap() []string {
	return append([]string(nil), c.cfg.Reconfigurators...)
}

// Seed creates or replaces a record.
func (c *Cluster) Seed(guid, name string, fields map[string]any) {
	c.store.seed(guid, name, fields)
}

// Value returns the stored value of field in record guid.
func (c *Cluster) Value(guid, field string) (any, bool) {
	return c.store.get(guid, field)
}

// RegisterKey makes signatures by guid verifiable.
func (c *Cluster) RegisterKey(guid string, pub crypto.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[guid] = pub
}

// Mute stops endpoint from answering anything.
func (c *Cluster) Mute(endpoint string, muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted[endpoint] = muted
}

// MuteAll silences every node.
func (c *Cluster) MuteAll(muted bool) {
	for _, ep := range append(c.Bootstrap(), c.cfg.Replicas...) {
		c.Mute(ep, muted)
	}
}

// SetUnresolvable makes resolution of name fail.
func (c *Cluster) SetUnresolvable(name string, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unresolvable[name] = failed
}

// Inject answers every command targeting service with code and detail
// instead of executing it.
func (c *Cluster) Inject(service string, code outcome.Code, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.injected[service] = outcome.Classify(code, detail)
}

// SetDuplicateResults makes replicas send every result twice.
func (c *Cluster) SetDuplicateResults(dup bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duplicate = dup
}

// ResolutionQueries returns how many resolution requests named service.
func (c *Cluster) ResolutionQueries(service string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries[service]
}

// Received returns how many commands endpoint has received.
func (c *Cluster) Received(endpoint string) int64 {
	c.mu.Lock()
	n := c.nodes[endpoint]
	c.mu.Unlock()
	if n == nil {
		return 0
	}
	return n.received.Load()
}

// TotalReceived returns how many commands all nodes received.
func (c *Cluster) TotalReceived() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, n := range c.nodes {
		total += n.received.Load()
	}
	return total
}

func (c *Cluster) placement(name string) []string {
	if c.cfg.Placement != nil {
		return c.cfg.Placement(name)
	}
	return append([]string(nil), c.cfg.Replicas...)
}

func (c *Cluster) isMuted(endpoint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted[endpoint]
}

type node struct {
	cluster        *Cluster
	address        string
	reconfigurator bool
	tr             transport.Transport
	received       atomic.Int64
}

func (n *node) handle(ctx context.Context, data []byte) {
	c := n.cluster
	msg, err := c.codec.Decode(data)
	if err != nil {
		c.logger.Warn("dropping undecodable message", "node", n.address, "error", err)
		return
	}
	if msg.ReplyTo == "" {
		c.logger.Warn("dropping message without reply address", "node", n.address, "kind", msg.Kind)
		return
	}

	switch msg.Kind {
	case wire.KindResolutionRequest:
		if !n.reconfigurator {
			return
		}
		n.resolve(ctx, msg)
	case wire.KindCommand:
		n.received.Add(1)
		n.execute(ctx, msg)
	default:
		c.logger.Debug("ignoring message", "node", n.address, "kind", msg.Kind)
	}
}

func (n *node) resolve(ctx context.Context, msg *wire.Message) {
	c := n.cluster
	c.mu.Lock()
	c.queries[msg.Service]++
	failed := c.unresolvable[msg.Service]
	c.mu.Unlock()

	if c.isMuted(n.address) {
		return
	}

	resp := &wire.Message{
		Kind:      wire.KindResolutionResponse,
		RequestID: msg.RequestID,
		ReplyTo:   n.address,
		Service:   msg.Service,
		Failed:    failed,
	}
	if !failed {
		resp.Endpoints = c.placement(msg.Service)
	}
	n.reply(ctx, msg.ReplyTo, resp, false)
}

func (n *node) execute(ctx context.Context, msg *wire.Message) {
	c := n.cluster
	if c.isMuted(n.address) {
		return
	}

	cmd := msg.Command
	out := c.handler.Handle(ctx, msg.RequestID, cmd)

	res := &wire.Message{
		Kind:      wire.KindCommandResult,
		RequestID: msg.RequestID,
		ReplyTo:   n.address,
		Responder: n.address,
		Code:      out.Code,
	}
	if out.OK() {
		res.Value = out.Value
	} else {
		res.Detail = out.Detail
	}

	c.mu.Lock()
	dup := c.duplicate
	c.mu.Unlock()

	n.reply(ctx, msg.ReplyTo, res, dup)
}

// run executes an authorized command, unless a failure was injected for its
// service.
func (c *Cluster) run(_ context.Context, _ command.RequestID, cmd *command.Command) outcome.Outcome {
	c.mu.Lock()
	injected, ok := c.injected[cmd.ServiceName()]
	c.mu.Unlock()
	if ok {
		return injected
	}
	return c.store.execute(cmd)
}

func (c *Cluster) authorize(_ context.Context, cmd *command.Command) (outcome.Outcome, bool) {
	if !cmd.Signed() {
		if c.cfg.RequireSignatures && cmd.Type != command.TypeReadUnsigned {
			return outcome.Failure(outcome.KindAccessDenied, outcome.CodeAccessDenied, "unsigned command"), false
		}
		return outcome.Outcome{}, true
	}

	var writer string
	if cmd.Identity != nil {
		writer = cmd.Identity.GUID
	}
	c.mu.Lock()
	pub, ok := c.keys[writer]
	c.mu.Unlock()
	if !ok {
		if c.cfg.RequireSignatures {
			return outcome.Failure(outcome.KindBadIdentity, outcome.CodeBadAccessor, writer), false
		}
		return outcome.Outcome{}, true
	}

	if err := c.verifier.Verify(cmd, pub); err != nil {
		c.logger.Warn("signature rejected", "writer", writer, "error", err)
		return outcome.Failure(outcome.KindSignatureInvalid, outcome.CodeSignatureError, "signature verification failed"), false
	}
	return outcome.Outcome{}, true
}

func (n *node) reply(ctx context.Context, to string, msg *wire.Message, twice bool) {
	c := n.cluster
	data, err := c.codec.Encode(msg)
	if err != nil {
		c.logger.Error("failed to encode reply", "node", n.address, "error", err)
		return
	}

	send := func() {
		if c.cfg.Delay > 0 {
			time.Sleep(c.cfg.Delay)
		}
		for i := 0; i < 1+btoi(twice); i++ {
			if err := n.tr.SendTo(context.WithoutCancel(ctx), to, data); err != nil {
				c.logger.Debug("reply not delivered", "node", n.address, "to", to, "error", err)
				return
			}
		}
	}
	if c.cfg.Delay > 0 {
		go send()
		return
	}
	send()
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
