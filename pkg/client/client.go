// Package client dispatches commands to the naming service and correlates
// the results that come back.
//
// A command moves through Created, Signed, Resolving or EndpointKnown, Sent
// and finally Completed or TimedOut. Signing happens only when the command
// carries an identity with a private key. Anycast commands go to a random
// bootstrap endpoint; everything else goes to a replica of the command's
// service name, resolved and cached by the resolver. Results are matched to
// callers through the correlation table, either by a blocking SendAndWait,
// a callback passed to SendAsync, or by polling IsComplete and TakeResult.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/correlation"
	"github.com/plaenen/nsclient/pkg/idgen"
	"github.com/plaenen/nsclient/pkg/journal"
	"github.com/plaenen/nsclient/pkg/observability"
	"github.com/plaenen/nsclient/pkg/outcome"
	"github.com/plaenen/nsclient/pkg/resolver"
	"github.com/plaenen/nsclient/pkg/signing"
	"github.com/plaenen/nsclient/pkg/transport"
	"github.com/plaenen/nsclient/pkg/wire"
)

const (
	journalQueueSize    = 256
	journalWriteTimeout = 5 * time.Second
)

var (
	// ErrTransport wraps I/O failures of the underlying transport.
	ErrTransport = errors.New("transport failure")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client closed")

	// ErrNoRoute is returned when a command needs a bootstrap endpoint and
	// none is configured.
	ErrNoRoute = errors.New("no route for command")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("client already started")
)

// Callback receives the outcome of an asynchronous command. It runs on the
// transport's delivery goroutine and must not block.
type Callback func(id command.RequestID, out outcome.Outcome)

// Journal records responses nobody was waiting for.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Client is safe for concurrent use.
type Client struct {
	tr       transport.Transport
	codec    *wire.Codec
	signer   *signing.Engine
	table    *correlation.Table
	resolver *resolver.Resolver
	dispatch *observability.DispatchMiddleware
	tel      *observability.Telemetry
	opts     options
	logger   *slog.Logger

	counter atomic.Uint64
	stats   stats

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool

	journalq    chan journal.Entry
	journalDone chan struct{}
	journalWG   sync.WaitGroup
}

// New creates a client on tr and subscribes to its inbound traffic. The
// client owns tr and closes it on Close.
func New(tr transport.Transport, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.telemetry == nil {
		o.telemetry = observability.Disabled()
	}

	codec := wire.NewCodec(wire.WithFormat(o.wireFormat))
	c := &Client{
		tr:       tr,
		codec:    codec,
		dispatch: observability.NewDispatchMiddleware(o.telemetry),
		tel:      o.telemetry,
		opts:     o,
		logger:   o.logger.With("component", "client", "address", tr.Address()),
	}

	c.signer = o.signer
	if c.signer == nil {
		c.signer = signing.NewEngine(codec, signing.WithMode(o.signingMode), signing.WithLogger(o.logger))
	}
	c.table = correlation.NewTable(
		correlation.WithRetention(o.retention),
		correlation.WithStaleHandler(c.onStale),
		correlation.WithLogger(o.logger),
	)
	c.resolver = resolver.New(resolver.Config{
		Bootstrap:     o.bootstrap,
		RetryInterval: o.retryInterval,
		Retention:     o.retention,
		Query:         c.sendResolutionRequest,
		Logger:        o.logger,
	})

	if o.journal != nil {
		c.journalq = make(chan journal.Entry, journalQueueSize)
		c.journalDone = make(chan struct{})
	}
	if err := tr.Subscribe(c.handleInbound); err != nil {
		return nil, fmt.Errorf("%w: subscribe: %w", ErrTransport, err)
	}
	if c.journalq != nil {
		c.journalWG.Add(1)
		go func() {
			defer c.journalWG.Done()
			c.writeJournal()
		}()
	}
	return c, nil
}

// Address returns the endpoint results are sent back to.
func (c *Client) Address() string {
	return c.tr.Address()
}

// SendAndWait sends cmd and blocks until its result arrives, the read
// timeout elapses or ctx is done. A timeout is reported as a timeout
// outcome, not an error. Errors are reserved for failures to send and for
// ctx cancellation.
func (c *Client) SendAndWait(ctx context.Context, cmd *command.Command) (outcome.Outcome, error) {
	return c.dispatch.WrapRoundTrip(ctx, cmd, func(ctx context.Context) (outcome.Outcome, error) {
		id, err := c.send(ctx, cmd, nil)
		if err != nil {
			return outcome.Outcome{}, err
		}

		res, err := c.table.Await(ctx, id, c.opts.readTimeout)
		switch {
		case errors.Is(err, correlation.ErrTimeout):
			c.stats.timeouts.Add(1)
			c.logger.Debug("command timed out", "request_id", id, "command", cmd.Summary(), "trace_id", observability.TraceID(ctx))
			return outcome.Timeout("for command " + cmd.Summary()), nil
		case err != nil:
			return outcome.Outcome{}, err
		}
		return res.Outcome(), nil
	})
}

// SendAsync sends cmd and returns immediately. A non-nil cb receives the
// outcome; with a nil cb the result is kept for IsComplete and TakeResult
// until the retention window passes.
func (c *Client) SendAsync(ctx context.Context, cmd *command.Command, cb Callback) (command.RequestID, error) {
	var wrapped correlation.Callback
	if cb != nil {
		cmdType := string(cmd.Type)
		wrapped = func(id command.RequestID, res *outcome.Result) {
			out := res.Outcome()
			c.observeAsync(cmdType, out, res.Latency)
			cb(id, out)
		}
	}
	return c.send(ctx, cmd, wrapped)
}

// IsComplete reports whether the result of a polled SendAsync has arrived.
func (c *Client) IsComplete(id command.RequestID) bool {
	return c.table.IsComplete(id)
}

// TakeResult removes and returns the outcome of a polled SendAsync.
func (c *Client) TakeResult(id command.RequestID) (outcome.Outcome, bool) {
	cmd, _ := c.table.Command(id)
	res, ok := c.table.Take(id)
	if !ok {
		return outcome.Outcome{}, false
	}
	out := res.Outcome()
	cmdType := ""
	if cmd != nil {
		cmdType = string(cmd.Type)
	}
	c.observeAsync(cmdType, out, res.Latency)
	return out, true
}

func (c *Client) observeAsync(cmdType string, out outcome.Outcome, latency time.Duration) {
	ctx := context.Background()
	if !out.OK() {
		c.stats.asyncErrors.Add(1)
		c.tel.Metrics.RecordAsyncError(ctx, string(out.Code))
	}
	c.tel.Metrics.RecordOutcome(ctx, cmdType, out.Kind.String(), latency, true)
}

// send runs the shared send path: prepare, sign, register, route, transmit.
func (c *Client) send(ctx context.Context, cmd *command.Command, cb correlation.Callback) (command.RequestID, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	if cmd == nil {
		return 0, errors.New("nil command")
	}

	cmd, err := c.prepare(ctx, cmd)
	if err != nil {
		return 0, err
	}

	id, err := c.register(cmd, cb)
	if err != nil {
		return 0, err
	}

	endpoint, routed, err := c.route(ctx, id, cmd)
	if err != nil {
		c.table.Remove(id)
		return 0, err
	}
	if !routed {
		// Queued behind resolution; the drain sends it.
		c.tel.Metrics.RecordSend(ctx, string(cmd.Type), true)
		return id, nil
	}

	if err := c.transmit(ctx, id, cmd, endpoint); err != nil {
		c.table.Remove(id)
		return 0, err
	}
	return id, nil
}

func (c *Client) prepare(ctx context.Context, cmd *command.Command) (*command.Command, error) {
	if c.opts.forceCoordinatedReads && cmd.IsRead() && !cmd.CoordinateReads && !cmd.Signed() {
		cmd = cmd.Clone()
		cmd.CoordinateReads = true
	}
	if cmd.Signed() || cmd.Identity == nil || !cmd.Identity.CanSign() {
		return cmd, nil
	}

	start := time.Now()
	signed, err := c.signer.Sign(cmd, cmd.Identity)
	c.tel.Metrics.RecordSigning(ctx, c.signer.Mode().String(), time.Since(start), err)
	if err != nil {
		c.logger.Error("failed to sign command", "command", cmd.Summary(), "error", err)
		return nil, err
	}
	return signed, nil
}

// register draws a request id that is not outstanding. The low bits carry a
// per-client counter so recently completed ids are not reused immediately.
func (c *Client) register(cmd *command.Command, cb correlation.Callback) (command.RequestID, error) {
	for {
		id := command.RequestID(idgen.RandomUint64()&^0xffff | c.counter.Add(1)&0xffff)
		err := c.table.Register(id, cmd, cb)
		if errors.Is(err, correlation.ErrDuplicateID) {
			continue
		}
		return id, err
	}
}

// route picks the endpoint for cmd. It returns routed=false when cmd was
// queued behind an outstanding resolution.
func (c *Client) route(ctx context.Context, id command.RequestID, cmd *command.Command) (string, bool, error) {
	if cmd.Anycast() {
		ep := c.resolver.RandomBootstrap()
		if ep == "" {
			return "", false, fmt.Errorf("%w: anycast %s needs a bootstrap endpoint", ErrNoRoute, cmd.Type)
		}
		return ep, true, nil
	}
	if c.opts.proxy != "" {
		return c.opts.proxy, true, nil
	}

	name := cmd.ServiceName()
	if name == "" {
		return "", false, command.ErrNoService
	}
	if set := c.resolver.Lookup(name); set != nil {
		return set.Pick(id), true, nil
	}
	if c.resolver.RandomBootstrap() == "" {
		return "", false, fmt.Errorf("%w: cannot resolve %s", ErrNoRoute, name)
	}

	if _, err := c.resolver.Enqueue(name, resolver.Queued{ID: id, Command: cmd}); err != nil {
		return "", false, err
	}
	// The set may have landed between the lookup and the enqueue.
	if set := c.resolver.Lookup(name); set != nil {
		c.sendDrained(ctx, c.resolver.OnResolutionResponse(name, set.Endpoints, false))
		return "", false, nil
	}
	if _, err := c.resolver.MaybeQuery(ctx, name); err != nil {
		// The GC loop retries pending names.
		c.logger.Warn("resolution query failed", "service", name, "error", err)
	}
	return "", false, nil
}

func (c *Client) transmit(ctx context.Context, id command.RequestID, cmd *command.Command, endpoint string) error {
	data, err := c.codec.Encode(&wire.Message{
		Kind:      wire.KindCommand,
		RequestID: id,
		ReplyTo:   c.tr.Address(),
		Command:   cmd,
	})
	if err != nil {
		return err
	}
	if err := c.tr.SendTo(ctx, endpoint, data); err != nil {
		return fmt.Errorf("%w: send to %s: %w", ErrTransport, endpoint, err)
	}
	c.stats.sent.Add(1)
	c.tel.Metrics.RecordSend(ctx, string(cmd.Type), false)
	observability.AddSpanEvent(ctx, "command.sent", append(observability.RouteAttrs(routeKind(cmd, c.opts.proxy), endpoint), observability.AttrRequestID.String(id.String()))...)
	c.logger.Debug("command sent", "request_id", id, "endpoint", endpoint, "command", cmd.Type)
	return nil
}

func routeKind(cmd *command.Command, proxy string) string {
	switch {
	case cmd.Anycast():
		return "anycast"
	case proxy != "":
		return "proxy"
	default:
		return "replica"
	}
}

func (c *Client) sendResolutionRequest(ctx context.Context, endpoint, service string) (err error) {
	ctx, span := observability.StartSpan(ctx, c.tel.Tracer(observability.TracerName), "nsclient.resolve",
		observability.WithAttributes(append(observability.RouteAttrs("bootstrap", endpoint), observability.AttrService.String(service))...),
	)
	defer func() { observability.EndSpan(span, err) }()

	data, err := c.codec.Encode(&wire.Message{
		Kind:      wire.KindResolutionRequest,
		RequestID: command.RequestID(idgen.RandomUint64()),
		ReplyTo:   c.tr.Address(),
		Service:   service,
	})
	if err == nil {
		err = c.tr.SendTo(ctx, endpoint, data)
	}
	c.tel.Metrics.RecordResolutionQuery(ctx, endpoint, err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// sendDrained transmits commands released by a resolution. A command that
// cannot be sent is completed with a failure so its caller is not left
// waiting for the read timeout.
func (c *Client) sendDrained(ctx context.Context, dispatches []resolver.Dispatch) {
	for _, d := range dispatches {
		if err := c.transmit(ctx, d.ID, d.Command, d.Endpoint); err != nil {
			observability.SetSpanError(ctx, err)
			c.logger.Warn("failed to send queued command", "request_id", d.ID, "endpoint", d.Endpoint, "error", err)
			c.table.Complete(d.ID, &outcome.Result{
				RequestID:  uint64(d.ID),
				Code:       outcome.CodeGenericError,
				Detail:     err.Error(),
				ReceivedAt: time.Now(),
			})
		}
	}
}

// handleInbound demultiplexes traffic addressed to the client. It never
// blocks on a caller.
func (c *Client) handleInbound(ctx context.Context, data []byte) {
	msg, err := c.codec.Decode(data)
	if err != nil {
		c.logger.Warn("dropping undecodable message", "error", err)
		return
	}

	switch msg.Kind {
	case wire.KindCommandResult:
		c.onResult(msg)
	case wire.KindResolutionResponse:
		dispatches := c.resolver.OnResolutionResponse(msg.Service, msg.Endpoints, msg.Failed)
		c.tel.Metrics.RecordResolutionResponse(ctx, msg.Failed || len(msg.Endpoints) == 0, len(dispatches))
		c.sendDrained(context.WithoutCancel(ctx), dispatches)
	default:
		c.logger.Debug("ignoring message", "kind", msg.Kind)
	}
}

func (c *Client) onResult(msg *wire.Message) {
	now := time.Now()
	res := &outcome.Result{
		RequestID:  uint64(msg.RequestID),
		Responder:  msg.Responder,
		Code:       msg.Code,
		Value:      msg.Value,
		Detail:     msg.Detail,
		ReceivedAt: now,
	}
	if submitted, ok := c.table.SubmittedAt(msg.RequestID); ok {
		res.Latency = now.Sub(submitted)
	}
	if c.table.Complete(msg.RequestID, res) {
		c.stats.completed.Add(1)
		c.stats.observeLatency(res.Latency)
	}
}

// onStale runs on the inbound goroutine. Journal writes are queued for
// writeJournal and dropped when the queue is full.
func (c *Client) onStale(id command.RequestID, cmd *command.Command, res *outcome.Result, reason correlation.StaleReason) {
	c.stats.stale.Add(1)
	c.tel.Metrics.RecordStale(context.Background(), string(reason))
	c.logger.Info("stale response", "request_id", id, "reason", reason, "responder", res.Responder, "code", res.Code)

	if c.journalq == nil {
		return
	}
	e := journal.Entry{
		RequestID:  id.String(),
		Responder:  res.Responder,
		Code:       string(res.Code),
		Detail:     res.Detail,
		Reason:     string(reason),
		ReceivedAt: res.ReceivedAt,
	}
	if cmd != nil {
		e.CommandType = string(cmd.Type)
	}
	select {
	case c.journalq <- e:
	default:
		c.logger.Warn("journal queue full, dropping stale response", "request_id", id)
	}
}

// writeJournal records queued stale responses until Close, then drains what
// is left.
func (c *Client) writeJournal() {
	for {
		select {
		case e := <-c.journalq:
			c.record(e)
		case <-c.journalDone:
			for {
				select {
				case e := <-c.journalq:
					c.record(e)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) record(e journal.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := c.opts.journal.Record(ctx, e); err != nil {
		c.logger.Warn("failed to journal stale response", "request_id", e.RequestID, "error", err)
	}
}

// Start runs garbage collection and resolution retries until ctx is done or
// the client is closed.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
	return nil
}

func (c *Client) run(ctx context.Context) {
	gc := time.NewTicker(c.opts.retention / 2)
	defer gc.Stop()
	retry := time.NewTicker(c.opts.retryInterval)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gc.C:
			c.collect(ctx)
		case <-retry.C:
			c.retryPending(ctx)
		}
	}
}

// collect sweeps unclaimed results and fails commands whose name never
// resolved within the retention window. The failures stay in the table for a
// full window so pollers can take them.
func (c *Client) collect(ctx context.Context) {
	// Queued commands are failed by Prune below, not swept.
	queued := c.resolver.PendingIDs()
	swept := c.table.SweepExcept(func(id command.RequestID) bool {
		_, ok := queued[id]
		return ok
	})
	c.tel.Metrics.RecordGC(ctx, "correlation", swept)

	dropped := c.resolver.Prune()
	for _, q := range dropped {
		c.table.Complete(q.ID, &outcome.Result{
			RequestID:  uint64(q.ID),
			Code:       outcome.CodeActiveReplicaError,
			Detail:     "no active replicas for " + q.Command.ServiceName(),
			ReceivedAt: time.Now(),
		})
	}
	c.tel.Metrics.RecordGC(ctx, "resolver", len(dropped))
}

func (c *Client) retryPending(ctx context.Context) {
	for _, name := range c.resolver.PendingNames() {
		if _, err := c.resolver.MaybeQuery(ctx, name); err != nil {
			c.logger.Warn("resolution retry failed", "service", name, "error", err)
		}
	}
}

// Close stops background work and closes the transport.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
	err := c.tr.Close()
	if c.journalDone != nil {
		close(c.journalDone)
		c.journalWG.Wait()
	}
	return err
}
