// Package resolver caches which endpoints currently serve each service name
// and queues commands for names that are not resolved yet.
//
// A miss creates a pending queue for the name and triggers at most one
// resolution query per retry interval, sent to a random bootstrap endpoint.
// A successful, non-empty answer replaces the cached endpoint set and drains
// the queue; a failed or empty one leaves the queue untouched so the next
// query can still satisfy it.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/plaenen/nsclient/pkg/command"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"
)

const (
	// DefaultRetryInterval is the minimum spacing between resolution
	// queries for one name.
	DefaultRetryInterval = time.Second

	// DefaultRetention is how long an endpoint set survives without access.
	DefaultRetention = 60 * time.Second
)

var (
	// ErrNoBootstrap is returned when a query is needed but no bootstrap
	// endpoints are configured.
	ErrNoBootstrap = errors.New("no bootstrap endpoints configured")

	// ErrEmptyName is returned for blank service names.
	ErrEmptyName = errors.New("empty service name")
)

// EndpointSet is the resolved set of endpoints serving a name.
type EndpointSet struct {
	Service     string
	Endpoints   []string
	RefreshedAt time.Time
}

// Pick routes id to one endpoint of the set.
func (s *EndpointSet) Pick(id command.RequestID) string {
	return s.Endpoints[uint64(id)%uint64(len(s.Endpoints))]
}

// Queued is a command waiting for its name to resolve. Its result handling
// lives in the correlation table under ID.
type Queued struct {
	ID      command.RequestID
	Command *command.Command
}

// Dispatch is a drained command paired with the endpoint it must go to.
type Dispatch struct {
	Queued
	Endpoint string
}

// QueryFunc sends a resolution request for service to a bootstrap endpoint.
type QueryFunc func(ctx context.Context, endpoint, service string) error

type pendingResolution struct {
	queue     []Queued
	createdAt time.Time
}

// Resolver is safe for concurrent use.
type Resolver struct {
	mu      sync.Mutex
	sets    *ttlcache.Cache[string, *EndpointSet]
	limits  *ttlcache.Cache[string, *rate.Limiter]
	pending map[string]*pendingResolution

	bootstrap     []string
	retryInterval time.Duration
	retention     time.Duration
	query         QueryFunc
	now           func() time.Time
	logger        *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Config configures a Resolver.
type Config struct {
	Bootstrap     []string
	RetryInterval time.Duration
	Retention     time.Duration
	Query         QueryFunc
	Now           func() time.Time
	Logger        *slog.Logger
}

// New creates a resolver.
func New(cfg Config) *Resolver {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Resolver{
		sets:          ttlcache.New[string, *EndpointSet](ttlcache.WithTTL[string, *EndpointSet](cfg.Retention)),
		limits:        ttlcache.New[string, *rate.Limiter](ttlcache.WithTTL[string, *rate.Limiter](cfg.Retention)),
		pending:       make(map[string]*pendingResolution),
		bootstrap:     append([]string(nil), cfg.Bootstrap...),
		retryInterval: cfg.RetryInterval,
		retention:     cfg.Retention,
		query:         cfg.Query,
		now:           cfg.Now,
		logger:        cfg.Logger.With("component", "resolver"),
		rng:           rand.New(rand.NewPCG(uint64(cfg.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
}

// Normalize returns the canonical form of a service name.
func Normalize(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Lookup returns the cached endpoint set for name, or nil on a miss.
func (r *Resolver) Lookup(name string) *EndpointSet {
	item := r.sets.Get(Normalize(name))
	if item == nil {
		return nil
	}
	return item.Value()
}

// Invalidate drops the cached endpoint set for name.
func (r *Resolver) Invalidate(name string) {
	r.sets.Delete(Normalize(name))
}

// Enqueue appends a command to the pending queue of name, creating the queue
// on first use. It reports whether the queue was created by this call.
func (r *Resolver) Enqueue(name string, q Queued) (bool, error) {
	name = Normalize(name)
	if name == "" {
		return false, ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[name]
	if !ok {
		p = &pendingResolution{createdAt: r.now()}
		r.pending[name] = p
	}
	p.queue = append(p.queue, q)
	return !ok, nil
}

// PendingLen returns the number of commands queued for name.
func (r *Resolver) PendingLen(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pending[Normalize(name)]; ok {
		return len(p.queue)
	}
	return 0
}

// PendingNames returns the names with a non-empty pending queue.
func (r *Resolver) PendingNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.pending))
	for name, p := range r.pending {
		if len(p.queue) > 0 {
			names = append(names, name)
		}
	}
	return names
}

// PendingIDs returns the request ids of every queued command.
func (r *Resolver) PendingIDs() map[command.RequestID]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make(map[command.RequestID]struct{})
	for _, p := range r.pending {
		for _, q := range p.queue {
			ids[q.ID] = struct{}{}
		}
	}
	return ids
}

// MaybeQuery sends a resolution request for name to a random bootstrap
// endpoint unless one was sent within the retry interval. It reports whether
// a request was sent.
func (r *Resolver) MaybeQuery(ctx context.Context, name string) (bool, error) {
	name = Normalize(name)
	if name == "" {
		return false, ErrEmptyName
	}
	if len(r.bootstrap) == 0 {
		return false, ErrNoBootstrap
	}
	if r.query == nil {
		return false, fmt.Errorf("resolver has no query function")
	}

	if !r.limiter(name).AllowN(r.now(), 1) {
		return false, nil
	}

	endpoint := r.randomBootstrap()
	r.logger.Debug("querying active replicas", "service", name, "endpoint", endpoint)
	if err := r.query(ctx, endpoint, name); err != nil {
		return true, fmt.Errorf("resolution query for %s: %w", name, err)
	}
	return true, nil
}

func (r *Resolver) limiter(name string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item := r.limits.Get(name); item != nil {
		return item.Value()
	}
	lim := rate.NewLimiter(rate.Every(r.retryInterval), 1)
	r.limits.Set(name, lim, ttlcache.DefaultTTL)
	return lim
}

// RandomBootstrap returns a random bootstrap endpoint, or "" when none are
// configured.
func (r *Resolver) RandomBootstrap() string {
	if len(r.bootstrap) == 0 {
		return ""
	}
	return r.randomBootstrap()
}

func (r *Resolver) randomBootstrap() string {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.bootstrap[r.rng.IntN(len(r.bootstrap))]
}

// OnResolutionResponse applies a resolution answer for name. On success it
// replaces the endpoint set and returns every queued command routed to an
// endpoint; the queue is emptied. A failed or empty answer returns nil and
// leaves the queue intact.
func (r *Resolver) OnResolutionResponse(name string, endpoints []string, failed bool) []Dispatch {
	name = Normalize(name)
	if failed || len(endpoints) == 0 {
		r.logger.Warn("resolution failed", "service", name, "failed", failed, "endpoints", len(endpoints))
		return nil
	}

	set := &EndpointSet{
		Service:     name,
		Endpoints:   append([]string(nil), endpoints...),
		RefreshedAt: r.now(),
	}

	r.mu.Lock()
	r.sets.Set(name, set, ttlcache.DefaultTTL)
	p := r.pending[name]
	delete(r.pending, name)
	r.mu.Unlock()

	if p == nil {
		return nil
	}

	out := make([]Dispatch, 0, len(p.queue))
	for _, q := range p.queue {
		out = append(out, Dispatch{Queued: q, Endpoint: set.Pick(q.ID)})
	}
	r.logger.Debug("drained pending queue", "service", name, "count", len(out), "endpoints", len(set.Endpoints))
	return out
}

// Prune removes expired endpoint sets and limiters, and drops pending queues
// older than the retention window. The dropped commands are returned.
func (r *Resolver) Prune() []Queued {
	r.sets.DeleteExpired()
	r.limits.DeleteExpired()

	cutoff := r.now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []Queued
	for name, p := range r.pending {
		if p.createdAt.Before(cutoff) {
			dropped = append(dropped, p.queue...)
			delete(r.pending, name)
			r.logger.Info("dropped unresolved queue", "service", name, "count", len(p.queue))
		}
	}
	return dropped
}

// Len returns the number of cached endpoint sets.
func (r *Resolver) Len() int {
	return r.sets.Len()
}
