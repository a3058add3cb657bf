package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queryLog struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func (l *queryLog) query(_ context.Context, endpoint, service string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = append(l.queries, endpoint+"|"+service)
	return l.err
}

func (l *queryLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queries)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newResolver(log *queryLog, clk *clock) *Resolver {
	return New(Config{
		Bootstrap:     []string{"recon-1", "recon-2", "recon-3"},
		RetryInterval: time.Second,
		Retention:     time.Minute,
		Query:         log.query,
		Now:           clk.Now,
	})
}

func queued(id command.RequestID) Queued {
	return Queued{ID: id, Command: command.New(command.TypeRead, command.FieldGUID, "alice.example")}
}

func TestResolver_MaybeQueryIsRateLimited(t *testing.T) {
	log := &queryLog{}
	clk := &clock{now: time.Unix(1000, 0)}
	r := newResolver(log, clk)
	ctx := context.Background()

	sent, err := r.MaybeQuery(ctx, "alice.example")
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = r.MaybeQuery(ctx, "alice.example")
	require.NoError(t, err)
	assert.False(t, sent)

	t.Run("other names are independent", func(t *testing.T) {
		sent, err := r.MaybeQuery(ctx, "bob.example")
		require.NoError(t, err)
		assert.True(t, sent)
	})

	t.Run("allowed again after the interval", func(t *testing.T) {
		clk.Advance(time.Second)
		sent, err := r.MaybeQuery(ctx, "alice.example")
		require.NoError(t, err)
		assert.True(t, sent)
	})

	assert.Equal(t, 3, log.count())
}

func TestResolver_QueriesBootstrapEndpoints(t *testing.T) {
	log := &queryLog{}
	clk := &clock{now: time.Unix(1000, 0)}
	r := newResolver(log, clk)

	for i := 0; i < 20; i++ {
		_, err := r.MaybeQuery(context.Background(), "svc")
		require.NoError(t, err)
		clk.Advance(time.Second)
	}

	require.Equal(t, 20, log.count())
	for _, q := range log.queries {
		assert.Contains(t, []string{"recon-1|svc", "recon-2|svc", "recon-3|svc"}, q)
	}
}

func TestResolver_DrainOnSuccess(t *testing.T) {
	log := &queryLog{}
	r := newResolver(log, &clock{now: time.Unix(1000, 0)})

	created, err := r.Enqueue("alice.example", queued(10))
	require.NoError(t, err)
	assert.True(t, created)
	created, err = r.Enqueue("alice.example", queued(11))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 2, r.PendingLen("alice.example"))
	assert.Equal(t, map[command.RequestID]struct{}{10: {}, 11: {}}, r.PendingIDs())

	endpoints := []string{"a", "b", "c"}
	out := r.OnResolutionResponse("alice.example", endpoints, false)
	require.Len(t, out, 2)

	assert.Equal(t, command.RequestID(10), out[0].ID)
	assert.Equal(t, endpoints[10%3], out[0].Endpoint)
	assert.Equal(t, command.RequestID(11), out[1].ID)
	assert.Equal(t, endpoints[11%3], out[1].Endpoint)

	assert.Equal(t, 0, r.PendingLen("alice.example"))
	set := r.Lookup("alice.example")
	require.NotNil(t, set)
	assert.Equal(t, endpoints, set.Endpoints)
}

func TestResolver_FailedResponseKeepsQueue(t *testing.T) {
	r := newResolver(&queryLog{}, &clock{now: time.Unix(1000, 0)})
	_, err := r.Enqueue("alice.example", queued(1))
	require.NoError(t, err)

	assert.Nil(t, r.OnResolutionResponse("alice.example", []string{"a"}, true))
	assert.Nil(t, r.OnResolutionResponse("alice.example", nil, false))

	assert.Equal(t, 1, r.PendingLen("alice.example"))
	assert.Nil(t, r.Lookup("alice.example"))
	assert.Equal(t, []string{"alice.example"}, r.PendingNames())
}

func TestResolver_ReplacesSetWholesale(t *testing.T) {
	r := newResolver(&queryLog{}, &clock{now: time.Unix(1000, 0)})

	r.OnResolutionResponse("svc", []string{"a", "b"}, false)
	r.OnResolutionResponse("svc", []string{"c"}, false)

	set := r.Lookup("svc")
	require.NotNil(t, set)
	assert.Equal(t, []string{"c"}, set.Endpoints)
	assert.Equal(t, "c", set.Pick(12345))

	r.Invalidate("svc")
	assert.Nil(t, r.Lookup("svc"))
}

func TestResolver_NormalizesNames(t *testing.T) {
	r := newResolver(&queryLog{}, &clock{now: time.Unix(1000, 0)})

	composed := "caf\u00e9.example"
	decomposed := "cafe\u0301.example"
	require.NotEqual(t, composed, decomposed)

	_, err := r.Enqueue(" "+decomposed, queued(1))
	require.NoError(t, err)
	out := r.OnResolutionResponse(composed, []string{"a"}, false)
	assert.Len(t, out, 1)
	assert.NotNil(t, r.Lookup(decomposed))
}

func TestResolver_Errors(t *testing.T) {
	t.Run("no bootstrap", func(t *testing.T) {
		r := New(Config{Query: (&queryLog{}).query})
		_, err := r.MaybeQuery(context.Background(), "svc")
		assert.ErrorIs(t, err, ErrNoBootstrap)
		assert.Empty(t, r.RandomBootstrap())
	})

	t.Run("empty name", func(t *testing.T) {
		r := newResolver(&queryLog{}, &clock{now: time.Now()})
		_, err := r.Enqueue("  ", queued(1))
		assert.ErrorIs(t, err, ErrEmptyName)
	})

	t.Run("query failure is reported", func(t *testing.T) {
		log := &queryLog{err: errors.New("unreachable")}
		r := newResolver(log, &clock{now: time.Now()})
		sent, err := r.MaybeQuery(context.Background(), "svc")
		assert.True(t, sent)
		assert.Error(t, err)
	})
}

func TestResolver_PruneDropsOldQueues(t *testing.T) {
	clk := &clock{now: time.Unix(1000, 0)}
	r := newResolver(&queryLog{}, clk)

	_, err := r.Enqueue("old", queued(1))
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)
	_, err = r.Enqueue("new", queued(2))
	require.NoError(t, err)

	dropped := r.Prune()
	require.Len(t, dropped, 1)
	assert.Equal(t, command.RequestID(1), dropped[0].ID)
	assert.Equal(t, 0, r.PendingLen("old"))
	assert.Equal(t, 1, r.PendingLen("new"))
}
