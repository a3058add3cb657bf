package correlation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/outcome"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func readCmd() *command.Command {
	return command.New(command.TypeRead, command.FieldGUID, "g", command.FieldField, "bio")
}

func TestTable_RegisterDuplicate(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register(1, readCmd(), nil))
	assert.ErrorIs(t, table.Register(1, readCmd(), nil), ErrDuplicateID)
	assert.True(t, table.Contains(1))
}

func TestTable_AwaitCompletes(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register(7, readCmd(), nil))

	go func() {
		time.Sleep(10 * time.Millisecond)
		table.Complete(7, &outcome.Result{RequestID: 7, Code: outcome.CodeOK, Value: "hi"})
	}()

	res, err := table.Await(context.Background(), 7, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Value)
	assert.False(t, table.Contains(7), "claimed entry must be removed")
}

func TestTable_CompleteIsIdempotent(t *testing.T) {
	var stale []StaleReason
	table := NewTable(WithStaleHandler(func(_ command.RequestID, _ *command.Command, _ *outcome.Result, reason StaleReason) {
		stale = append(stale, reason)
	}))
	require.NoError(t, table.Register(1, readCmd(), nil))

	first := &outcome.Result{Value: "first"}
	assert.True(t, table.Complete(1, first))
	assert.False(t, table.Complete(1, &outcome.Result{Value: "second"}))

	res, ok := table.Take(1)
	require.True(t, ok)
	assert.Same(t, first, res)
	assert.Equal(t, []StaleReason{StaleDuplicate}, stale)
}

func TestTable_AwaitTimeout(t *testing.T) {
	var mu sync.Mutex
	var reasons []StaleReason
	var cmds []*command.Command
	table := NewTable(WithStaleHandler(func(_ command.RequestID, cmd *command.Command, _ *outcome.Result, reason StaleReason) {
		mu.Lock()
		reasons = append(reasons, reason)
		cmds = append(cmds, cmd)
		mu.Unlock()
	}))
	require.NoError(t, table.Register(3, readCmd(), nil))

	start := time.Now()
	_, err := table.Await(context.Background(), 3, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.False(t, table.Contains(3))

	assert.False(t, table.Complete(3, &outcome.Result{}))
	assert.False(t, table.Complete(99, &outcome.Result{}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []StaleReason{StaleLate, StaleUnknown}, reasons)
	require.NotNil(t, cmds[0], "late results keep their command")
	assert.Equal(t, command.TypeRead, cmds[0].Type)
	assert.Nil(t, cmds[1])
}

func TestTable_AwaitContextCanceled(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register(4, readCmd(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := table.Await(ctx, 4, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTable_AwaitZeroTimeoutWaits(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register(5, readCmd(), nil))

	go func() {
		time.Sleep(30 * time.Millisecond)
		table.Complete(5, &outcome.Result{Value: "late but fine"})
	}()

	res, err := table.Await(context.Background(), 5, 0)
	require.NoError(t, err)
	assert.Equal(t, "late but fine", res.Value)
}

func TestTable_Callback(t *testing.T) {
	table := NewTable()

	got := make(chan *outcome.Result, 1)
	require.NoError(t, table.Register(8, readCmd(), func(id command.RequestID, res *outcome.Result) {
		assert.Equal(t, command.RequestID(8), id)
		got <- res
	}))

	_, err := table.Await(context.Background(), 8, time.Millisecond)
	assert.ErrorIs(t, err, ErrHasCallback)

	assert.True(t, table.Complete(8, &outcome.Result{Value: "cb"}))
	assert.Equal(t, "cb", (<-got).Value)
	assert.False(t, table.Contains(8))
	assert.False(t, table.Complete(8, &outcome.Result{}))
}

func TestTable_Poll(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register(9, readCmd(), nil))

	assert.False(t, table.IsComplete(9))
	_, ok := table.Take(9)
	assert.False(t, ok)

	table.Complete(9, &outcome.Result{Value: "done"})
	assert.True(t, table.IsComplete(9))

	res, ok := table.Take(9)
	require.True(t, ok)
	assert.Equal(t, "done", res.Value)
	assert.False(t, table.IsComplete(9))
}

func TestTable_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	table := NewTable(WithClock(clock.Now), WithRetention(time.Minute))

	require.NoError(t, table.Register(1, readCmd(), nil))
	clock.Advance(30 * time.Second)
	require.NoError(t, table.Register(2, readCmd(), nil))
	clock.Advance(31 * time.Second)

	assert.Equal(t, 1, table.Sweep())
	assert.False(t, table.Contains(1))
	assert.True(t, table.Contains(2))

	clock.Advance(time.Minute)
	assert.Equal(t, 1, table.Sweep())
	assert.Equal(t, 0, table.Len())
}

func TestTable_SweepAgesResultsFromCompletion(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	table := NewTable(WithClock(clock.Now), WithRetention(time.Minute))
	require.NoError(t, table.Register(1, readCmd(), nil))

	clock.Advance(2 * time.Minute)
	require.True(t, table.Complete(1, &outcome.Result{Value: "failed late"}))

	assert.Equal(t, 0, table.Sweep())
	assert.True(t, table.IsComplete(1))

	clock.Advance(time.Minute + time.Second)
	assert.Equal(t, 1, table.Sweep())
	assert.False(t, table.Contains(1))
}

func TestTable_SweepSkipsActiveWaiters(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	table := NewTable(WithClock(clock.Now), WithRetention(time.Second))
	require.NoError(t, table.Register(1, readCmd(), nil))

	waiting := make(chan struct{})
	result := make(chan *outcome.Result, 1)
	go func() {
		close(waiting)
		res, _ := table.Await(context.Background(), 1, 0)
		result <- res
	}()
	<-waiting
	require.Eventually(t, func() bool {
		table.mu.Lock()
		defer table.mu.Unlock()
		return table.entries[1].waiting
	}, time.Second, time.Millisecond)

	clock.Advance(time.Hour)
	assert.Equal(t, 0, table.Sweep())

	table.Complete(1, &outcome.Result{Value: "ok"})
	assert.Equal(t, "ok", (<-result).Value)
}

func TestTable_ConcurrentCompleteSingleWinner(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register(1, readCmd(), nil))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if table.Complete(1, &outcome.Result{Value: i}) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestTable_Remove(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register(11, readCmd(), nil))

	assert.True(t, table.Remove(11))
	assert.False(t, table.Remove(11))
	assert.Equal(t, 0, table.Len())
	require.NoError(t, table.Register(11, readCmd(), nil), "removed ids may be reused")
}

func TestTable_SweepExcept(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	table := NewTable(WithClock(clock.Now), WithRetention(time.Second))
	require.NoError(t, table.Register(1, readCmd(), nil))
	require.NoError(t, table.Register(2, readCmd(), nil))
	clock.Advance(time.Minute)

	removed := table.SweepExcept(func(id command.RequestID) bool { return id == 2 })
	assert.Equal(t, 1, removed)
	assert.False(t, table.Contains(1))
	assert.True(t, table.Contains(2))
}
