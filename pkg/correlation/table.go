// Package correlation matches asynchronously arriving results to the
// commands that produced them.
//
// Every outstanding command owns one entry keyed by its request id. An entry
// is claimed by exactly one consumer, chosen when it is registered: a
// synchronous waiter (Await), a callback, or a poller (IsComplete/Take).
// Each entry carries its own done channel so completing one id wakes only the
// goroutine waiting on it.
package correlation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/outcome"
)

// DefaultRetention is how long an unclaimed entry survives before Sweep
// removes it.
const DefaultRetention = 60 * time.Second

var (
	// ErrDuplicateID is returned when registering an id that is outstanding.
	ErrDuplicateID = errors.New("request id already registered")

	// ErrUnknownID is returned when waiting on an id that is not registered.
	ErrUnknownID = errors.New("unknown request id")

	// ErrTimeout is returned when Await exceeds its timeout.
	ErrTimeout = errors.New("timed out waiting for result")

	// ErrHasCallback is returned when waiting on an entry owned by a callback.
	ErrHasCallback = errors.New("entry is claimed by a callback")
)

// Callback receives the result of an asynchronous command. It runs on the
// goroutine that completed the entry and must not block.
type Callback func(id command.RequestID, res *outcome.Result)

// StaleReason explains why a completion was dropped.
type StaleReason string

const (
	// StaleLate marks a result for an entry whose waiter already timed out.
	StaleLate StaleReason = "late"
	// StaleDuplicate marks a second result for an already completed entry.
	StaleDuplicate StaleReason = "duplicate"
	// StaleUnknown marks a result for an id that was never seen or was swept.
	StaleUnknown StaleReason = "unknown"
)

// StaleHandler observes dropped completions. cmd is the command the result
// answers, or nil when the id is unknown.
type StaleHandler func(id command.RequestID, cmd *command.Command, res *outcome.Result, reason StaleReason)

type expiredEntry struct {
	cmd *command.Command
	at  time.Time
}

type entry struct {
	id          command.RequestID
	cmd         *command.Command
	submittedAt time.Time
	completedAt time.Time
	callback    Callback
	result      *outcome.Result
	done        chan struct{}
	waiting     bool
}

// Table is the set of outstanding commands. It is safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	entries map[command.RequestID]*entry
	// expired remembers ids whose waiter gave up, so late results can be
	// told apart from unknown ones until the next sweep.
	expired map[command.RequestID]expiredEntry

	retention time.Duration
	now       func() time.Time
	onStale   StaleHandler
	logger    *slog.Logger
}

// Option configures a Table.
type Option func(*Table)

// WithRetention sets the GC retention window.
func WithRetention(d time.Duration) Option {
	return func(t *Table) {
		if d > 0 {
			t.retention = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Table) {
		t.now = now
	}
}

// WithStaleHandler registers a hook for dropped completions.
func WithStaleHandler(h StaleHandler) Option {
	return func(t *Table) {
		t.onStale = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Table) {
		t.logger = l
	}
}

// NewTable creates an empty table.
func NewTable(opts ...Option) *Table {
	t := &Table{
		entries:   make(map[command.RequestID]*entry),
		expired:   make(map[command.RequestID]expiredEntry),
		retention: DefaultRetention,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "correlation")
	return t
}

// Register adds an entry for id. A nil callback leaves the entry to a
// synchronous waiter or a poller.
func (t *Table) Register(id command.RequestID, cmd *command.Command, cb Callback) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[id]; ok {
		return ErrDuplicateID
	}
	delete(t.expired, id)
	t.entries[id] = &entry{
		id:          id,
		cmd:         cmd,
		submittedAt: t.now(),
		callback:    cb,
		done:        make(chan struct{}),
	}
	return nil
}

// Contains reports whether id is outstanding or completed but unclaimed.
func (t *Table) Contains(id command.RequestID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}

// Command returns the command registered under id.
func (t *Table) Command(id command.RequestID) (*command.Command, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	return e.cmd, true
}

// SubmittedAt returns when id was registered.
func (t *Table) SubmittedAt(id command.RequestID) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.submittedAt, true
}

// Complete attaches res to id. The first completion wins and returns true;
// later or unknown completions return false and are reported as stale.
// Callback entries are removed and their callback invoked before Complete
// returns.
func (t *Table) Complete(id command.RequestID, res *outcome.Result) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		reason := StaleUnknown
		var cmd *command.Command
		if x, late := t.expired[id]; late {
			reason = StaleLate
			cmd = x.cmd
		}
		t.mu.Unlock()
		t.stale(id, cmd, res, reason)
		return false
	}
	if e.result != nil {
		t.mu.Unlock()
		t.stale(id, e.cmd, res, StaleDuplicate)
		return false
	}

	e.result = res
	e.completedAt = t.now()
	close(e.done)
	cb := e.callback
	if cb != nil {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if cb != nil {
		cb(id, res)
	}
	return true
}

// Await blocks until id completes, timeout elapses or ctx is done. A timeout
// of zero waits without limit. The entry is removed in every case.
func (t *Table) Await(ctx context.Context, id command.RequestID, timeout time.Duration) (*outcome.Result, error) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return nil, ErrUnknownID
	}
	if e.callback != nil {
		t.mu.Unlock()
		return nil, ErrHasCallback
	}
	e.waiting = true
	t.mu.Unlock()

	var expiry <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expiry = timer.C
	}

	var err error
	select {
	case <-e.done:
	case <-expiry:
		err = ErrTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)

	// A result may have landed between the timer firing and the lock.
	if e.result != nil {
		return e.result, nil
	}
	t.expired[id] = expiredEntry{cmd: e.cmd, at: t.now()}
	return nil, err
}

// IsComplete reports whether a result is waiting to be taken for id.
func (t *Table) IsComplete(id command.RequestID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	return ok && e.result != nil
}

// Take removes and returns the result for id if one has arrived.
func (t *Table) Take(id command.RequestID) (*outcome.Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || e.result == nil {
		return nil, false
	}
	delete(t.entries, id)
	return e.result, true
}

// Remove drops the entry for id without completing it. It reports whether an
// entry was held.
func (t *Table) Remove(id command.RequestID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	delete(t.entries, id)
	return ok
}

// Len returns the number of entries held.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Sweep removes entries that nobody is waiting on and that have aged past the
// retention window, and forgets expired ids of the same age. Pending entries
// age from registration, completed ones from completion, so a poller always
// gets a full window to take a result. It returns the number of entries
// removed.
func (t *Table) Sweep() int {
	return t.SweepExcept(nil)
}

// SweepExcept is Sweep that also keeps every entry for which keep returns
// true.
func (t *Table) SweepExcept(keep func(command.RequestID) bool) int {
	cutoff := t.now().Add(-t.retention)

	t.mu.Lock()
	removed := 0
	for id, e := range t.entries {
		age := e.submittedAt
		if e.result != nil {
			age = e.completedAt
		}
		if e.waiting || !age.Before(cutoff) {
			continue
		}
		if keep != nil && keep(id) {
			continue
		}
		delete(t.entries, id)
		removed++
		t.logger.Debug("swept entry", "request_id", id, "completed", e.result != nil)
	}
	for id, x := range t.expired {
		if x.at.Before(cutoff) {
			delete(t.expired, id)
		}
	}
	t.mu.Unlock()

	if removed > 0 {
		t.logger.Info("garbage collected entries", "count", removed)
	}
	return removed
}

// Run sweeps every half retention window until ctx is done.
func (t *Table) Run(ctx context.Context) {
	ticker := time.NewTicker(t.retention / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func (t *Table) stale(id command.RequestID, cmd *command.Command, res *outcome.Result, reason StaleReason) {
	t.logger.Debug("stale completion", "request_id", id, "reason", reason)
	if t.onStale != nil {
		t.onStale(id, cmd, res, reason)
	}
}
