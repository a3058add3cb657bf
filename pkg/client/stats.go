package client

import (
	"sync"
	"sync/atomic"
	"time"
)

// latencyWeight is the weight of a new sample in the moving average.
const latencyWeight = 0.125

// Stats is a snapshot of client counters.
type Stats struct {
	Sent        uint64
	Completed   uint64
	Timeouts    uint64
	AsyncErrors uint64
	Stale       uint64

	// Outstanding counts correlation entries, including results waiting to
	// be polled.
	Outstanding int
	// PendingResolutions counts names with commands queued behind them.
	PendingResolutions int
	// CachedServices counts resolved endpoint sets.
	CachedServices int

	// AverageLatency is an exponentially weighted moving average of the time
	// from send to result.
	AverageLatency time.Duration
}

type stats struct {
	sent        atomic.Uint64
	completed   atomic.Uint64
	timeouts    atomic.Uint64
	asyncErrors atomic.Uint64
	stale       atomic.Uint64

	mu         sync.Mutex
	avgLatency float64
	samples    uint64
}

func (s *stats) observeLatency(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.samples == 0 {
		s.avgLatency = float64(d)
	} else {
		s.avgLatency += latencyWeight * (float64(d) - s.avgLatency)
	}
	s.samples++
}

func (s *stats) average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.avgLatency)
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Stats {
	return Stats{
		Sent:               c.stats.sent.Load(),
		Completed:          c.stats.completed.Load(),
		Timeouts:           c.stats.timeouts.Load(),
		AsyncErrors:        c.stats.asyncErrors.Load(),
		Stale:              c.stats.stale.Load(),
		Outstanding:        c.table.Len(),
		PendingResolutions: len(c.resolver.PendingNames()),
		CachedServices:     c.resolver.Len(),
		AverageLatency:     c.stats.average(),
	}
}
