package upstream

import (
	"sync"
	"time"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/metrics"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
)

// Breaker guards the open-data feed. It starts closed, opens after a
// configured number of consecutive qualifying failures, and after the
// recovery timeout grants exactly one half-open probe per cooldown window.
// The grant restarts the window under the mutex, so concurrent callers can
// never each take their own probe.
type Breaker struct {
	mu        sync.Mutex
	state     string
	failures  int
	openedAt  time.Time
	threshold int
	recovery  time.Duration
	now       func() time.Time
}

func NewBreaker(threshold int, recovery time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		state:     model.BreakerClosed,
		threshold: threshold,
		recovery:  recovery,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed and whether it is the half-open
// probe. Closed always proceeds. Open (or a probe that never resolved)
// short-circuits until the cooldown elapses, then the next caller gets the
// single probe.
func (b *Breaker) Allow() (proceed, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == model.BreakerClosed {
		return true, false
	}
	if b.now().Sub(b.openedAt) < b.recovery {
		return false, false
	}
	b.openedAt = b.now()
	b.setState(model.BreakerHalfOpen)
	return true, true
}

// RecordSuccess resets the breaker to closed with a zero failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state != model.BreakerClosed {
		b.setState(model.BreakerClosed)
	}
}

// RecordFailure counts a qualifying failure. At exactly the configured
// threshold the breaker opens; a failed half-open probe reopens it and
// restarts the cooldown. Non-qualifying responses (4xx) must not be
// recorded here at all.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case model.BreakerHalfOpen:
		b.openedAt = b.now()
		b.setState(model.BreakerOpen)
	case model.BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			b.setState(model.BreakerOpen)
		}
	}
}

func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == model.BreakerOpen
}

func (b *Breaker) Snapshot() model.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := model.CircuitBreakerState{State: b.state, FailureCount: b.failures}
	if b.state != model.BreakerClosed {
		st.OpenedAt = b.openedAt
	}
	return st
}

// setState is called with the mutex held.
func (b *Breaker) setState(to string) {
	b.state = to
	metrics.BreakerTransitions.WithLabelValues(to).Inc()
	metrics.SetBreakerState(to)
}
