package upstream

import (
	"sync"
	"testing"
	"time"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
)

// testClock pins the breaker to a controllable time.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, recovery time.Duration) (*Breaker, *testClock) {
	clock := &testClock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(threshold, recovery)
	b.now = clock.now
	return b, clock
}

func TestBreaker_OpensAtExactThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	if b.IsOpen() {
		t.Fatal("two of three failures should not open the breaker")
	}
	if proceed, _ := b.Allow(); !proceed {
		t.Fatal("closed breaker must allow calls")
	}

	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("third failure should open the breaker")
	}
	if proceed, probe := b.Allow(); proceed || probe {
		t.Fatal("open breaker inside cooldown must short-circuit")
	}
	st := b.Snapshot()
	if st.State != model.BreakerOpen || st.FailureCount != 3 || st.OpenedAt.IsZero() {
		t.Fatalf("snapshot = %+v", st)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.IsOpen() {
		t.Fatal("count must restart after a success")
	}
	if st := b.Snapshot(); st.FailureCount != 2 {
		t.Fatalf("failure count = %d, want 2", st.FailureCount)
	}
}

func TestBreaker_SingleProbeAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)
	b.RecordFailure()
	if proceed, _ := b.Allow(); proceed {
		t.Fatal("open breaker must short-circuit before the cooldown")
	}

	clock.advance(time.Minute)
	proceed, probe := b.Allow()
	if !proceed || !probe {
		t.Fatal("cooldown expiry should grant the half-open probe")
	}
	if st := b.Snapshot(); st.State != model.BreakerHalfOpen {
		t.Fatalf("state = %q, want half_open", st.State)
	}
	if proceed, _ := b.Allow(); proceed {
		t.Fatal("second caller must not get a probe of its own")
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)
	b.RecordFailure()
	clock.advance(time.Minute)
	if _, probe := b.Allow(); !probe {
		t.Fatal("expected the probe grant")
	}

	b.RecordSuccess()
	st := b.Snapshot()
	if st.State != model.BreakerClosed || st.FailureCount != 0 {
		t.Fatalf("snapshot after probe success = %+v", st)
	}
	if proceed, probe := b.Allow(); !proceed || probe {
		t.Fatal("closed breaker should allow plain calls again")
	}
}

func TestBreaker_ProbeFailureRestartsCooldown(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)
	b.RecordFailure()
	clock.advance(time.Minute)
	if _, probe := b.Allow(); !probe {
		t.Fatal("expected the probe grant")
	}

	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("failed probe must reopen the breaker")
	}
	clock.advance(30 * time.Second)
	if proceed, _ := b.Allow(); proceed {
		t.Fatal("cooldown must restart from the probe failure")
	}
	clock.advance(30 * time.Second)
	if proceed, probe := b.Allow(); !proceed || !probe {
		t.Fatal("a fresh probe should be granted after the restarted cooldown")
	}
}

func TestBreaker_ConcurrentCallersShareOneProbe(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)
	b.RecordFailure()
	clock.advance(time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	probes, proceeds := 0, 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			proceed, probe := b.Allow()
			mu.Lock()
			if proceed {
				proceeds++
			}
			if probe {
				probes++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if probes != 1 || proceeds != 1 {
		t.Fatalf("probes=%d proceeds=%d, want exactly one of each", probes, proceeds)
	}
}
