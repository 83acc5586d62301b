package resources

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	perr "shinga/internal/platform/errors"
	"shinga/internal/services/updater/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestPool(clk *fakeClock, values ...string) *Pool {
	return New(Config{
		Kind:           domain.ResourceProxy,
		CooldownAfter:  2,
		BlacklistAfter: 5,
		CooldownBase:   10 * time.Second,
		CooldownCap:    25 * time.Second,
		Now:            clk.Now,
	}, values...)
}

func mustAcquire(t *testing.T, p *Pool) domain.Lease {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	l, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	return l
}

func TestAcquire_RotatesLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	clk := newClock()
	p := newTestPool(clk, "a", "b", "c")

	var got []string
	for range 6 {
		l := mustAcquire(t, p)
		got = append(got, l.Value)
		if err := p.Release(l, Success); err != nil {
			t.Fatalf("Release: %v", err)
		}
		clk.Advance(time.Millisecond)
	}
	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation = %v, want %v", got, want)
		}
	}
}

func TestAcquire_LeasedNotHandedOutTwice(t *testing.T) {
	t.Parallel()

	clk := newClock()
	p := newTestPool(clk, "only")
	l := mustAcquire(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Acquire should wait until ctx ends, got %v", err)
	}

	done := make(chan domain.Lease, 1)
	go func() {
		l2, err := p.Acquire(context.Background())
		if err == nil {
			done <- l2
		}
	}()
	time.Sleep(20 * time.Millisecond)
	if err := p.Release(l, Success); err != nil {
		t.Fatalf("Release: %v", err)
	}
	select {
	case l2 := <-done:
		if l2.Value != "only" || l2.ID == l.ID {
			t.Fatalf("unexpected second lease %+v", l2)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter not woken by release")
	}
}

func TestRelease_UnknownLease(t *testing.T) {
	t.Parallel()

	p := newTestPool(newClock(), "a")
	l := mustAcquire(t, p)
	if err := p.Release(l, Success); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := p.Release(l, Success); err == nil {
		t.Fatalf("double release should fail")
	}
}

func TestFailures_CooldownBackoffAndRecovery(t *testing.T) {
	t.Parallel()

	clk := newClock()
	var transitions []domain.ResourceState
	p := New(Config{
		Kind:           domain.ResourceCredential,
		CooldownAfter:  2,
		BlacklistAfter: 100,
		CooldownBase:   10 * time.Second,
		CooldownCap:    25 * time.Second,
		Now:            clk.Now,
		OnTransition:   func(r domain.Resource) { transitions = append(transitions, r.State) },
	}, "k")

	fail := func() {
		l := mustAcquire(t, p)
		_ = p.Release(l, Failure)
	}

	// first cooldown: base
	fail()
	fail()
	if s := p.Stats(); s.Cooling != 1 || s.Healthy != 0 {
		t.Fatalf("stats after 2 failures = %+v", s)
	}
	at, ok := p.NextAvailableAt()
	if !ok || !at.Equal(clk.Now().Add(10*time.Second)) {
		t.Fatalf("NextAvailableAt = %v %v", at, ok)
	}
	if _, err := p.Acquire(context.Background()); !perr.IsCode(err, perr.ErrorCodeExhausted) {
		t.Fatalf("cooling pool should be exhausted, got %v", err)
	}

	// second cooldown doubles
	clk.Advance(10 * time.Second)
	fail()
	fail()
	at, _ = p.NextAvailableAt()
	if got := at.Sub(clk.Now()); got != 20*time.Second {
		t.Fatalf("second cooldown = %v, want 20s", got)
	}

	// third is capped
	clk.Advance(20 * time.Second)
	fail()
	fail()
	at, _ = p.NextAvailableAt()
	if got := at.Sub(clk.Now()); got != 25*time.Second {
		t.Fatalf("third cooldown = %v, want cap 25s", got)
	}

	// success resets the backoff ladder
	clk.Advance(25 * time.Second)
	l := mustAcquire(t, p)
	_ = p.Release(l, Success)
	snap := p.Snapshot()
	if snap[0].CoolRuns != 0 || snap[0].ConsecutiveFailures != 0 || snap[0].TotalFailures != 6 {
		t.Fatalf("after success = %+v", snap[0])
	}
	if len(transitions) < 4 || transitions[0] != domain.StateCooling || transitions[1] != domain.StateHealthy {
		t.Fatalf("transitions = %v", transitions)
	}
}

func TestBlacklisted_NeverReselected(t *testing.T) {
	t.Parallel()

	clk := newClock()
	p := New(Config{
		Kind:           domain.ResourceProxy,
		CooldownAfter:  100,
		BlacklistAfter: 2,
		Now:            clk.Now,
	}, "bad", "good")

	for range 2 {
		for {
			l := mustAcquire(t, p)
			if l.Value == "bad" {
				_ = p.Release(l, Failure)
				break
			}
			_ = p.Release(l, Success)
			clk.Advance(time.Millisecond)
		}
		clk.Advance(time.Millisecond)
	}
	if s := p.Stats(); s.Blacklisted != 1 {
		t.Fatalf("stats = %+v", s)
	}
	for range 20 {
		l := mustAcquire(t, p)
		if l.Value == "bad" {
			t.Fatalf("blacklisted resource reselected")
		}
		_ = p.Release(l, Success)
		clk.Advance(time.Hour)
	}
}

func TestAllBlacklisted_Exhausted(t *testing.T) {
	t.Parallel()

	clk := newClock()
	p := New(Config{Kind: domain.ResourceProxy, CooldownAfter: 10, BlacklistAfter: 1, Now: clk.Now}, "x", "y")
	for range 2 {
		l := mustAcquire(t, p)
		_ = p.Release(l, Failure)
	}
	_, err := p.Acquire(context.Background())
	if !perr.IsCode(err, perr.ErrorCodeExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if _, ok := p.NextAvailableAt(); ok {
		t.Fatalf("NextAvailableAt should report none when all are blacklisted")
	}

	// runtime additions bring the pool back
	if n := p.Add("z", "x"); n != 1 {
		t.Fatalf("Add = %d, want 1", n)
	}
	if l := mustAcquire(t, p); l.Value != "z" {
		t.Fatalf("expected new resource, got %q", l.Value)
	}
}

func TestEmptyPool_Exhausted(t *testing.T) {
	t.Parallel()

	p := newTestPool(newClock())
	if _, err := p.Acquire(context.Background()); !perr.IsCode(err, perr.ErrorCodeExhausted) {
		t.Fatalf("empty pool should be exhausted, got %v", err)
	}
}

func TestUsageLimits_CoolWithoutFailure(t *testing.T) {
	t.Parallel()

	clk := newClock()
	p := New(Config{
		Kind:   domain.ResourceProxy,
		Limits: []Limit{{Name: "rps", Max: 2, Window: time.Second, Cooldown: 3 * time.Second}},
		Now:    clk.Now,
	}, "p")

	for range 2 {
		l := mustAcquire(t, p)
		_ = p.Release(l, Success)
	}
	if _, err := p.Acquire(context.Background()); !perr.IsCode(err, perr.ErrorCodeExhausted) {
		t.Fatalf("limited resource should be unavailable, got %v", err)
	}
	snap := p.Snapshot()
	if snap[0].State != domain.StateCooling || snap[0].TotalFailures != 0 {
		t.Fatalf("snapshot = %+v", snap[0])
	}
	clk.Advance(3 * time.Second)
	l := mustAcquire(t, p)
	_ = p.Release(l, Success)
}

func TestRestore(t *testing.T) {
	t.Parallel()

	clk := newClock()
	p := newTestPool(clk, "a")
	p.Restore(
		domain.Resource{Value: "a", State: domain.StateCooling, CooldownUntil: clk.Now().Add(time.Minute), TotalFailures: 3},
		domain.Resource{Value: "b", State: domain.StateBlacklisted, TotalFailures: 9},
	)
	if p.Len() != 2 {
		t.Fatalf("Len = %d", p.Len())
	}
	s := p.Stats()
	if s.Cooling != 1 || s.Blacklisted != 1 {
		t.Fatalf("stats = %+v", s)
	}
	if s.Kind != domain.ResourceProxy {
		t.Fatalf("restored kind = %q", s.Kind)
	}
}

func TestConcurrentLeases_NoDoubleHolding(t *testing.T) {
	t.Parallel()

	p := New(Config{Kind: domain.ResourceProxy}, "a", "b", "c")
	holders := map[string]*atomic.Int32{"a": {}, "b": {}, "c": {}}
	var violations atomic.Int32

	var wg sync.WaitGroup
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				l, err := p.Acquire(context.Background())
				if err != nil {
					violations.Add(1)
					return
				}
				if holders[l.Value].Add(1) != 1 {
					violations.Add(1)
				}
				time.Sleep(50 * time.Microsecond)
				holders[l.Value].Add(-1)
				_ = p.Release(l, Success)
			}
		}()
	}
	wg.Wait()
	if v := violations.Load(); v != 0 {
		t.Fatalf("%d violations", v)
	}
	if s := p.Stats(); s.Leased != 0 || s.Healthy != 3 {
		t.Fatalf("final stats = %+v", s)
	}
}

func TestRelease_UnusedKeepsCounters(t *testing.T) {
	t.Parallel()

	p := newTestPool(newClock(), "a")
	l := mustAcquire(t, p)
	if err := p.Release(l, Failure); err != nil {
		t.Fatalf("Release: %v", err)
	}
	l = mustAcquire(t, p)
	if err := p.Release(l, Unused); err != nil {
		t.Fatalf("Release: %v", err)
	}
	r := p.Snapshot()[0]
	if r.ConsecutiveFailures != 1 || r.TotalFailures != 1 || r.State != domain.StateHealthy {
		t.Fatalf("resource = %+v, want one failure kept", r)
	}
}

func TestReport_ChargesWithoutLease(t *testing.T) {
	t.Parallel()

	clk := newClock()
	var seen []domain.Resource
	p := New(Config{
		Kind:           domain.ResourceProxy,
		CooldownAfter:  2,
		BlacklistAfter: 3,
		CooldownBase:   10 * time.Second,
		Now:            clk.Now,
		OnTransition:   func(r domain.Resource) { seen = append(seen, r) },
	}, "http://p1")

	if err := p.Report("http://nope", Failure); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("unknown value: %v", err)
	}
	for range 2 {
		if err := p.Report("http://p1", Failure); err != nil {
			t.Fatalf("Report: %v", err)
		}
	}
	if st := p.Stats(); st.Cooling != 1 {
		t.Fatalf("after two failed checks %+v", st)
	}
	if err := p.Report("http://p1", Success); err != nil {
		t.Fatalf("Report success: %v", err)
	}
	if st := p.Stats(); st.Healthy != 1 {
		t.Fatalf("after a good check %+v", st)
	}

	_ = p.Report("http://p1", Failure)
	if st := p.Stats(); st.Blacklisted != 1 {
		t.Fatalf("third failure should blacklist %+v", st)
	}
	_ = p.Report("http://p1", Success)
	if st := p.Stats(); st.Blacklisted != 1 {
		t.Fatalf("a check revived a blacklisted proxy %+v", st)
	}
	if len(seen) != 3 || seen[2].State != domain.StateBlacklisted {
		t.Fatalf("transitions %+v", seen)
	}
}
