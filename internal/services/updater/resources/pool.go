// Package resources rotates proxies and API credentials across workers
//
// A Pool hands out exclusive leases over healthy resources, charges failures
// against them, cools them down with capped exponential backoff and
// blacklists them once their total failure count crosses a threshold
// Optional usage windows cap how often a single resource is used
package resources

import (
	"context"
	"sync"
	"time"

	perr "shinga/internal/platform/errors"
	"shinga/internal/services/updater/domain"

	"github.com/google/uuid"
)

// Outcome is what the lease holder reports on release
type Outcome uint8

// Release outcomes
const (
	Success Outcome = iota
	Failure
	// Unused hands the lease back without touching the counters
	Unused
)

// Limit caps uses of one resource within a sliding window
// hitting Max cools the resource for Cooldown without counting a failure
type Limit struct {
	Name     string
	Max      int
	Window   time.Duration
	Cooldown time.Duration
}

// DefaultProxyLimits mirrors the per proxy ceilings upstreams tolerate
func DefaultProxyLimits() []Limit {
	return []Limit{
		{Name: "rps", Max: 3, Window: time.Second, Cooldown: time.Second},
		{Name: "rpm", Max: 60, Window: time.Minute, Cooldown: time.Minute},
	}
}

// Config controls thresholds for one pool
type Config struct {
	Kind           domain.ResourceKind
	CooldownAfter  int
	BlacklistAfter int
	CooldownBase   time.Duration
	CooldownCap    time.Duration
	Limits         []Limit

	// OnTransition sees every state change, called outside the pool lock
	OnTransition func(domain.Resource)

	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.CooldownAfter <= 0 {
		c.CooldownAfter = 3
	}
	if c.BlacklistAfter <= 0 {
		c.BlacklistAfter = 20
	}
	if c.CooldownBase <= 0 {
		c.CooldownBase = 30 * time.Second
	}
	if c.CooldownCap <= 0 {
		c.CooldownCap = 30 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Stats counts resources by state
type Stats struct {
	Kind        domain.ResourceKind `json:"kind"`
	Total       int                 `json:"total"`
	Healthy     int                 `json:"healthy"`
	Cooling     int                 `json:"cooling"`
	Blacklisted int                 `json:"blacklisted"`
	Leased      int                 `json:"leased"`
}

type entry struct {
	res          domain.Resource
	leased       bool
	limitedUntil time.Time
	uses         [][]time.Time // per Limit, ascending
}

// Pool is a concurrency safe rotating pool
type Pool struct {
	cfg Config

	mu      sync.Mutex
	ring    []*entry
	byValue map[string]*entry
	leases  map[uuid.UUID]*entry
	cursor  int
	wake    chan struct{}
}

// New builds a pool seeded with values
func New(cfg Config, values ...string) *Pool {
	p := &Pool{
		cfg:     cfg.withDefaults(),
		byValue: make(map[string]*entry),
		leases:  make(map[uuid.UUID]*entry),
		wake:    make(chan struct{}),
	}
	p.Add(values...)
	return p
}

// Kind returns the resource class served by this pool
func (p *Pool) Kind() domain.ResourceKind { return p.cfg.Kind }

// Len returns how many resources the pool knows, blacklisted included
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ring)
}

// Add registers new values as healthy; known values are ignored
func (p *Pool) Add(values ...string) int {
	p.mu.Lock()
	added := 0
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := p.byValue[v]; ok {
			continue
		}
		p.insertLocked(domain.Resource{Kind: p.cfg.Kind, Value: v, State: domain.StateHealthy})
		added++
	}
	if added > 0 {
		p.broadcastLocked()
	}
	p.mu.Unlock()
	return added
}

// Restore loads persisted counters and states, adding unknown values
func (p *Pool) Restore(rs ...domain.Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range rs {
		if r.Value == "" {
			continue
		}
		r.Kind = p.cfg.Kind
		if r.State == "" {
			r.State = domain.StateHealthy
		}
		if e, ok := p.byValue[r.Value]; ok {
			if !e.leased {
				e.res = r
			}
			continue
		}
		p.insertLocked(r)
	}
	p.broadcastLocked()
}

func (p *Pool) insertLocked(r domain.Resource) {
	e := &entry{res: r, uses: make([][]time.Time, len(p.cfg.Limits))}
	p.ring = append(p.ring, e)
	p.byValue[r.Value] = e
}

// Acquire leases the least recently used eligible resource
// it blocks while healthy resources exist but all are leased and fails
// with an Exhausted error when nothing is healthy or past its cooldown
func (p *Pool) Acquire(ctx context.Context) (domain.Lease, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Lease{}, err
		}

		p.mu.Lock()
		now := p.cfg.Now()
		l, changed, ok := p.pickLocked(now)
		if ok {
			p.mu.Unlock()
			p.notify(changed)
			return l, nil
		}
		if !p.waitableLocked(now) {
			p.mu.Unlock()
			p.notify(changed)
			return domain.Lease{}, perr.Exhaustedf("%s pool exhausted (%d resources)", p.cfg.Kind, p.Len())
		}
		wake := p.wake
		p.mu.Unlock()
		p.notify(changed)

		select {
		case <-ctx.Done():
			return domain.Lease{}, ctx.Err()
		case <-wake:
		}
	}
}

// pickLocked chooses the eligible entry with the oldest LastUsed
// ties go to the first entry in ring order starting at the cursor
func (p *Pool) pickLocked(now time.Time) (domain.Lease, []domain.Resource, bool) {
	var changed []domain.Resource
	n := len(p.ring)
	best := -1
	for i := range n {
		idx := (p.cursor + i) % n
		e := p.ring[idx]
		if e.leased {
			continue
		}
		if e.res.State == domain.StateCooling && !now.Before(e.res.CooldownUntil) {
			e.res.State = domain.StateHealthy
			e.res.CooldownUntil = time.Time{}
			changed = append(changed, e.res)
		}
		if e.res.State != domain.StateHealthy || now.Before(e.limitedUntil) {
			continue
		}
		if best < 0 || e.res.LastUsed.Before(p.ring[best].res.LastUsed) {
			best = idx
		}
	}
	if best < 0 {
		return domain.Lease{}, changed, false
	}

	e := p.ring[best]
	p.cursor = (best + 1) % n
	e.leased = true
	e.res.LastUsed = now
	e.res.Uses++
	p.recordUseLocked(e, now)

	l := domain.Lease{ID: uuid.New(), Kind: p.cfg.Kind, Value: e.res.Value, AcquiredAt: now}
	p.leases[l.ID] = e
	return l, changed, true
}

// recordUseLocked slides each usage window and applies limit cooldowns
func (p *Pool) recordUseLocked(e *entry, now time.Time) {
	for i, lim := range p.cfg.Limits {
		if lim.Max <= 0 || lim.Window <= 0 {
			continue
		}
		ts := e.uses[i]
		cut := 0
		for cut < len(ts) && !ts[cut].After(now.Add(-lim.Window)) {
			cut++
		}
		ts = append(ts[cut:], now)
		if len(ts) >= lim.Max {
			until := now.Add(lim.Cooldown)
			if until.After(e.limitedUntil) {
				e.limitedUntil = until
			}
			ts = ts[:0]
		}
		e.uses[i] = ts
	}
}

// waitableLocked reports whether a release could make a resource eligible
func (p *Pool) waitableLocked(now time.Time) bool {
	for _, e := range p.ring {
		if e.leased && e.res.State == domain.StateHealthy && !now.Before(e.limitedUntil) {
			return true
		}
	}
	return false
}

// Release returns a lease and charges the outcome against the resource
func (p *Pool) Release(l domain.Lease, o Outcome) error {
	p.mu.Lock()
	e, ok := p.leases[l.ID]
	if !ok {
		p.mu.Unlock()
		return perr.InvalidArgf("%s lease %s is not held", p.cfg.Kind, l.ID)
	}
	delete(p.leases, l.ID)
	e.leased = false

	changed := p.chargeLocked(e, o)
	p.broadcastLocked()
	p.mu.Unlock()

	p.notify(changed)
	return nil
}

// Report charges an outcome observed outside a lease, such as a health
// check, against the named resource; blacklisted resources stay blacklisted
func (p *Pool) Report(value string, o Outcome) error {
	p.mu.Lock()
	e, ok := p.byValue[value]
	if !ok {
		p.mu.Unlock()
		return perr.NotFoundf("%s resource not in pool", p.cfg.Kind)
	}
	var changed []domain.Resource
	if e.res.State != domain.StateBlacklisted {
		changed = p.chargeLocked(e, o)
		p.broadcastLocked()
	}
	p.mu.Unlock()

	p.notify(changed)
	return nil
}

func (p *Pool) chargeLocked(e *entry, o Outcome) []domain.Resource {
	now := p.cfg.Now()
	before := e.res.State
	switch o {
	case Success:
		e.res.ConsecutiveFailures = 0
		e.res.CoolRuns = 0
		if e.res.State == domain.StateCooling {
			e.res.State = domain.StateHealthy
			e.res.CooldownUntil = time.Time{}
		}
	case Failure:
		e.res.ConsecutiveFailures++
		e.res.TotalFailures++
		switch {
		case e.res.TotalFailures >= p.cfg.BlacklistAfter:
			e.res.State = domain.StateBlacklisted
			e.res.CooldownUntil = time.Time{}
		case e.res.ConsecutiveFailures >= p.cfg.CooldownAfter:
			e.res.State = domain.StateCooling
			e.res.CooldownUntil = now.Add(p.cooldownFor(e.res.CoolRuns))
			e.res.CoolRuns++
			e.res.ConsecutiveFailures = 0
		}
	}
	if e.res.State != before {
		return []domain.Resource{e.res}
	}
	return nil
}

// cooldownFor is min(cap, base * 2^runs)
func (p *Pool) cooldownFor(runs int) time.Duration {
	d := p.cfg.CooldownBase
	for range runs {
		if d >= p.cfg.CooldownCap {
			break
		}
		d *= 2
	}
	return min(d, p.cfg.CooldownCap)
}

// NextAvailableAt reports when the soonest non blacklisted resource can be
// leased; ok is false when nothing but blacklisted resources remain
func (p *Pool) NextAvailableAt() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.cfg.Now()
	var at time.Time
	found := false
	for _, e := range p.ring {
		if e.res.State == domain.StateBlacklisted {
			continue
		}
		t := now
		if e.res.State == domain.StateCooling && e.res.CooldownUntil.After(t) {
			t = e.res.CooldownUntil
		}
		if e.limitedUntil.After(t) {
			t = e.limitedUntil
		}
		if !found || t.Before(at) {
			at, found = t, true
		}
	}
	return at, found
}

// Snapshot copies every resource; limit cooldowns show as cooling
func (p *Pool) Snapshot() []domain.Resource {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.cfg.Now()
	out := make([]domain.Resource, 0, len(p.ring))
	for _, e := range p.ring {
		out = append(out, p.viewLocked(e, now))
	}
	return out
}

func (p *Pool) viewLocked(e *entry, now time.Time) domain.Resource {
	r := e.res
	if r.State == domain.StateHealthy && now.Before(e.limitedUntil) {
		r.State = domain.StateCooling
		r.CooldownUntil = e.limitedUntil
	}
	return r
}

// Stats counts resources by state
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.cfg.Now()
	s := Stats{Kind: p.cfg.Kind, Total: len(p.ring), Leased: len(p.leases)}
	for _, e := range p.ring {
		switch p.viewLocked(e, now).State {
		case domain.StateHealthy:
			s.Healthy++
		case domain.StateCooling:
			s.Cooling++
		case domain.StateBlacklisted:
			s.Blacklisted++
		}
	}
	return s
}

func (p *Pool) broadcastLocked() {
	close(p.wake)
	p.wake = make(chan struct{})
}

func (p *Pool) notify(changed []domain.Resource) {
	if p.cfg.OnTransition == nil {
		return
	}
	for _, r := range changed {
		p.cfg.OnTransition(r)
	}
}
