package service

import (
	"time"

	"shinga/internal/services/updater/domain"
	"shinga/internal/services/updater/resources"
)

// pause parks items that require the pool's class until the pool can lend again
func (o *Orchestrator) pause(pool *resources.Pool) {
	now := o.deps.Now()
	until, ok := pool.NextAvailableAt()
	if !ok || !until.After(now) {
		until = now.Add(o.cfg.PauseRecheck)
	}
	kind := pool.Kind()

	o.mu.Lock()
	cur, was := o.paused[kind]
	fresh := !was || !cur.After(now)
	if fresh || until.After(cur) {
		o.paused[kind] = until
	}
	o.mu.Unlock()

	if fresh {
		st := pool.Stats()
		o.log.Warn().
			Str("kind", string(kind)).
			Time("until", until).
			Int("blacklisted", st.Blacklisted).
			Int("cooling", st.Cooling).
			Msg("resource class exhausted, pausing dependent sources")
	}
}

func (o *Orchestrator) isPaused(kind domain.ResourceKind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	until, ok := o.paused[kind]
	return ok && until.After(o.deps.Now())
}

// Blocked holds back items whose provider requires a paused class
func (o *Orchestrator) Blocked(item domain.WorkItem) (time.Time, bool) {
	p, ok := o.providers[item.Source]
	if !ok {
		return time.Time{}, false
	}
	req := p.Requirements()
	now := o.deps.Now()

	o.mu.Lock()
	defer o.mu.Unlock()
	var until time.Time
	check := func(kind domain.ResourceKind, need domain.Need) {
		if need != domain.NeedRequired {
			return
		}
		u, ok := o.paused[kind]
		if !ok {
			return
		}
		if !u.After(now) {
			delete(o.paused, kind)
			return
		}
		if u.After(until) {
			until = u
		}
	}
	check(domain.ResourceProxy, req.Proxy)
	check(domain.ResourceCredential, req.Credential)
	return until, !until.IsZero()
}

// Resume lifts a pause early, typically after resources were added
func (o *Orchestrator) Resume(kind domain.ResourceKind) {
	o.mu.Lock()
	_, was := o.paused[kind]
	delete(o.paused, kind)
	o.mu.Unlock()
	if was {
		o.log.Info().Str("kind", string(kind)).Msg("resource class resumed")
	}
	o.deps.Queue.Kick()
}

// AddResources grows a pool at runtime and resumes its class
func (o *Orchestrator) AddResources(kind domain.ResourceKind, values ...string) int {
	var pool *resources.Pool
	switch kind {
	case domain.ResourceProxy:
		pool = o.deps.Proxies
	case domain.ResourceCredential:
		pool = o.deps.Credentials
	}
	if pool == nil {
		return 0
	}
	n := pool.Add(values...)
	if n > 0 {
		o.Resume(kind)
	}
	return n
}
