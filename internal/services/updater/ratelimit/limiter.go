// Package ratelimit paces outbound calls per source with sliding window ceilings
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shinga/internal/services/updater/domain"

	"github.com/puzpuzpuz/xsync/v4"
)

// Window allows at most Ceiling grants in any span of Per
type Window struct {
	Ceiling int
	Per     time.Duration
}

func (w Window) String() string { return fmt.Sprintf("%d/%s", w.Ceiling, w.Per) }

// Limiter hands out send slots per source
//
// Each caller reserves the earliest slot that keeps every window under its
// ceiling and is not earlier than the previous reservation, then sleeps
// outside the lock. Slots are granted in arrival order
type Limiter struct {
	sources *xsync.Map[domain.Source, *sourceLimit]
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option mutates a Limiter during New
type Option func(*Limiter)

// WithClock swaps the time source and the sleeper, used by tests
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// New returns a limiter with no configured sources
func New(opts ...Option) *Limiter {
	l := &Limiter{
		sources: xsync.NewMap[domain.Source, *sourceLimit](),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Configure replaces the windows for source; no windows removes the limit
func (l *Limiter) Configure(source domain.Source, windows ...Window) {
	var ws []Window
	for _, w := range windows {
		if w.Ceiling > 0 && w.Per > 0 {
			ws = append(ws, w)
		}
	}
	if len(ws) == 0 {
		l.sources.Delete(source)
		return
	}
	l.sources.Store(source, newSourceLimit(ws))
}

// Windows returns the active windows for source
func (l *Limiter) Windows(source domain.Source) []Window {
	sl, ok := l.sources.Load(source)
	if !ok {
		return nil
	}
	return append([]Window(nil), sl.windows...)
}

// Wait blocks until source may send; unconfigured sources pass through
// a cancelled wait still consumes its slot so ceilings hold under churn
func (l *Limiter) Wait(ctx context.Context, source domain.Source) error {
	d := l.Reserve(source)
	if d <= 0 {
		return ctx.Err()
	}
	return l.sleep(ctx, d)
}

// Reserve books the next slot for source and returns how long to wait for it
func (l *Limiter) Reserve(source domain.Source) time.Duration {
	slot, now, ok := l.reserveAt(source)
	if !ok {
		return 0
	}
	return slot.Sub(now)
}

func (l *Limiter) reserveAt(source domain.Source) (slot, now time.Time, ok bool) {
	sl, ok := l.sources.Load(source)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	now = l.now()
	return sl.reserve(now), now, true
}

type sourceLimit struct {
	mu      sync.Mutex
	windows []Window
	grants  [][]time.Time // per window, the last Ceiling slots in order
	last    time.Time
}

func newSourceLimit(ws []Window) *sourceLimit {
	g := make([][]time.Time, len(ws))
	for i, w := range ws {
		g[i] = make([]time.Time, 0, w.Ceiling)
	}
	return &sourceLimit{windows: ws, grants: g}
}

func (s *sourceLimit) reserve(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := now
	if s.last.After(slot) {
		slot = s.last
	}
	for i, w := range s.windows {
		if g := s.grants[i]; len(g) == w.Ceiling {
			if earliest := g[0].Add(w.Per); earliest.After(slot) {
				slot = earliest
			}
		}
	}
	for i, w := range s.windows {
		g := s.grants[i]
		if len(g) == w.Ceiling {
			g = append(g[:0], g[1:]...)
		}
		s.grants[i] = append(g, slot)
	}
	s.last = slot
	return slot
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
