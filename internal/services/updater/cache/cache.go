// Package cache keeps recently normalized titles so repeated work skips the network
package cache

import (
	"time"

	"shinga/internal/services/updater/domain"

	"github.com/maypok86/otter"
)

// Results is a bounded TTL cache of normalized titles keyed by "SOURCE|id"
// entries carry their own deadline so expiry does not depend on the
// backing cache's coarse clock
type Results struct {
	cache otter.CacheWithVariableTTL[string, entry]
	ttl   time.Duration
	now   func() time.Time
}

type entry struct {
	title     domain.NormalizedTitle
	expiresAt time.Time
}

// Option mutates Results during New
type Option func(*Results)

// WithClock swaps the time source used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(r *Results) { r.now = now }
}

// New builds a cache bounded to size entries with a default ttl
func New(size int, ttl time.Duration, opts ...Option) *Results {
	if size <= 0 {
		size = 10_000
	}
	c, err := otter.MustBuilder[string, entry](size).
		WithVariableTTL().
		Build()
	if err != nil {
		panic("cache: failed to build results cache: " + err.Error())
	}
	r := &Results{cache: c, ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Get returns a live entry; expired entries are dropped and reported as misses
func (r *Results) Get(key string) (domain.NormalizedTitle, bool) {
	e, ok := r.cache.Get(key)
	if !ok {
		return domain.NormalizedTitle{}, false
	}
	if !r.now().Before(e.expiresAt) {
		r.cache.Delete(key)
		return domain.NormalizedTitle{}, false
	}
	return e.title, true
}

// Put stores value under key, last write wins; ttl <= 0 uses the default
func (r *Results) Put(key string, value domain.NormalizedTitle, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	if ttl <= 0 {
		return
	}
	// the backing cache rounds to whole seconds, keep it at least as long as ours
	r.cache.Set(key, entry{title: value, expiresAt: r.now().Add(ttl)}, ttl+time.Second)
}

// Delete drops key
func (r *Results) Delete(key string) { r.cache.Delete(key) }

// Len returns the number of stored entries, expired ones included until evicted
func (r *Results) Len() int { return r.cache.Size() }

// Close stops the backing cache's background goroutines
func (r *Results) Close() { r.cache.Close() }
