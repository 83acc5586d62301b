// Package queue holds the de-duplicated refresh backlog
//
// Items are keyed by source and external id. Ready items come out oldest
// StaleSince first; requeued items wait out their delay in a second heap.
// An item handed to a worker is held until Requeue or Done, and enqueues
// for a held key are parked and folded in when the worker lets go.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	perr "shinga/internal/platform/errors"
	"shinga/internal/services/updater/domain"
)

// ErrClosed is returned by Dequeue once Close was called
var ErrClosed = perr.New(perr.ErrorCodeUnavailable, "queue closed")

// Gate lets the caller hold back items whose resources are paused
// blocked items stay queued; until is when to look again
type Gate interface {
	Blocked(item domain.WorkItem) (until time.Time, blocked bool)
}

// GateFunc adapts a function to Gate
type GateFunc func(domain.WorkItem) (time.Time, bool)

// Blocked implements Gate
func (f GateFunc) Blocked(item domain.WorkItem) (time.Time, bool) { return f(item) }

// recheck is how soon a blocked item without an explicit until is retried
const recheck = 50 * time.Millisecond

type entry struct {
	item    domain.WorkItem
	readyAt time.Time
	delayed bool
	index   int
}

type held struct {
	deferred *domain.WorkItem
}

// Queue is safe for concurrent use
type Queue struct {
	mu      sync.Mutex
	now     func() time.Time
	pending map[string]*entry
	held    map[string]*held
	ready   readyHeap
	delayed delayHeap
	closed  bool
	wake    chan struct{}
}

// New returns an empty open queue
func New() *Queue {
	return &Queue{
		now:     time.Now,
		pending: map[string]*entry{},
		held:    map[string]*held{},
		wake:    make(chan struct{}),
	}
}

// Enqueue adds item or merges it into the pending or held entry for its key
func (q *Queue) Enqueue(item domain.WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := item.Key()
	if h, ok := q.held[key]; ok {
		if h.deferred == nil {
			cp := item
			h.deferred = &cp
		} else if item.StaleSince.Before(h.deferred.StaleSince) {
			h.deferred.StaleSince = item.StaleSince
		}
		return
	}
	if e, ok := q.pending[key]; ok {
		q.mergeLocked(e, item)
		return
	}
	q.insertLocked(item, q.now())
}

// Requeue returns a held item to the queue, eligible after delay
func (q *Queue) Requeue(item domain.WorkItem, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := item.Key()
	if h, ok := q.held[key]; ok {
		delete(q.held, key)
		if h.deferred != nil && h.deferred.StaleSince.Before(item.StaleSince) {
			item.StaleSince = h.deferred.StaleSince
		}
	}
	if delay < 0 {
		delay = 0
	}
	readyAt := q.now().Add(delay)
	if e, ok := q.pending[key]; ok {
		// someone re-added it while it was not held; the later ready time wins
		q.mergeLocked(e, item)
		if readyAt.After(e.readyAt) {
			q.moveLocked(e, readyAt)
		}
		return
	}
	q.insertLocked(item, readyAt)
}

// Done releases a held item; a parked enqueue for it becomes ready now
func (q *Queue) Done(item domain.WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := item.Key()
	h, ok := q.held[key]
	if !ok {
		return
	}
	delete(q.held, key)
	if h.deferred != nil {
		q.insertLocked(*h.deferred, q.now())
		return
	}
	q.broadcastLocked()
}

// Dequeue blocks until an unblocked item is ready, ctx ends or the queue closes
func (q *Queue) Dequeue(ctx context.Context, gate Gate) (domain.WorkItem, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return domain.WorkItem{}, ErrClosed
		}
		now := q.now()
		q.promoteLocked(now)
		item, ok, next := q.takeLocked(now, gate)
		if ok {
			q.held[item.Key()] = &held{}
			q.mu.Unlock()
			return item, nil
		}
		wake := q.wake
		q.mu.Unlock()

		var (
			t     *time.Timer
			timer <-chan time.Time
		)
		if !next.IsZero() {
			t = time.NewTimer(max(next.Sub(now), time.Millisecond))
			timer = t.C
		}
		select {
		case <-ctx.Done():
			if t != nil {
				t.Stop()
			}
			return domain.WorkItem{}, ctx.Err()
		case <-wake:
		case <-timer:
		}
		if t != nil {
			t.Stop()
		}
	}
}

// Kick wakes blocked Dequeue calls, used when a gate opens early
func (q *Queue) Kick() {
	q.mu.Lock()
	q.broadcastLocked()
	q.mu.Unlock()
}

// Close makes Dequeue return ErrClosed; queued items are kept
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

// Len counts queued items, ready or delayed, excluding held ones
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Held counts items currently handed out
func (q *Queue) Held() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.held)
}

// Pending returns a copy of the queued items in no particular order
func (q *Queue) Pending() []domain.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.WorkItem, 0, len(q.pending))
	for _, e := range q.pending {
		out = append(out, e.item)
	}
	return out
}

// takeLocked pops the oldest ready item the gate lets through
// next is the earliest time anything may change, zero when only a signal can help
func (q *Queue) takeLocked(now time.Time, gate Gate) (domain.WorkItem, bool, time.Time) {
	var (
		skipped []*entry
		next    time.Time
	)
	defer func() {
		for _, e := range skipped {
			heap.Push(&q.ready, e)
		}
	}()

	for q.ready.Len() > 0 {
		e := heap.Pop(&q.ready).(*entry)
		if gate != nil {
			if until, blocked := gate.Blocked(e.item); blocked {
				if !until.After(now) {
					until = now.Add(recheck)
				}
				next = earliest(next, until)
				skipped = append(skipped, e)
				continue
			}
		}
		delete(q.pending, e.item.Key())
		return e.item, true, time.Time{}
	}
	if q.delayed.Len() > 0 {
		next = earliest(next, q.delayed[0].readyAt)
	}
	return domain.WorkItem{}, false, next
}

// promoteLocked moves delayed entries whose time has come to the ready heap
func (q *Queue) promoteLocked(now time.Time) {
	for q.delayed.Len() > 0 && !q.delayed[0].readyAt.After(now) {
		e := heap.Pop(&q.delayed).(*entry)
		e.delayed = false
		heap.Push(&q.ready, e)
	}
}

func (q *Queue) insertLocked(item domain.WorkItem, readyAt time.Time) {
	e := &entry{item: item, readyAt: readyAt}
	q.pending[item.Key()] = e
	if readyAt.After(q.now()) {
		e.delayed = true
		heap.Push(&q.delayed, e)
	} else {
		heap.Push(&q.ready, e)
	}
	q.broadcastLocked()
}

// mergeLocked keeps the earlier StaleSince; ready time and counters stay
func (q *Queue) mergeLocked(e *entry, item domain.WorkItem) {
	if !item.StaleSince.Before(e.item.StaleSince) {
		return
	}
	e.item.StaleSince = item.StaleSince
	if !e.delayed {
		heap.Fix(&q.ready, e.index)
	}
}

func (q *Queue) moveLocked(e *entry, readyAt time.Time) {
	if e.delayed {
		heap.Remove(&q.delayed, e.index)
	} else {
		heap.Remove(&q.ready, e.index)
	}
	e.readyAt = readyAt
	e.delayed = true
	heap.Push(&q.delayed, e)
}

func (q *Queue) broadcastLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func earliest(a, b time.Time) time.Time {
	if a.IsZero() || b.Before(a) {
		return b
	}
	return a
}
