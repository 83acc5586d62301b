package service

import (
	"context"
	"errors"
	"slices"
	"time"

	perr "shinga/internal/platform/errors"
	"shinga/internal/platform/logger"
	"shinga/internal/services/updater/domain"
	"shinga/internal/services/updater/guardrails"
	"shinga/internal/services/updater/queue"
	"shinga/internal/services/updater/resources"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
)

func (o *Orchestrator) staleAfter(src domain.Source) time.Duration {
	if d, ok := o.cfg.StaleAfter[src]; ok && d > 0 {
		return d
	}
	return o.cfg.DefaultStaleAfter
}

func (o *Orchestrator) sources() []domain.Source {
	out := make([]domain.Source, 0, len(o.providers))
	for s := range o.providers {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// RefreshStale enqueues titles due for refresh and returns how many were queued
// An empty p.Source sweeps every source with its own staleness threshold
func (o *Orchestrator) RefreshStale(ctx context.Context, p domain.StaleParams) (int, error) {
	srcs := o.sources()
	if p.Source != "" {
		if _, ok := o.providers[p.Source]; !ok {
			return 0, perr.InvalidArgf("updater: no provider for %s", p.Source)
		}
		srcs = []domain.Source{p.Source}
	}
	total := 0
	for _, src := range srcs {
		n, err := o.refreshSource(ctx, src, p.Before, p.Limit)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (o *Orchestrator) refreshSource(ctx context.Context, src domain.Source, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = o.deps.Now().Add(-o.staleAfter(src))
	}
	if limit <= 0 {
		limit = o.cfg.SweepLimit
	}
	var items []domain.WorkItem
	err := o.withStorage(ctx, "list_stale", func(c context.Context) error {
		var err error
		items, err = o.deps.Storage.ListStaleWorkItems(c, domain.StaleParams{Source: src, Before: before, Limit: limit})
		return err
	})
	if err != nil {
		return 0, err
	}
	n := o.Enqueue(items...)
	logger.C(ctx).Debug().Str("source", string(src)).Int("stale", len(items)).Int("queued", n).Msg("stale titles queued")
	return n, nil
}

// Sweep refreshes every source once per minute slot; slots claimed by
// another instance are skipped
func (o *Orchestrator) Sweep(ctx context.Context) (int, error) {
	slot := o.deps.Now().UTC().Truncate(time.Minute)
	var (
		total int
		errs  []error
	)
	for _, src := range o.sources() {
		err := o.deps.Lease(ctx, src, slot, func(c context.Context) error {
			n, err := o.refreshSource(c, src, time.Time{}, 0)
			total += n
			return err
		})
		switch {
		case errors.Is(err, guardrails.ErrSweepHeld):
			o.log.Debug().Str("source", string(src)).Time("slot", slot).Msg("sweep slot held elsewhere")
		case err != nil:
			errs = append(errs, perr.Wrapf(err, perr.CodeOf(err), "sweep %s", src))
		}
	}
	return total, errors.Join(errs...)
}

// StartSweeps runs Sweep, and CheckProxies when a checker is set, on their
// cron schedules until ctx ends
func (o *Orchestrator) StartSweeps(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(o.cfg.SweepSchedule, func() {
		n, err := o.Sweep(ctx)
		if err != nil {
			o.log.Error().Err(err).Msg("stale sweep failed")
			return
		}
		if n > 0 {
			o.log.Info().Int("queued", n).Msg("stale sweep")
		}
	})
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "updater: bad sweep schedule %q", o.cfg.SweepSchedule)
	}
	if o.cfg.ProxyCheckSchedule != "" && o.deps.Checker != nil && o.deps.Proxies != nil {
		_, err = c.AddFunc(o.cfg.ProxyCheckSchedule, func() { o.CheckProxies(ctx) })
		if err != nil {
			return perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "updater: bad proxy check schedule %q", o.cfg.ProxyCheckSchedule)
		}
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

// Discover walks catalogue pages of a listing source and registers ids it
// has not seen; maxPages <= 0 walks until the last page
func (o *Orchestrator) Discover(ctx context.Context, source domain.Source, fromPage, maxPages int) (int, error) {
	p, ok := o.providers[source]
	if !ok {
		return 0, perr.InvalidArgf("updater: no provider for %s", source)
	}
	l, ok := p.(domain.Lister)
	if !ok {
		return 0, perr.InvalidArgf("updater: %s cannot list its catalogue", source)
	}
	if fromPage < 1 {
		fromPage = 1
	}
	lg := logger.C(ctx).With().Str("source", string(source)).Logger()

	total := 0
	for page := fromPage; maxPages <= 0 || page < fromPage+maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		pg, err := o.listPage(ctx, p, l, page)
		if err != nil {
			return total, perr.Wrapf(err, perr.CodeOf(err), "discover %s page %d", source, page)
		}
		if len(pg.IDs) > 0 {
			var added int
			err := o.withStorage(ctx, "discover", func(c context.Context) error {
				var err error
				added, err = o.deps.Storage.Discover(c, source, pg.IDs...)
				return err
			})
			if err != nil {
				return total, err
			}
			total += added
			lg.Debug().Int("page", page).Int("ids", len(pg.IDs)).Int("new", added).Msg("catalogue page")
		}
		if !pg.HasNext {
			break
		}
	}
	lg.Info().Int("new", total).Msg("discovery finished")
	return total, nil
}

// listPage fetches one catalogue page, retrying transient failures
func (o *Orchestrator) listPage(ctx context.Context, p domain.SourceProvider, l domain.Lister, page int) (domain.Page, error) {
	var out domain.Page
	call := func() error {
		leases, err := o.acquire(ctx, p.Requirements())
		if err != nil {
			return retryable(err)
		}
		if err := o.deps.Limiter.Wait(ctx, p.Source()); err != nil {
			o.release(leases, resources.Unused)
			return backoff.Permanent(err)
		}
		fctx, cancel := guardrails.ForFetch(ctx, o.cfg.Timeouts)
		pg, err := l.ListPage(fctx, page, leases)
		cancel()
		if err != nil {
			if domain.KindOf(err).ResourceFailure() {
				o.release(leases, resources.Failure)
			} else {
				o.release(leases, resources.Success)
			}
			return retryable(err)
		}
		o.release(leases, resources.Success)
		out = pg
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(&queueBackOff{b: o.cfg.Backoff}, uint64(o.cfg.MaxRetries)), ctx)
	notify := func(err error, wait time.Duration) {
		logger.C(ctx).Warn().Err(err).Int("page", page).Dur("wait", wait).Msg("catalogue page failed, retrying")
	}
	return out, backoff.RetryNotify(call, policy, notify)
}

func retryable(err error) error {
	switch domain.KindOf(err) {
	case domain.KindNetwork, domain.KindRateLimited, domain.KindExhausted:
		return err
	}
	return backoff.Permanent(err)
}

// queueBackOff adapts the requeue schedule to backoff.BackOff
type queueBackOff struct {
	b queue.Backoff
	n int
}

func (q *queueBackOff) NextBackOff() time.Duration {
	d := q.b.Delay(q.n)
	q.n++
	return d
}

func (q *queueBackOff) Reset() { q.n = 0 }

// Replay puts dead letters back on the queue with a fresh retry budget and
// deletes each one once queued; in memory dead letters go first
func (o *Orchestrator) Replay(ctx context.Context, limit int) (int, error) {
	o.mu.Lock()
	mem := o.unrecorded
	o.unrecorded = nil
	o.mu.Unlock()

	n := 0
	for _, d := range mem {
		n += o.Enqueue(domain.WorkItem{Source: d.Source, ExternalID: d.ExternalID})
	}

	var letters []domain.DeadLetter
	err := o.withStorage(ctx, "list_dead_letters", func(c context.Context) error {
		var err error
		letters, err = o.deps.Storage.ListDeadLetters(c, limit)
		return err
	})
	if err != nil {
		return n, err
	}
	for _, d := range letters {
		if o.Enqueue(domain.WorkItem{Source: d.Source, ExternalID: d.ExternalID}) == 0 {
			continue
		}
		n++
		err := o.withStorage(ctx, "delete_dead_letter", func(c context.Context) error {
			return o.deps.Storage.DeleteDeadLetter(c, d.ID)
		})
		if err != nil && !perr.IsCode(err, perr.ErrorCodeNotFound) {
			return n, err
		}
	}
	o.log.Info().Int("replayed", n).Msg("dead letters replayed")
	return n, nil
}
