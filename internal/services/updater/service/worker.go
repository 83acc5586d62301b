package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	perr "shinga/internal/platform/errors"
	"shinga/internal/platform/logger"
	"shinga/internal/services/updater/domain"
	"shinga/internal/services/updater/guardrails"
	"shinga/internal/services/updater/resources"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Stage is where a worker currently is in the pipeline
type Stage int32

// Worker stages
const (
	StageIdle Stage = iota
	StageCacheCheck
	StageLeaseAcquired
	StageRateGated
	StageFetching
	StageNormalizing
	StageMediaFetch
	StageStoring
)

var stageNames = [...]string{"idle", "cache_check", "lease_acquired", "rate_gated", "fetching", "normalizing", "media_fetch", "storing"}

// String returns the snake case stage name
func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

const maxErrLen = 512

func (o *Orchestrator) work(ctx context.Context, id int) {
	defer o.wg.Done()
	for ctx.Err() == nil {
		item, err := o.deps.Queue.Dequeue(ctx, o)
		if err != nil {
			return
		}
		o.inFlight.Add(1)
		o.process(ctx, id, item)
		o.inFlight.Add(-1)
		o.enter(id, StageIdle)
	}
}

func (o *Orchestrator) enter(id int, s Stage) {
	if id >= 0 && id < len(o.stages) {
		o.stages[id].Store(int32(s))
	}
}

// process runs one item to a disposition
// the item context is detached from shutdown so a drain lets it finish
func (o *Orchestrator) process(parent context.Context, id int, item domain.WorkItem) {
	ictx := logger.WithItem(logger.WithWorker(parent, id), string(item.Source), item.ExternalID)
	ctx, cancel := guardrails.Detached(ictx, o.cfg.Timeouts.Item)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.C(ctx).Error().Interface("panic", r).Msg("worker recovered from panic")
			o.fail(ctx, item, perr.PanicErrf("panic: %v", r))
		}
	}()

	p, ok := o.providers[item.Source]
	if !ok {
		o.deadLetter(ctx, item, domain.KindUnknown, item.RetryCount+1, perr.InvalidArgf("no provider for %s", item.Source))
		return
	}

	t, cached, err := o.obtain(ctx, id, p, item)
	if err != nil {
		o.fail(ctx, item, err)
		return
	}

	o.enter(id, StageMediaFetch)
	o.attachCover(ctx, &t)

	o.enter(id, StageStoring)
	err = o.withStorage(ctx, "upsert", func(c context.Context) error { return o.deps.Storage.Upsert(c, t) })
	if err != nil {
		o.fail(ctx, item, asStorage(err))
		return
	}

	o.deps.Queue.Done(item)
	o.stats.stored.Add(1)
	o.record(ctx, item, domain.OutcomeStored, domain.KindNone, item.RetryCount+1, 0, cached)
	logger.C(ctx).Debug().Str("title_id", t.ID).Bool("cached", cached).Int("retries", item.RetryCount).Msg("title stored")
}

// obtain returns the normalized title from the cache or the provider
func (o *Orchestrator) obtain(ctx context.Context, id int, p domain.SourceProvider, item domain.WorkItem) (domain.NormalizedTitle, bool, error) {
	key := item.Key()
	o.enter(id, StageCacheCheck)
	if t, ok := o.deps.Cache.Get(key); ok {
		o.stats.cacheHits.Add(1)
		return t, true, nil
	}

	leases, err := o.acquire(ctx, p.Requirements())
	if err != nil {
		return domain.NormalizedTitle{}, false, err
	}
	o.enter(id, StageLeaseAcquired)

	// a panicking provider must not keep the leases
	settled := false
	settle := func(out resources.Outcome) {
		settled = true
		o.release(leases, out)
	}
	defer func() {
		if !settled {
			o.release(leases, resources.Unused)
		}
	}()

	o.enter(id, StageRateGated)
	if err := o.deps.Limiter.Wait(ctx, item.Source); err != nil {
		settle(resources.Unused)
		return domain.NormalizedTitle{}, false, perr.Wrapf(err, perr.ErrorCodeUnavailable, "rate gate %s", item.Source)
	}

	o.enter(id, StageFetching)
	fctx, cancel := guardrails.ForFetch(ctx, o.cfg.Timeouts)
	defer cancel()
	raw, err := p.Fetch(fctx, item.ExternalID, leases)
	if err != nil {
		if domain.KindOf(err).ResourceFailure() {
			settle(resources.Failure)
		} else {
			settle(resources.Success)
		}
		return domain.NormalizedTitle{}, false, err
	}
	settle(resources.Success)

	o.enter(id, StageNormalizing)
	t, err := p.Normalize(raw)
	if err != nil {
		if perr.CodeOf(err) != perr.ErrorCodeParse {
			err = perr.Wrapf(err, perr.ErrorCodeParse, "normalize %s", key)
		}
		return domain.NormalizedTitle{}, false, err
	}
	if err := domain.Validate(t); err != nil {
		return domain.NormalizedTitle{}, false, err
	}
	t.ContentHash = domain.Fingerprint(t)
	o.deps.Cache.Put(key, t, o.cfg.CacheTTL)
	return t, false, nil
}

// attachCover stores the cover; failures leave the title without one
func (o *Orchestrator) attachCover(ctx context.Context, t *domain.NormalizedTitle) {
	if o.deps.Media == nil {
		return
	}
	src := t.Cover.Best()
	if src == "" {
		return
	}
	mctx, cancel := guardrails.ForMedia(ctx, o.cfg.Timeouts)
	asset, err := o.deps.Media.FetchAndStore(mctx, src)
	cancel()
	if err != nil {
		o.stats.mediaFailures.Add(1)
		logger.C(ctx).Warn().Err(err).Str("cover", src).Msg("cover skipped")
		return
	}
	t.CoverAsset = &asset
}

// acquire leases whatever the provider needs; an optional class that is
// paused or exhausted is skipped
func (o *Orchestrator) acquire(ctx context.Context, req domain.Requirements) (domain.Leases, error) {
	var ls domain.Leases
	proxy, err := o.lease(ctx, o.deps.Proxies, req.Proxy)
	if err != nil {
		return ls, err
	}
	ls.Proxy = proxy
	cred, err := o.lease(ctx, o.deps.Credentials, req.Credential)
	if err != nil {
		o.release(ls, resources.Unused)
		return domain.Leases{}, err
	}
	ls.Credential = cred
	return ls, nil
}

func (o *Orchestrator) lease(ctx context.Context, pool *resources.Pool, need domain.Need) (*domain.Lease, error) {
	if need == domain.NeedNone || poolLen(pool) == 0 {
		return nil, nil
	}
	if need == domain.NeedOptional && o.isPaused(pool.Kind()) {
		return nil, nil
	}
	l, err := pool.Acquire(ctx)
	if err != nil {
		if perr.IsCode(err, perr.ErrorCodeExhausted) {
			o.pause(pool)
			if need == domain.NeedOptional {
				return nil, nil
			}
			return nil, err
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "acquire %s", pool.Kind())
	}
	return &l, nil
}

func (o *Orchestrator) release(ls domain.Leases, out resources.Outcome) {
	if ls.Proxy != nil && o.deps.Proxies != nil {
		if err := o.deps.Proxies.Release(*ls.Proxy, out); err != nil {
			o.log.Warn().Err(err).Msg("release proxy lease")
		}
	}
	if ls.Credential != nil && o.deps.Credentials != nil {
		if err := o.deps.Credentials.Release(*ls.Credential, out); err != nil {
			o.log.Warn().Err(err).Msg("release credential lease")
		}
	}
}

// fail turns an error into a requeue or a terminal disposition
func (o *Orchestrator) fail(ctx context.Context, item domain.WorkItem, err error) {
	kind := domain.KindOf(err)
	attempts := item.RetryCount + 1
	item.LastError = trimErr(err)

	switch kind {
	case domain.KindNotFound:
		o.markMissing(ctx, item, attempts)

	case domain.KindExhausted:
		// not the item's fault; it waits behind the paused class
		o.requeue(ctx, item, kind, attempts, 0)

	case domain.KindStorage, domain.KindPanic:
		o.deadLetter(ctx, item, kind, attempts, err)

	case domain.KindParse:
		item.RetryCount++
		item.ParseFailures++
		if item.ParseFailures > o.cfg.ParseRetries {
			o.deadLetter(ctx, item, kind, attempts, err)
			return
		}
		o.requeue(ctx, item, kind, attempts, o.cfg.Backoff.Delay(item.ParseFailures-1))

	default:
		item.RetryCount++
		if item.RetryCount > o.cfg.MaxRetries {
			o.deadLetter(ctx, item, kind, attempts, err)
			return
		}
		delay := o.cfg.Backoff.Delay(item.RetryCount - 1)
		if kind.Transient() {
			delay = max(delay, perr.RetryAfterOf(err))
		}
		o.requeue(ctx, item, kind, attempts, delay)
	}
}

func (o *Orchestrator) requeue(ctx context.Context, item domain.WorkItem, kind domain.Kind, attempts int, delay time.Duration) {
	o.deps.Queue.Requeue(item, delay)
	o.stats.requeued.Add(1)
	o.record(ctx, item, domain.OutcomeRequeued, kind, attempts, delay, false)
	logger.C(ctx).Debug().
		Str("kind", string(kind)).
		Int("retries", item.RetryCount).
		Dur("delay", delay).
		Str("error", item.LastError).
		Msg("item requeued")
}

func (o *Orchestrator) markMissing(ctx context.Context, item domain.WorkItem, attempts int) {
	err := o.withStorage(ctx, "mark_missing", func(c context.Context) error {
		return o.deps.Storage.MarkMissing(c, item.Source, item.ExternalID)
	})
	if err != nil {
		o.deadLetter(ctx, item, domain.KindStorage, attempts, err)
		return
	}
	o.deps.Cache.Delete(item.Key())
	o.deps.Queue.Done(item)
	o.stats.missing.Add(1)
	o.record(ctx, item, domain.OutcomeMissing, domain.KindNotFound, attempts, 0, false)
	logger.C(ctx).Info().Msg("title missing upstream")
}

// deadLetter records a terminal failure; when storage refuses it the record
// is kept in memory and reported through Stats and Replay
func (o *Orchestrator) deadLetter(ctx context.Context, item domain.WorkItem, kind domain.Kind, attempts int, cause error) {
	d := domain.DeadLetter{
		ID:         uuid.New(),
		Source:     item.Source,
		ExternalID: item.ExternalID,
		Kind:       kind,
		Attempts:   attempts,
		LastError:  trimErr(cause),
		CreatedAt:  o.deps.Now(),
	}
	lg := logger.C(ctx)
	if err := o.withStorage(ctx, "dead_letter", func(c context.Context) error { return o.deps.Storage.DeadLetter(c, d) }); err != nil {
		lg.Error().Err(err).Bool("alert", true).Msg("dead letter not recorded, kept in memory")
		o.mu.Lock()
		o.unrecorded = append(o.unrecorded, d)
		o.mu.Unlock()
	}

	ev := lg.Warn()
	if kind == domain.KindStorage {
		ev = lg.Error().Bool("alert", true)
	}
	ev.Str("kind", string(kind)).Int("attempts", attempts).Str("error", d.LastError).Msg("item dead lettered")

	o.deps.Queue.Done(item)
	o.stats.dead.Add(1)
	o.record(ctx, item, domain.OutcomeDeadLettered, kind, attempts, 0, false)
}

func (o *Orchestrator) record(ctx context.Context, item domain.WorkItem, out domain.Outcome, kind domain.Kind, attempts int, delay time.Duration, cached bool) {
	d := domain.Disposition{
		Item:     item,
		Outcome:  out,
		Kind:     kind,
		Attempts: attempts,
		Delay:    delay,
		Cached:   cached,
		At:       o.deps.Now(),
	}
	if err := o.deps.Events.Record(ctx, d); err != nil {
		logger.C(ctx).Debug().Err(err).Msg("record disposition failed")
	}
}

// withStorage retries transient storage failures in place
func (o *Orchestrator) withStorage(ctx context.Context, op string, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.StorageRetryBase
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.cfg.StorageRetries)), ctx)

	call := func() error {
		dctx, cancel := guardrails.ForDB(ctx, o.cfg.Timeouts)
		defer cancel()
		err := fn(dctx)
		if err == nil {
			return nil
		}
		switch domain.KindOf(err) {
		case domain.KindStorage, domain.KindNetwork:
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		logger.C(ctx).Warn().Err(err).Str("op", op).Dur("wait", wait).Msg("storage call failed, retrying")
	}
	return backoff.RetryNotify(call, policy, notify)
}

func asStorage(err error) error {
	if domain.KindOf(err) == domain.KindStorage {
		return err
	}
	return perr.Wrap(err, perr.ErrorCodeDB, "store title")
}

func trimErr(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if len(s) <= maxErrLen {
		return s
	}
	cut := maxErrLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("... (%d bytes)", len(s))
}
