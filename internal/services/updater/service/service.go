// Package service runs the title refresh pipeline
//
// An Orchestrator owns a fixed set of workers that pull items from the work
// queue, lease proxies and credentials, pass the per source rate gate, fetch
// and normalize through the source's provider, attach the cover and persist
// the result. Every item ends stored, missing or dead lettered; transient
// failures go back on the queue with backoff
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	perr "shinga/internal/platform/errors"
	"shinga/internal/platform/logger"
	"shinga/internal/services/updater/cache"
	"shinga/internal/services/updater/domain"
	"shinga/internal/services/updater/guardrails"
	"shinga/internal/services/updater/queue"
	"shinga/internal/services/updater/ratelimit"
	"shinga/internal/services/updater/repo"
	"shinga/internal/services/updater/resources"

	"github.com/google/uuid"
)

// State is the orchestrator lifecycle state
type State int32

// Lifecycle states
const (
	StateStopped State = iota
	StateRunning
	StateDraining
)

// String returns the lowercase state name
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

// Config carries the pipeline knobs
type Config struct {
	Workers          int
	MaxRetries       int
	ParseRetries     int
	StorageRetries   int
	// StorageRetryBase is the first in place storage retry delay
	StorageRetryBase time.Duration
	Backoff          queue.Backoff
	CacheTTL         time.Duration
	PauseRecheck     time.Duration
	Timeouts         guardrails.Timeouts

	// StaleAfter overrides DefaultStaleAfter per source
	StaleAfter        map[domain.Source]time.Duration
	DefaultStaleAfter time.Duration

	SweepSchedule string
	SweepLimit    int

	// ProxyCheckSchedule runs CheckProxies on a cron spec; empty disables it
	ProxyCheckSchedule string

	RunID string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.ParseRetries <= 0 {
		c.ParseRetries = 2
	}
	if c.StorageRetries <= 0 {
		c.StorageRetries = 3
	}
	if c.StorageRetryBase <= 0 {
		c.StorageRetryBase = 100 * time.Millisecond
	}
	if c.PauseRecheck <= 0 {
		c.PauseRecheck = 30 * time.Second
	}
	if c.Timeouts == (guardrails.Timeouts{}) {
		c.Timeouts = guardrails.Defaults()
	}
	if c.DefaultStaleAfter <= 0 {
		c.DefaultStaleAfter = 72 * time.Hour
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = "@every 10m"
	}
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	return c
}

// Deps are the shared structures the workers use
// Proxies, Credentials, Media, Events, Registry, Lease and Checker are optional
type Deps struct {
	Providers   []domain.SourceProvider
	Storage     domain.Storage
	Queue       *queue.Queue
	Limiter     *ratelimit.Limiter
	Cache       *cache.Results
	Proxies     *resources.Pool
	Credentials *resources.Pool
	Media       domain.MediaFetcher
	Events      domain.EventSink
	Registry    domain.ResourceRegistry
	Lease       guardrails.SweepLease
	Checker     domain.ProxyChecker

	Now func() time.Time
}

// Stats is a point in time view of the pipeline
type Stats struct {
	RunID         string                                  `json:"run_id"`
	State         string                                  `json:"state"`
	Workers       int                                     `json:"workers"`
	InFlight      int64                                   `json:"in_flight"`
	Queued        int                                     `json:"queued"`
	Stored        int64                                   `json:"stored"`
	Missing       int64                                   `json:"missing"`
	DeadLettered  int64                                   `json:"dead_lettered"`
	Requeued      int64                                   `json:"requeued"`
	CacheHits     int64                                   `json:"cache_hits"`
	MediaFailures int64                                   `json:"media_failures"`
	Unrecorded    int                                     `json:"unrecorded_dead_letters"`
	Paused        map[domain.ResourceKind]time.Time       `json:"paused,omitempty"`
	Pools         map[domain.ResourceKind]resources.Stats `json:"pools,omitempty"`
	Stages        map[string]int                          `json:"stages,omitempty"`
}

type counters struct {
	stored, missing, dead, requeued, cacheHits, mediaFailures atomic.Int64
}

// Orchestrator drives the workers; see the package comment
type Orchestrator struct {
	cfg       Config
	deps      Deps
	providers map[domain.Source]domain.SourceProvider
	log       logger.Logger

	state    atomic.Int32
	workers  int
	stages   []atomic.Int32
	inFlight atomic.Int64
	stats    counters

	mu         sync.Mutex
	paused     map[domain.ResourceKind]time.Time
	unrecorded []domain.DeadLetter

	lifeMu  sync.Mutex
	started bool
	stop    context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

var (
	_ domain.WorkerPort     = (*Orchestrator)(nil)
	_ domain.RefresherPort  = (*Orchestrator)(nil)
	_ domain.DiscovererPort = (*Orchestrator)(nil)
	_ domain.ReplayPort     = (*Orchestrator)(nil)
	_ domain.BatchPort      = (*Orchestrator)(nil)
	_ queue.Gate            = (*Orchestrator)(nil)
)

// New validates the wiring and builds an orchestrator
// a provider that requires a resource class with no pool or an empty pool is
// a configuration error
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	if deps.Storage == nil {
		return nil, perr.InvalidArgf("updater: storage is required")
	}
	if len(deps.Providers) == 0 {
		return nil, perr.InvalidArgf("updater: at least one provider is required")
	}
	if deps.Queue == nil {
		deps.Queue = queue.New()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New()
	}
	if deps.Cache == nil {
		deps.Cache = cache.New(0, cfg.CacheTTL)
	}
	if deps.Events == nil {
		deps.Events = repo.NoopEvents{}
	}
	if deps.Lease == nil {
		deps.Lease = guardrails.NoLease
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	o := &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		providers: make(map[domain.Source]domain.SourceProvider, len(deps.Providers)),
		log:       logger.Named("updater").With().Str("run_id", cfg.RunID).Logger(),
		paused:    make(map[domain.ResourceKind]time.Time),
		done:      make(chan struct{}),
	}
	for _, p := range deps.Providers {
		if _, dup := o.providers[p.Source()]; dup {
			return nil, perr.InvalidArgf("updater: duplicate provider for %s", p.Source())
		}
		req := p.Requirements()
		if req.Proxy == domain.NeedRequired && poolLen(deps.Proxies) == 0 {
			return nil, perr.InvalidArgf("updater: %s requires proxies but none are configured", p.Source())
		}
		if req.Credential == domain.NeedRequired && poolLen(deps.Credentials) == 0 {
			return nil, perr.InvalidArgf("updater: %s requires credentials but none are configured", p.Source())
		}
		o.providers[p.Source()] = p
	}
	return o, nil
}

func poolLen(p *resources.Pool) int {
	if p == nil {
		return 0
	}
	return p.Len()
}

// Start launches n workers (Config.Workers when n <= 0)
// cancelling ctx has the same effect as RequestShutdown
func (o *Orchestrator) Start(ctx context.Context, n int) error {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()
	if o.started {
		return perr.Conflictf("updater: already started")
	}
	o.started = true
	if n <= 0 {
		n = o.cfg.Workers
	}
	o.workers = n
	o.stages = make([]atomic.Int32, n)

	ctx = logger.WithRun(ctx, o.cfg.RunID)
	runCtx, stop := context.WithCancel(ctx)
	o.stop = stop
	o.state.Store(int32(StateRunning))
	o.log.Info().Int("workers", n).Int("queued", o.deps.Queue.Len()).Msg("updater started")

	for i := range n {
		o.wg.Add(1)
		go o.work(runCtx, i)
	}
	go func() {
		<-runCtx.Done()
		o.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
		o.wg.Wait()
		o.finish(context.WithoutCancel(ctx))
	}()
	return nil
}

// RequestShutdown stops dequeuing and blocks until in flight items finish
func (o *Orchestrator) RequestShutdown() {
	o.lifeMu.Lock()
	if !o.started {
		o.started = true
		o.lifeMu.Unlock()
		o.state.Store(int32(StateStopped))
		close(o.done)
		return
	}
	stop := o.stop
	o.lifeMu.Unlock()
	if stop == nil {
		<-o.done
		return
	}

	stop()
	o.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
	<-o.done
}

// Idle blocks until the orchestrator has fully stopped
func (o *Orchestrator) Idle() { <-o.done }

// Done is closed once the orchestrator has fully stopped
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Run is the long lived mode: the configured workers plus scheduled stale
// sweeps, starting with one immediate sweep. It blocks until ctx ends and
// the drain completes
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.StartSweeps(ctx); err != nil {
		return err
	}
	if err := o.Start(ctx, 0); err != nil {
		return err
	}
	if n, err := o.Sweep(ctx); err != nil {
		o.log.Error().Err(err).Msg("initial stale sweep failed")
	} else {
		o.log.Info().Int("queued", n).Msg("initial stale sweep")
	}
	o.Idle()
	return nil
}

// RunUntilEmpty starts the workers, waits for the queue to empty (delayed
// retries included) and drains; used by the one shot CLI modes
func (o *Orchestrator) RunUntilEmpty(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	if err := o.Start(ctx, 0); err != nil {
		return err
	}
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		select {
		case <-o.done:
			return ctx.Err()
		case <-t.C:
			if o.deps.Queue.Len() == 0 && o.deps.Queue.Held() == 0 {
				o.RequestShutdown()
				return nil
			}
		}
	}
}

// finish flushes events and persists pool health once every worker has exited
func (o *Orchestrator) finish(ctx context.Context) {
	if f, ok := o.deps.Events.(interface{ Flush(context.Context) error }); ok {
		fctx, cancel := guardrails.ForDB(ctx, o.cfg.Timeouts)
		if err := f.Flush(fctx); err != nil {
			o.log.Warn().Err(err).Msg("flush disposition events failed")
		}
		cancel()
	}
	o.persistPools(ctx)

	o.state.Store(int32(StateStopped))
	s := o.Stats()
	o.log.Info().
		Int64("stored", s.Stored).
		Int64("missing", s.Missing).
		Int64("dead_lettered", s.DeadLettered).
		Int64("requeued", s.Requeued).
		Int("queued", s.Queued).
		Msg("updater stopped")
	close(o.done)
}

// State returns the lifecycle state
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Enqueue adds items to the queue; returns how many were accepted
func (o *Orchestrator) Enqueue(items ...domain.WorkItem) int {
	n := 0
	for _, it := range items {
		if it.ExternalID == "" {
			continue
		}
		if _, ok := o.providers[it.Source]; !ok {
			o.log.Warn().Str("source", string(it.Source)).Str("external_id", it.ExternalID).Msg("no provider for item, skipped")
			continue
		}
		if it.StaleSince.IsZero() {
			it.StaleSince = o.deps.Now()
		}
		o.deps.Queue.Enqueue(it)
		n++
	}
	return n
}

// Stats reports counters, queue depth, pauses and pool health
func (o *Orchestrator) Stats() Stats {
	s := Stats{
		RunID:         o.cfg.RunID,
		State:         o.State().String(),
		Workers:       o.workers,
		InFlight:      o.inFlight.Load(),
		Queued:        o.deps.Queue.Len(),
		Stored:        o.stats.stored.Load(),
		Missing:       o.stats.missing.Load(),
		DeadLettered:  o.stats.dead.Load(),
		Requeued:      o.stats.requeued.Load(),
		CacheHits:     o.stats.cacheHits.Load(),
		MediaFailures: o.stats.mediaFailures.Load(),
		Pools:         map[domain.ResourceKind]resources.Stats{},
	}
	now := o.deps.Now()
	if len(o.stages) > 0 {
		s.Stages = make(map[string]int)
		for i := range o.stages {
			s.Stages[Stage(o.stages[i].Load()).String()]++
		}
	}
	o.mu.Lock()
	s.Unrecorded = len(o.unrecorded)
	for k, until := range o.paused {
		if until.After(now) {
			if s.Paused == nil {
				s.Paused = map[domain.ResourceKind]time.Time{}
			}
			s.Paused[k] = until
		}
	}
	o.mu.Unlock()
	for _, p := range []*resources.Pool{o.deps.Proxies, o.deps.Credentials} {
		if p != nil {
			s.Pools[p.Kind()] = p.Stats()
		}
	}
	return s
}

// Unrecorded returns dead letters the storage refused; they are replayed from memory
func (o *Orchestrator) Unrecorded() []domain.DeadLetter {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.DeadLetter(nil), o.unrecorded...)
}

func (o *Orchestrator) persistPools(ctx context.Context) {
	if o.deps.Registry == nil {
		return
	}
	for _, p := range []*resources.Pool{o.deps.Proxies, o.deps.Credentials} {
		if p == nil {
			continue
		}
		for _, r := range p.Snapshot() {
			dctx, cancel := guardrails.ForDB(ctx, o.cfg.Timeouts)
			err := o.deps.Registry.SaveResource(dctx, r)
			cancel()
			if err != nil {
				o.log.Warn().Err(err).Str("kind", string(r.Kind)).Msg("persist resource failed")
				break
			}
		}
	}
}
