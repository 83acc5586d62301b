// Package module wires the title updater and exposes its ports
package module

import (
	"context"
	"time"

	"shinga/internal/adapters/ingest/mal"
	"shinga/internal/adapters/ingest/remanga"
	"shinga/internal/adapters/ingest/shikimori"
	"shinga/internal/adapters/ingest/sourcehttp"
	"shinga/internal/modkit"
	"shinga/internal/modkit/repokit"
	perr "shinga/internal/platform/errors"
	"shinga/internal/platform/logger"
	"shinga/internal/services/updater/cache"
	"shinga/internal/services/updater/domain"
	"shinga/internal/services/updater/guardrails"
	"shinga/internal/services/updater/media"
	"shinga/internal/services/updater/queue"
	"shinga/internal/services/updater/ratelimit"
	"shinga/internal/services/updater/repo"
	"shinga/internal/services/updater/resources"
	"shinga/internal/services/updater/service"

	"github.com/samber/lo"
)

var (
	_ modkit.Module = (*Module)(nil)
	_ modkit.Closer = (*Module)(nil)
)

// Module defines the updater module
type Module struct {
	deps     modkit.Deps
	opts     Options
	log      logger.Logger
	storage  domain.Storage
	registry *repo.Registry
	cache    *cache.Results
	limiter  *ratelimit.Limiter
	orch     *service.Orchestrator
	ports    Ports

	// forget sees proxies as they are blacklisted
	forget []domain.ProxyForgetter
}

// New constructs the updater module
// defaults come from config, overrides from the CLI; any error here is a
// configuration error and should stop the process
func New(deps modkit.Deps, overrides Options) (*Module, error) {
	opts := FromConfig(deps.Cfg).merge(overrides)
	opts, err := loadSources(opts.SourcesFile, opts)
	if err != nil {
		return nil, err
	}
	if deps.PG == nil {
		return nil, perr.InvalidArgf("updater: postgres is required")
	}

	m := &Module{
		deps:    deps,
		opts:    opts,
		log:     deps.Named("updater"),
		storage: repokit.MustBind(repo.NewPG(), deps.PG),
	}
	if deps.Lite != nil {
		m.registry = repo.NewRegistry(deps.Lite)
		ctx, cancel := context.WithTimeout(context.Background(), opts.DBTimeout)
		err := m.registry.Init(ctx)
		cancel()
		if err != nil {
			return nil, err
		}
	}

	providers, err := buildProviders(opts)
	if err != nil {
		return nil, err
	}

	m.limiter = ratelimit.New()
	staleAfter := map[domain.Source]time.Duration{}
	for _, p := range providers {
		if f, ok := p.(domain.ProxyForgetter); ok {
			m.forget = append(m.forget, f)
		}
		so := opts.Sources[p.Source()]
		m.limiter.Configure(p.Source(),
			ratelimit.Window{Ceiling: so.RPS, Per: time.Second},
			ratelimit.Window{Ceiling: so.RPM, Per: time.Minute},
		)
		if so.StaleAfter > 0 {
			staleAfter[p.Source()] = so.StaleAfter
		}
	}

	m.cache = cache.New(opts.CacheSize, opts.CacheTTL)

	sdeps := service.Deps{
		Providers:   providers,
		Storage:     m.storage,
		Queue:       queue.New(),
		Limiter:     m.limiter,
		Cache:       m.cache,
		Proxies:     m.pool(domain.ResourceProxy, opts.Proxies, resources.DefaultProxyLimits()),
		Credentials: m.pool(domain.ResourceCredential, opts.Credentials, nil),
		Lease:       guardrails.MakeSweepLease(deps.PG),
	}
	if m.registry != nil {
		sdeps.Registry = m.registry
	}
	if opts.ProxyCheckSchedule != "" && sdeps.Proxies != nil && sdeps.Proxies.Len() > 0 {
		checker, err := sourcehttp.New(sourcehttp.Options{
			Name:      "proxy-check",
			BaseURL:   opts.ProxyCheckURL,
			UserAgent: opts.UserAgent,
			Timeout:   opts.FetchTimeout,
		})
		if err != nil {
			return nil, err
		}
		sdeps.Checker = checker
		m.forget = append(m.forget, checker)
	}
	if deps.CH != nil {
		sdeps.Events = repo.NewEvents(deps.CH, opts.EventsBatch)
	}
	if opts.MediaEnabled && opts.MediaRoot != "" {
		sdeps.Media = media.New(media.Config{
			MaxBytes:     opts.MediaMaxBytes,
			AllowedTypes: opts.MediaTypes,
			Timeout:      opts.MediaTimeout,
			UserAgent:    opts.UserAgent,
			HostRPS:      opts.MediaRPS,
			HostBurst:    opts.MediaBurst,
		}, media.NewOsStore(opts.MediaRoot, opts.MediaPublicBase), nil)
	}

	m.orch, err = service.New(service.Config{
		Workers:            opts.Workers,
		MaxRetries:         opts.MaxRetries,
		ParseRetries:       opts.ParseRetries,
		StorageRetries:     opts.StorageRetries,
		Backoff:            queue.Backoff{Base: opts.RetryBase, Cap: opts.RetryCap},
		CacheTTL:           opts.CacheTTL,
		PauseRecheck:       opts.PauseRecheck,
		Timeouts:           guardrails.Timeouts{Item: opts.ItemTimeout, Fetch: opts.FetchTimeout, Media: opts.MediaTimeout, DB: opts.DBTimeout},
		StaleAfter:         staleAfter,
		DefaultStaleAfter:  opts.StaleAfter,
		SweepSchedule:      opts.SweepSchedule,
		SweepLimit:         opts.SweepLimit,
		ProxyCheckSchedule: opts.ProxyCheckSchedule,
	}, sdeps)
	if err != nil {
		m.cache.Close()
		return nil, err
	}

	m.ports = Ports{
		Worker:     m.orch,
		Refresher:  m.orch,
		Discoverer: m.orch,
		Replay:     m.orch,
		Batch:      m.orch,
	}
	m.log.Info().
		Strs("sources", lo.Map(providers, func(p domain.SourceProvider, _ int) string { return string(p.Source()) })).
		Int("proxies", len(opts.Proxies)).
		Int("credentials", len(opts.Credentials)).
		Bool("registry", m.registry != nil).
		Bool("events", deps.CH != nil).
		Bool("media", sdeps.Media != nil).
		Msg("updater configured")
	return m, nil
}

// pool builds a resource pool, restoring persisted health when a registry
// is configured; with no configured values the registry is the whole pool
func (m *Module) pool(kind domain.ResourceKind, values []string, limits []resources.Limit) *resources.Pool {
	cfg := resources.Config{
		Kind:           kind,
		CooldownAfter:  m.opts.PoolCooldownAfter,
		BlacklistAfter: m.opts.PoolBlacklistAfter,
		CooldownBase:   m.opts.PoolCooldownBase,
		CooldownCap:    m.opts.PoolCooldownCap,
		Limits:         limits,
	}
	cfg.OnTransition = m.transition
	p := resources.New(cfg, values...)
	if m.registry == nil {
		return p
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DBTimeout)
	defer cancel()
	saved, err := m.registry.LoadResources(ctx, kind)
	if err != nil {
		m.log.Warn().Err(err).Str("kind", string(kind)).Msg("load resource registry failed, starting fresh")
		return p
	}
	if len(values) > 0 {
		saved = lo.Filter(saved, func(r domain.Resource, _ int) bool { return lo.Contains(values, r.Value) })
	}
	p.Restore(saved...)
	return p
}

// transition retires blacklisted proxies from cached transports and
// persists the new state when a registry is configured
func (m *Module) transition(r domain.Resource) {
	if r.Kind == domain.ResourceProxy && r.State == domain.StateBlacklisted {
		for _, f := range m.forget {
			f.ForgetProxy(r.Value)
		}
	}
	if m.registry != nil {
		m.persist(r)
	}
}

func (m *Module) persist(r domain.Resource) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DBTimeout)
	defer cancel()
	if err := m.registry.SaveResource(ctx, r); err != nil {
		m.log.Warn().Err(err).Str("kind", string(r.Kind)).Str("state", string(r.State)).Msg("persist resource transition failed")
	}
}

// buildProviders constructs every enabled source; per source proxy and
// credential needs override the provider defaults
func buildProviders(opts Options) ([]domain.SourceProvider, error) {
	var out []domain.SourceProvider
	for _, src := range domain.Sources() {
		so := opts.Sources[src]
		if so.Disabled {
			continue
		}
		p, err := newProvider(src, so, opts, nil)
		if err != nil {
			return nil, err
		}
		def := p.Requirements()
		want := domain.Requirements{
			Proxy:      domain.ParseNeed(so.Proxy, def.Proxy),
			Credential: domain.ParseNeed(so.Credential, def.Credential),
		}
		if want != def {
			if p, err = newProvider(src, so, opts, &want); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, perr.InvalidArgf("updater: every source is disabled")
	}
	return out, nil
}

func newProvider(src domain.Source, so SourceOptions, opts Options, req *domain.Requirements) (domain.SourceProvider, error) {
	switch src {
	case domain.SourceMAL:
		return mal.New(mal.Options{BaseURL: so.BaseURL, UserAgent: opts.UserAgent, Timeout: opts.FetchTimeout, Requirements: req, PageSize: so.PageSize})
	case domain.SourceRemanga:
		return remanga.New(remanga.Options{BaseURL: so.BaseURL, UserAgent: opts.UserAgent, Timeout: opts.FetchTimeout, Requirements: req, PageSize: so.PageSize})
	case domain.SourceShikimori:
		return shikimori.New(shikimori.Options{BaseURL: so.BaseURL, UserAgent: opts.UserAgent, Timeout: opts.FetchTimeout, Requirements: req, PageSize: so.PageSize})
	}
	return nil, perr.InvalidArgf("updater: no provider for %s", src)
}

// Options returns the effective options after env, overrides and the sources file
func (m *Module) Options() Options { return m.opts }

// Close releases module owned resources; the orchestrator must be stopped
func (m *Module) Close() {
	m.cache.Close()
}

// Name returns the module name
func (m *Module) Name() string { return "updater" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Prefix returns the module config prefix
func (m *Module) Prefix() string { return "UPDATER_" }
