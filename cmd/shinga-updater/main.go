// @title         Shinga Updater Admin API
// @version       0.1.0
// @description   Operator endpoints for the title refresh run
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"shinga/internal/core/version"
	"shinga/internal/modkit"
	"shinga/internal/modkit/httpkit"
	"shinga/internal/modkit/module"
	"shinga/internal/modkit/repokit"
	"shinga/internal/platform/config"
	"shinga/internal/platform/logger"
	phttp "shinga/internal/platform/net/http"
	"shinga/internal/platform/store"

	"shinga/internal/services/updater/docs"
	"shinga/internal/services/updater/domain"
	updmod "shinga/internal/services/updater/module"

	"github.com/go-chi/chi/v5"
)

func mustSetEnv(key, val string) {
	if val != "" {
		_ = os.Setenv(key, val)
	}
}

func csv(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func main() {
	var (
		fMode     = flag.String("mode", "worker", "updater mode: worker | refresh | discover | replay")
		fSource   = flag.String("source", "", "limit refresh/discover to one source (MAL | REMANGA | SHIKIMORI)")
		fSources  = flag.String("sources", "", "comma-separated sources to enable (default: all)")
		fFromPage = flag.Int("from-page", 1, "discover: first catalogue page")
		fMaxPages = flag.Int("max-pages", 0, "discover: pages to walk (0 = until the end)")
		fLimit    = flag.Int("limit", 0, "refresh/replay: max items (0 = default)")
		fWorkers  = flag.Int("workers", 0, "worker count (0 = UPDATER_WORKERS)")
		fFile     = flag.String("sources-file", "", "yaml file with per-source settings and pools")
		fProxies  = flag.String("proxies", "", "comma-separated proxy urls (can also come from env)")
		fAdmin    = flag.String("admin", "", "admin listen address, e.g. :8081 (empty disables)")
		fRegistry = flag.String("registry", "", "sqlite file for proxy/credential health")
	)
	flag.Parse()

	mustSetEnv("UPDATER_SOURCES", *fSources)
	mustSetEnv("UPDATER_ADMIN_ADDR", *fAdmin)
	mustSetEnv("UPDATER_REGISTRY_PATH", *fRegistry)

	root := config.New()
	dbCfg := root.Prefix("SERVICE_PGSQL_")
	chCfg := root.Prefix("SERVICE_CLICKHOUSE_")
	upCfg := root.Prefix("UPDATER_")

	l := logger.Get()
	bi := version.Info()
	l.Info().Str("version", bi.Version).Str("commit", bi.Commit).Str("mode", *fMode).Msg(bi.Service + " starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := upCfg.MayString("REGISTRY_PATH", "")
	st, err := store.Open(ctx, store.Config{
		AppName: bi.Service,
		PG: store.PGConfig{
			Enabled:     true,
			URL:         dbCfg.MustString("DBURL"),
			MaxConns:    int32(dbCfg.MayInt("MAX_CONNS", 8)),
			SlowQueryMs: dbCfg.MayInt("SLOW_MS", 500),
			LogSQL:      dbCfg.MayBool("LOG_SQL", false),
		},
		CH: store.CHConfig{
			Enabled: chCfg.MayString("DBURL", "") != "",
			URL:     chCfg.MayString("DBURL", ""),
		},
		Lite: store.LiteConfig{
			Enabled: registry != "",
			Path:    registry,
		},
	}, store.WithLogger(*l))
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	repokit.MustGuard(ctx, st)

	deps := modkit.Deps{
		Cfg:  root,
		PG:   st.PG,
		CH:   st.CH,
		Lite: st.Lite,
		Log:  l,
	}

	um, err := updmod.New(deps, updmod.Options{
		Workers:     *fWorkers,
		SweepLimit:  *fLimit,
		Proxies:     csv(*fProxies),
		SourcesFile: *fFile,
	})
	if err != nil {
		l.Fatal().Err(err).Msg("updater configuration invalid")
	}
	var mods module.Registry
	if err := mods.Add(um); err != nil {
		l.Fatal().Err(err).Msg("module registration failed")
	}
	defer mods.CloseAll()
	ports, err := module.Lookup[updmod.Ports](&mods, um.Name())
	if err != nil {
		l.Fatal().Err(err).Msg("updater ports missing")
	}

	if addr := um.Options().AdminAddr; addr != "" {
		srv := phttp.NewServer(addr, func(m *chi.Mux) {
			m.Use(httpkit.CommonStack()...)
		})
		mods.MountAll(srv.Router())
		phttp.MountProfiler(srv.Router(), "/debug", upCfg.MayBool("ADMIN_PROFILER", false))
		docs.SwaggerInfo.Version = bi.Version
		phttp.MountSwagger(srv.Router(), upCfg.MayBool("ADMIN_DOCS", false))
		sctx, stopAdmin := context.WithCancel(ctx)
		defer stopAdmin()
		go func() {
			if err := srv.Run(sctx); err != nil {
				l.Error().Err(err).Msg("admin server stopped")
			}
		}()
	}

	source := domain.Source("")
	if *fSource != "" {
		src, ok := domain.ParseSource(*fSource)
		if !ok {
			l.Panic().Str("source", *fSource).Msg("updater unknown -source")
		}
		source = src
	}

	switch *fMode {
	case "worker":
		// sweeps on the schedule and works the queue until a signal
		if err := ports.Worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.Fatal().Err(err).Msg("updater worker failed")
		}

	case "refresh":
		n, err := ports.Refresher.RefreshStale(ctx, domain.StaleParams{Source: source, Limit: *fLimit})
		if err != nil {
			l.Fatal().Err(err).Msg("updater refresh sweep failed")
		}
		l.Info().Int("enqueued", n).Msg("refresh sweep enqueued")
		drain(ctx, l, ports)

	case "discover":
		if source == "" {
			l.Panic().Msg("updater discover mode: -source is required")
		}
		n, err := ports.Discoverer.Discover(ctx, source, *fFromPage, *fMaxPages)
		if err != nil {
			l.Fatal().Err(err).Int("discovered", n).Msg("updater discovery failed")
		}
		l.Info().Int("discovered", n).Str("source", string(source)).Msg("discovery finished")

	case "replay":
		n, err := ports.Replay.Replay(ctx, *fLimit)
		if err != nil {
			l.Fatal().Err(err).Msg("updater replay failed")
		}
		l.Info().Int("replayed", n).Msg("dead letters requeued")
		drain(ctx, l, ports)

	default:
		l.Panic().Str("mode", *fMode).Msg("updater unknown -mode (expected: worker | refresh | discover | replay)")
	}
}

// drain works the queue until it empties, then exits
func drain(ctx context.Context, l *logger.Logger, ports updmod.Ports) {
	if err := ports.Batch.RunUntilEmpty(ctx, 250*time.Millisecond); err != nil && !errors.Is(err, context.Canceled) {
		l.Fatal().Err(err).Msg("updater batch run failed")
	}
}
