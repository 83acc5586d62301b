package repo

import (
	"context"
	"time"

	"shinga/internal/modkit/repokit"
	perr "shinga/internal/platform/errors"
	"shinga/internal/platform/store"
	"shinga/internal/services/updater/domain"
)

// RegistrySchema creates the local resource registry table
const RegistrySchema = `
CREATE TABLE IF NOT EXISTS pool_resources (
	kind                 TEXT    NOT NULL,
	value                TEXT    NOT NULL,
	state                TEXT    NOT NULL DEFAULT 'healthy',
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	total_failures       INTEGER NOT NULL DEFAULT 0,
	cool_runs            INTEGER NOT NULL DEFAULT 0,
	cooldown_until_ms    INTEGER NOT NULL DEFAULT 0,
	last_used_ms         INTEGER NOT NULL DEFAULT 0,
	uses                 INTEGER NOT NULL DEFAULT 0,
	updated_ms           INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (kind, value)
);
`

// Registry keeps proxy and credential health in a local SQLite file so a
// restart does not hand blacklisted resources back to workers
type Registry struct {
	db  store.TxRunner
	now func() time.Time
}

var _ domain.ResourceRegistry = (*Registry)(nil)

// NewRegistry wraps a sqlite seam; call Init once before use
func NewRegistry(db store.TxRunner) *Registry {
	return &Registry{db: db, now: time.Now}
}

// Init creates the registry table if needed
func (g *Registry) Init(ctx context.Context) error {
	if _, err := g.db.Exec(ctx, RegistrySchema); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "init resource registry")
	}
	return nil
}

// SaveResource upserts the full counter set of one resource
func (g *Registry) SaveResource(ctx context.Context, r domain.Resource) error {
	if r.Value == "" {
		return perr.InvalidArgf("registry: empty %s value", r.Kind)
	}
	if r.State == "" {
		r.State = domain.StateHealthy
	}
	_, err := g.db.Exec(ctx, `
		INSERT INTO pool_resources (
			kind, value, state, consecutive_failures, total_failures, cool_runs,
			cooldown_until_ms, last_used_ms, uses, updated_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, value) DO UPDATE SET
			state                = excluded.state,
			consecutive_failures = excluded.consecutive_failures,
			total_failures       = excluded.total_failures,
			cool_runs            = excluded.cool_runs,
			cooldown_until_ms    = excluded.cooldown_until_ms,
			last_used_ms         = excluded.last_used_ms,
			uses                 = MAX(pool_resources.uses, excluded.uses),
			updated_ms           = excluded.updated_ms
	`,
		string(r.Kind), r.Value, string(r.State), r.ConsecutiveFailures, r.TotalFailures, r.CoolRuns,
		toMillis(r.CooldownUntil), toMillis(r.LastUsed), r.Uses, toMillis(g.now()),
	)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "save %s resource", r.Kind)
	}
	return nil
}

// SaveAll writes a pool snapshot in one transaction
func (g *Registry) SaveAll(ctx context.Context, rs []domain.Resource) error {
	return repokit.WithTx(ctx, g.db, func(q repokit.Queryer) error {
		tx := &Registry{db: txRunner{q}, now: g.now}
		for _, r := range rs {
			if err := tx.SaveResource(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadResources returns every stored resource of kind ordered by value
func (g *Registry) LoadResources(ctx context.Context, kind domain.ResourceKind) ([]domain.Resource, error) {
	out, err := store.Many(ctx, g.db, scanResource, `
		SELECT kind, value, state, consecutive_failures, total_failures, cool_runs,
		       cooldown_until_ms, last_used_ms, uses
		FROM pool_resources
		WHERE kind = ?
		ORDER BY value
	`, string(kind))
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "load %s resources", kind)
	}
	return out, nil
}

func scanResource(row store.Row) (domain.Resource, error) {
	var (
		r                domain.Resource
		kind, state      string
		cool, lastUsedMs int64
	)
	if err := row.Scan(&kind, &r.Value, &state, &r.ConsecutiveFailures, &r.TotalFailures, &r.CoolRuns, &cool, &lastUsedMs, &r.Uses); err != nil {
		return r, err
	}
	r.Kind = domain.ResourceKind(kind)
	r.State = domain.ResourceState(state)
	r.CooldownUntil = fromMillis(cool)
	r.LastUsed = fromMillis(lastUsedMs)
	return r, nil
}

// RegistryStats counts stored resources per kind and state
func (g *Registry) RegistryStats(ctx context.Context) ([]domain.RegistryStat, error) {
	out, err := store.Many(ctx, g.db, func(row store.Row) (domain.RegistryStat, error) {
		var (
			s    domain.RegistryStat
			kind string
		)
		err := row.Scan(&kind, &s.Total, &s.Healthy, &s.Cooling, &s.Blacklisted, &s.Uses)
		s.Kind = domain.ResourceKind(kind)
		return s, err
	}, `
		SELECT kind,
		       COUNT(*),
		       SUM(CASE WHEN state = 'healthy' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN state = 'cooling' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN state = 'blacklisted' THEN 1 ELSE 0 END),
		       SUM(uses)
		FROM pool_resources
		GROUP BY kind
		ORDER BY kind
	`)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "registry stats")
	}
	return out, nil
}

// txRunner lets SaveAll reuse SaveResource inside an open transaction
type txRunner struct{ store.RowQuerier }

func (t txRunner) Tx(_ context.Context, fn func(q store.RowQuerier) error) error { return fn(t.RowQuerier) }

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
