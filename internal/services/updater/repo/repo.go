// Package repo persists titles, refresh bookkeeping and dead letters in Postgres
//
// titles holds one merged row per canonical id. title_sources tracks every
// (source, external_id) the updater knows with its refresh stamp, so a
// Shikimori entry linked to MAL refreshes the MAL keyed row
package repo

import (
	"context"
	"encoding/json"
	"time"

	"shinga/internal/modkit/repokit"
	perr "shinga/internal/platform/errors"
	"shinga/internal/platform/store"
	"shinga/internal/services/updater/domain"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type (
	// PG is a Postgres updater repository
	PG      struct{}
	queries struct {
		q   repokit.Queryer
		now func() time.Time
	}
)

// NewPG constructs a Postgres updater repository
func NewPG() repokit.Binder[domain.Storage] { return PG{} }

// Bind binds a Queryer to a Postgres implementation of domain.Storage
func (PG) Bind(q repokit.Queryer) domain.Storage { return &queries{q: q, now: time.Now} }

var _ domain.Storage = (*queries)(nil)

// Upsert writes the merged title row and stamps its source row
//
// incoming empty or zero fields keep the stored value; the title row is only
// rewritten when the content hash moved or a new cover asset arrived, so
// replaying the same title is a no-op apart from refreshed_at on title_sources
func (r *queries) Upsert(ctx context.Context, t domain.NormalizedTitle) error {
	if t.ID == "" || t.ExternalID == "" {
		return perr.InvalidArgf("upsert: title id and external id are required")
	}
	raw, err := json.Marshal(t.Raw)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeJSON, "encode raw for %s", t.ID)
	}
	var asset any
	if t.CoverAsset != nil {
		b, err := json.Marshal(t.CoverAsset)
		if err != nil {
			return perr.Wrapf(err, perr.ErrorCodeJSON, "encode cover asset for %s", t.ID)
		}
		asset = string(b)
	}
	at := t.FetchedAt.UTC()
	if t.FetchedAt.IsZero() {
		at = r.now().UTC()
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO titles (
			id, name_en, name_ru, alt_names, type, status,
			chapters, volumes, views, rating, scored_by, popularity, favorites,
			description_en, description_ru, authors, genres,
			cover_url, cover_small_url, cover_large_url, cover_asset,
			released_from, released_to, content_hash, refreshed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21::jsonb,
			$22, $23, $24, $25
		)
		ON CONFLICT (id) DO UPDATE SET
			name_en         = COALESCE(NULLIF(EXCLUDED.name_en, ''), titles.name_en),
			name_ru         = COALESCE(NULLIF(EXCLUDED.name_ru, ''), titles.name_ru),
			alt_names       = CASE WHEN cardinality(EXCLUDED.alt_names) > 0 THEN EXCLUDED.alt_names ELSE titles.alt_names END,
			type            = COALESCE(NULLIF(EXCLUDED.type, ''), titles.type),
			status          = COALESCE(NULLIF(EXCLUDED.status, ''), titles.status),
			chapters        = COALESCE(NULLIF(EXCLUDED.chapters, 0), titles.chapters),
			volumes         = COALESCE(NULLIF(EXCLUDED.volumes, 0), titles.volumes),
			views           = COALESCE(NULLIF(EXCLUDED.views, 0), titles.views),
			rating          = COALESCE(NULLIF(EXCLUDED.rating, 0), titles.rating),
			scored_by       = COALESCE(NULLIF(EXCLUDED.scored_by, 0), titles.scored_by),
			popularity      = COALESCE(NULLIF(EXCLUDED.popularity, 0), titles.popularity),
			favorites       = COALESCE(NULLIF(EXCLUDED.favorites, 0), titles.favorites),
			description_en  = COALESCE(NULLIF(EXCLUDED.description_en, ''), titles.description_en),
			description_ru  = COALESCE(NULLIF(EXCLUDED.description_ru, ''), titles.description_ru),
			authors         = CASE WHEN cardinality(EXCLUDED.authors) > 0 THEN EXCLUDED.authors ELSE titles.authors END,
			genres          = CASE WHEN cardinality(EXCLUDED.genres) > 0 THEN EXCLUDED.genres ELSE titles.genres END,
			cover_url       = COALESCE(NULLIF(EXCLUDED.cover_url, ''), titles.cover_url),
			cover_small_url = COALESCE(NULLIF(EXCLUDED.cover_small_url, ''), titles.cover_small_url),
			cover_large_url = COALESCE(NULLIF(EXCLUDED.cover_large_url, ''), titles.cover_large_url),
			cover_asset     = COALESCE(EXCLUDED.cover_asset, titles.cover_asset),
			released_from   = COALESCE(EXCLUDED.released_from, titles.released_from),
			released_to     = COALESCE(EXCLUDED.released_to, titles.released_to),
			content_hash    = EXCLUDED.content_hash,
			refreshed_at    = GREATEST(titles.refreshed_at, EXCLUDED.refreshed_at)
		WHERE titles.content_hash IS DISTINCT FROM EXCLUDED.content_hash
		   OR (EXCLUDED.cover_asset IS NOT NULL AND titles.cover_asset IS DISTINCT FROM EXCLUDED.cover_asset)
	`,
		t.ID, t.NameEN, t.NameRU, orEmpty(t.AltNames), t.Type, t.Status,
		t.Chapters, t.Volumes, t.Views, t.Rating, t.ScoredBy, t.Popularity, t.Favorites,
		t.DescriptionEN, t.DescriptionRU, orEmpty(t.Authors), orEmpty(t.Genres),
		t.Cover.URL, t.Cover.SmallURL, t.Cover.LargeURL, asset,
		t.ReleasedFrom, t.ReleasedTo, t.ContentHash, at,
	)
	if err != nil {
		return perr.FromPostgresWithField(err, "upsert title")
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO title_sources (source, external_id, title_id, raw, refreshed_at, missing_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, NULL)
		ON CONFLICT (source, external_id) DO UPDATE SET
			title_id     = EXCLUDED.title_id,
			raw          = EXCLUDED.raw,
			refreshed_at = GREATEST(title_sources.refreshed_at, EXCLUDED.refreshed_at),
			missing_at   = NULL
	`, string(t.Source), t.ExternalID, t.ID, string(raw), at)
	return perr.FromPostgresWithField(err, "upsert title source")
}

// MarkMissing flags the source row as gone upstream; the first sighting wins
func (r *queries) MarkMissing(ctx context.Context, source domain.Source, externalID string) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO title_sources (source, external_id, missing_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (source, external_id) DO UPDATE SET
			missing_at = COALESCE(title_sources.missing_at, EXCLUDED.missing_at)
	`, string(source), externalID, r.now().UTC())
	return perr.FromPostgresWithField(err, "mark missing")
}

// ListStaleWorkItems returns source rows never refreshed or refreshed before p.Before,
// oldest first, skipping rows marked missing and rows waiting in dead_letters
func (r *queries) ListStaleWorkItems(ctx context.Context, p domain.StaleParams) ([]domain.WorkItem, error) {
	items, err := store.Many(ctx, r.q, scanWorkItem, `
		SELECT source, external_id, COALESCE(refreshed_at, discovered_at)
		FROM title_sources
		WHERE missing_at IS NULL
		  AND ($1::text = '' OR source = $1::text)
		  AND NOT EXISTS (
			SELECT 1 FROM dead_letters d
			WHERE d.source = title_sources.source AND d.external_id = title_sources.external_id
		  )
		  AND (refreshed_at IS NULL OR refreshed_at < $2)
		ORDER BY refreshed_at ASC NULLS FIRST, discovered_at ASC, external_id ASC
		LIMIT NULLIF($3::int, 0)
	`, string(p.Source), p.Before.UTC(), p.Limit)
	if err != nil {
		return nil, perr.FromPostgresWithField(err, "list stale")
	}
	// rows for sources this build does not know come back with an empty source
	return lo.Filter(items, func(it domain.WorkItem, _ int) bool { return it.Source != "" }), nil
}

func scanWorkItem(row store.Row) (domain.WorkItem, error) {
	var (
		src  string
		item domain.WorkItem
	)
	if err := row.Scan(&src, &item.ExternalID, &item.StaleSince); err != nil {
		return item, err
	}
	item.Source, _ = domain.ParseSource(src)
	return item, nil
}

// Discover inserts unseen ids and reports how many were new
func (r *queries) Discover(ctx context.Context, source domain.Source, ids ...string) (int, error) {
	ids = lo.Uniq(lo.Compact(ids))
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.q.Exec(ctx, `
		INSERT INTO title_sources (source, external_id)
		SELECT $1, id FROM unnest($2::text[]) AS id
		ON CONFLICT (source, external_id) DO NOTHING
	`, string(source), ids)
	if err != nil {
		return 0, perr.FromPostgresWithField(err, "discover")
	}
	return int(tag.RowsAffected()), nil
}

// DeadLetter keeps one record per item; a later failure replaces the earlier one
func (r *queries) DeadLetter(ctx context.Context, d domain.DeadLetter) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.now()
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO dead_letters (id, source, external_id, kind, attempts, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source, external_id) DO UPDATE SET
			kind       = EXCLUDED.kind,
			attempts   = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			created_at = EXCLUDED.created_at
	`, d.ID, string(d.Source), d.ExternalID, string(d.Kind), d.Attempts, d.LastError, d.CreatedAt.UTC())
	return perr.FromPostgresWithField(err, "insert dead letter")
}

// ListDeadLetters returns the oldest dead letters first; limit 0 means all
func (r *queries) ListDeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	out, err := store.Many(ctx, r.q, scanDeadLetter, `
		SELECT id, source, external_id, kind, attempts, last_error, created_at
		FROM dead_letters
		ORDER BY created_at ASC, id ASC
		LIMIT NULLIF($1::int, 0)
	`, limit)
	if err != nil {
		return nil, perr.FromPostgresWithField(err, "list dead letters")
	}
	return out, nil
}

func scanDeadLetter(row store.Row) (domain.DeadLetter, error) {
	var (
		d         domain.DeadLetter
		src, kind string
	)
	err := row.Scan(&d.ID, &src, &d.ExternalID, &kind, &d.Attempts, &d.LastError, &d.CreatedAt)
	d.Source = domain.Source(src)
	d.Kind = domain.Kind(kind)
	return d, err
}

// DeleteDeadLetter removes one record, NotFound when it is already gone
func (r *queries) DeleteDeadLetter(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	if err != nil {
		return perr.FromPostgresWithField(err, "delete dead letter")
	}
	if tag.RowsAffected() == 0 {
		return perr.NotFoundf("dead letter %s not found", id)
	}
	return nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
