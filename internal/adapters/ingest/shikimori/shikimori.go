// Package shikimori reads manga from the Shikimori GraphQL API
//
// Titles that Shikimori links to MyAnimeList are keyed by their MAL id so
// both sources land on one stored title
package shikimori

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shinga/internal/adapters/ingest/sourcehttp"
	"shinga/internal/core/normalize"
	perr "shinga/internal/platform/errors"
	"shinga/internal/services/updater/domain"

	"github.com/samber/lo"
)

// DefaultBaseURL is the public API root; queries go to graphql under it
const DefaultBaseURL = "https://shikimori.one/api/"

const fields = `
    id
    malId
    russian
    english
    japanese
    synonyms
    kind
    score
    scoresStats { count }
    status
    statusesStats { count }
    volumes
    chapters
    airedOn { date }
    releasedOn { date }
    poster { originalUrl mainUrl previewUrl }
    genres { id name russian kind }
    personRoles { rolesEn person { name } }
    description
`

// Options configures the provider
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration

	// Requirements overrides the defaults (proxy and credential optional)
	Requirements *domain.Requirements

	// PageSize for catalogue listing, at most 50
	PageSize int
}

// Provider implements domain.SourceProvider and domain.Lister
type Provider struct {
	http     *sourcehttp.Client
	req      domain.Requirements
	pageSize int
	now      func() time.Time
}

var (
	_ domain.SourceProvider = (*Provider)(nil)
	_ domain.Lister         = (*Provider)(nil)
	_ domain.ProxyForgetter = (*Provider)(nil)
)

// New builds the provider
func New(o Options) (*Provider, error) {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	c, err := sourcehttp.New(sourcehttp.Options{
		Name:             string(domain.SourceShikimori),
		BaseURL:          o.BaseURL,
		UserAgent:        o.UserAgent,
		Timeout:          o.Timeout,
		CredentialScheme: "Bearer",
	})
	if err != nil {
		return nil, err
	}
	req := domain.Requirements{Proxy: domain.NeedOptional, Credential: domain.NeedOptional}
	if o.Requirements != nil {
		req = *o.Requirements
	}
	if o.PageSize <= 0 || o.PageSize > 50 {
		o.PageSize = 50
	}
	return &Provider{http: c, req: req, pageSize: o.PageSize, now: time.Now}, nil
}

// Source implements domain.SourceProvider
func (p *Provider) Source() domain.Source { return domain.SourceShikimori }

// Requirements implements domain.SourceProvider
func (p *Provider) Requirements() domain.Requirements { return p.req }

// ForgetProxy drops the cached transport for a retired proxy
func (p *Provider) ForgetProxy(proxy string) { p.http.ForgetProxy(proxy) }

// Fetch runs mangas(ids: ...) for one id and returns that manga's object
func (p *Provider) Fetch(ctx context.Context, externalID string, leases domain.Leases) (domain.RawResponse, error) {
	if _, err := strconv.ParseInt(externalID, 10, 64); err != nil {
		return domain.RawResponse{}, perr.NotFoundf("shikimori id %q is not numeric", externalID)
	}
	mangas, err := p.query(ctx, fmt.Sprintf(`ids: "%s"`, externalID), leases)
	if err != nil {
		return domain.RawResponse{}, err
	}
	if len(mangas) == 0 {
		return domain.RawResponse{}, perr.NotFoundf("shikimori %s: no such manga", externalID)
	}
	return domain.RawResponse{
		Source:     domain.SourceShikimori,
		ExternalID: externalID,
		Body:       mangas[0],
		FetchedAt:  p.now().UTC(),
	}, nil
}

// Normalize maps a Shikimori manga onto the shared shape
// ScoredBy sums score votes and Favorites sums list entries across statuses
func (p *Provider) Normalize(raw domain.RawResponse) (domain.NormalizedTitle, error) {
	var m manga
	if err := json.Unmarshal(raw.Body, &m); err != nil {
		return domain.NormalizedTitle{}, perr.Wrapf(err, perr.ErrorCodeParse, "decode shikimori %s", raw.ExternalID)
	}
	if m.ID == "" {
		return domain.NormalizedTitle{}, perr.Parsef("shikimori %s: missing id", raw.ExternalID)
	}

	id := domain.Key(domain.SourceShikimori, m.ID)
	if mal := strings.TrimSpace(m.MalID); mal != "" && mal != "0" {
		id = domain.Key(domain.SourceMAL, mal)
	}

	nameEN := normalize.Line(m.English)
	nameRU := normalize.Line(m.Russian)
	alt := normalize.Without(normalize.Names(append([]string{m.Japanese}, m.Synonyms...)...), nameEN, nameRU)

	genres := domain.Genres(lo.Map(m.Genres, func(g genre, _ int) string { return g.Name })...)
	authors := normalize.Names(lo.FilterMap(m.PersonRoles, func(r personRole, _ int) (string, bool) {
		return r.Person.Name, isAuthor(r.RolesEn)
	})...)

	t := domain.NormalizedTitle{
		ID:            id,
		Source:        domain.SourceShikimori,
		ExternalID:    m.ID,
		NameEN:        nameEN,
		NameRU:        nameRU,
		AltNames:      alt,
		Type:          typeOf(m.Kind),
		Status:        statusOf(m.Status),
		Chapters:      m.Chapters,
		Volumes:       m.Volumes,
		Rating:        m.Score,
		ScoredBy:      lo.SumBy(m.ScoresStats, func(s stat) int64 { return s.Count }),
		Favorites:     lo.SumBy(m.StatusesStats, func(s stat) int64 { return s.Count }),
		DescriptionRU: normalize.StripTags(m.Description),
		Authors:       authors,
		Genres:        genres,
		ReleasedFrom:  parseDate(m.AiredOn.Date),
		ReleasedTo:    parseDate(m.ReleasedOn.Date),
		Raw: map[string]any{
			"shikimori_id": m.ID,
			"mal_id":       m.MalID,
		},
		FetchedAt: raw.FetchedAt,
	}
	if m.Poster != nil {
		t.Cover = domain.Cover{URL: m.Poster.MainURL, SmallURL: m.Poster.PreviewURL, LargeURL: m.Poster.OriginalURL}
	}
	return t, nil
}

// ListPage walks the catalogue ordered by id
func (p *Provider) ListPage(ctx context.Context, page int, leases domain.Leases) (domain.Page, error) {
	if page < 1 {
		return domain.Page{}, perr.InvalidArgf("page must be >= 1, got %d", page)
	}
	mangas, err := p.query(ctx, fmt.Sprintf("page: %d, limit: %d, order: id", page, p.pageSize), leases)
	if err != nil {
		return domain.Page{}, err
	}
	ids := make([]string, 0, len(mangas))
	for _, raw := range mangas {
		var ref struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &ref); err != nil {
			return domain.Page{}, perr.Wrapf(err, perr.ErrorCodeParse, "decode shikimori page %d", page)
		}
		if ref.ID != "" {
			ids = append(ids, ref.ID)
		}
	}
	return domain.Page{Number: page, IDs: ids, HasNext: len(mangas) >= p.pageSize}, nil
}

// query posts one mangas(...) query and returns the raw manga objects
func (p *Provider) query(ctx context.Context, args string, leases domain.Leases) ([]json.RawMessage, error) {
	q := fmt.Sprintf("{ mangas(%s) {%s} }", args, fields)
	body, err := p.http.PostJSON(ctx, "graphql", map[string]string{"query": q}, leases)
	if err != nil {
		return nil, err
	}
	var resp gqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeParse, "decode shikimori response")
	}
	if len(resp.Errors) > 0 {
		msg := resp.Errors[0].Message
		if isThrottle(msg) {
			return nil, perr.RateLimitedf("shikimori: %s", msg)
		}
		return nil, perr.Parsef("shikimori graphql: %s", msg)
	}
	return resp.Data.Mangas, nil
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil
	}
	return lo.EmptyableToPtr(t)
}
