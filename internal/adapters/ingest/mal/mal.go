// Package mal reads manga from MyAnimeList through the Jikan v4 API
package mal

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shinga/internal/adapters/ingest/sourcehttp"
	"shinga/internal/core/normalize"
	perr "shinga/internal/platform/errors"
	"shinga/internal/services/updater/domain"

	"github.com/samber/lo"
)

// DefaultBaseURL is the public Jikan endpoint
const DefaultBaseURL = "https://api.jikan.moe/v4/"

// Options configures the provider
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration

	// Requirements overrides the defaults (proxy optional, no credential)
	Requirements *domain.Requirements

	// PageSize for catalogue listing, Jikan allows 1..25
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
		Name:      string(domain.SourceMAL),
		BaseURL:   o.BaseURL,
		UserAgent: o.UserAgent,
		Timeout:   o.Timeout,
	})
	if err != nil {
		return nil, err
	}
	req := domain.Requirements{Proxy: domain.NeedOptional, Credential: domain.NeedNone}
	if o.Requirements != nil {
		req = *o.Requirements
	}
	if o.PageSize <= 0 || o.PageSize > 25 {
		o.PageSize = 25
	}
	return &Provider{http: c, req: req, pageSize: o.PageSize, now: time.Now}, nil
}

// Source implements domain.SourceProvider
func (p *Provider) Source() domain.Source { return domain.SourceMAL }

// Requirements implements domain.SourceProvider
func (p *Provider) Requirements() domain.Requirements { return p.req }

// ForgetProxy drops the cached transport for a retired proxy
func (p *Provider) ForgetProxy(proxy string) { p.http.ForgetProxy(proxy) }

// Fetch loads manga/{id}; a null data envelope counts as not found
func (p *Provider) Fetch(ctx context.Context, externalID string, leases domain.Leases) (domain.RawResponse, error) {
	if _, err := strconv.ParseInt(externalID, 10, 64); err != nil {
		return domain.RawResponse{}, perr.NotFoundf("mal id %q is not numeric", externalID)
	}
	body, err := p.http.Get(ctx, "manga/"+externalID, leases)
	if err != nil {
		return domain.RawResponse{}, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.RawResponse{}, perr.Wrapf(err, perr.ErrorCodeParse, "decode mal %s", externalID)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return domain.RawResponse{}, perr.NotFoundf("mal %s: empty data", externalID)
	}
	return domain.RawResponse{
		Source:     domain.SourceMAL,
		ExternalID: externalID,
		Body:       env.Data,
		FetchedAt:  p.now().UTC(),
	}, nil
}

// Normalize maps a Jikan manga object onto the shared title shape
func (p *Provider) Normalize(raw domain.RawResponse) (domain.NormalizedTitle, error) {
	var m manga
	if err := json.Unmarshal(raw.Body, &m); err != nil {
		return domain.NormalizedTitle{}, perr.Wrapf(err, perr.ErrorCodeParse, "decode mal %s", raw.ExternalID)
	}
	if m.MalID == 0 {
		return domain.NormalizedTitle{}, perr.Parsef("mal %s: missing mal_id", raw.ExternalID)
	}
	id := strconv.FormatInt(m.MalID, 10)

	nameEN := normalize.Line(m.Title)
	alt := normalize.Without(normalize.Names(append([]string{m.TitleEnglish, m.TitleJapanese}, m.TitleSynonyms...)...), nameEN)

	genres := domain.Genres(lo.Map(append(append(m.Genres, m.Themes...), m.Demographics...),
		func(n named, _ int) string { return n.Name })...)

	t := domain.NormalizedTitle{
		ID:            domain.Key(domain.SourceMAL, id),
		Source:        domain.SourceMAL,
		ExternalID:    id,
		NameEN:        nameEN,
		AltNames:      alt,
		Type:          typeOf(m.Type),
		Status:        statusOf(m.Status),
		Chapters:      m.Chapters,
		Volumes:       m.Volumes,
		Rating:        m.Score,
		ScoredBy:      m.ScoredBy,
		Popularity:    m.Popularity,
		Favorites:     m.Favorites,
		DescriptionEN: normalize.StripTags(m.Synopsis),
		Authors:       normalize.Names(lo.Map(m.Authors, func(a named, _ int) string { return a.Name })...),
		Genres:        genres,
		Cover: domain.Cover{
			URL:      m.Images.WebP.ImageURL,
			SmallURL: m.Images.WebP.SmallImageURL,
			LargeURL: m.Images.WebP.LargeImageURL,
		},
		ReleasedFrom: parseTime(m.Published.From),
		ReleasedTo:   parseTime(m.Published.To),
		Raw: map[string]any{
			"url":     m.URL,
			"rank":    m.Rank,
			"members": m.Members,
		},
		FetchedAt: raw.FetchedAt,
	}
	if t.Cover.Best() == "" {
		t.Cover = domain.Cover{
			URL:      m.Images.JPG.ImageURL,
			SmallURL: m.Images.JPG.SmallImageURL,
			LargeURL: m.Images.JPG.LargeImageURL,
		}
	}
	return t, nil
}

// ListPage walks the catalogue ordered by mal id
func (p *Provider) ListPage(ctx context.Context, page int, leases domain.Leases) (domain.Page, error) {
	if page < 1 {
		return domain.Page{}, perr.InvalidArgf("page must be >= 1, got %d", page)
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(p.pageSize))
	q.Set("order_by", "mal_id")
	body, err := p.http.Get(ctx, "manga?"+q.Encode(), leases)
	if err != nil {
		return domain.Page{}, err
	}
	var lp listPage
	if err := json.Unmarshal(body, &lp); err != nil {
		return domain.Page{}, perr.Wrapf(err, perr.ErrorCodeParse, "decode mal page %d", page)
	}
	ids := make([]string, 0, len(lp.Data))
	for _, d := range lp.Data {
		if d.MalID > 0 {
			ids = append(ids, strconv.FormatInt(d.MalID, 10))
		}
	}
	return domain.Page{Number: page, IDs: ids, HasNext: lp.Pagination.HasNextPage}, nil
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return lo.EmptyableToPtr(t.UTC())
}
