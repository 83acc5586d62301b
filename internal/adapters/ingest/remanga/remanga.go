// Package remanga reads titles from the Remanga catalogue API
package remanga

import (
	"bytes"
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

// Upstream defaults
const (
	DefaultBaseURL   = "https://api.remanga.org/api/"
	DefaultCoverBase = "https://remanga.org"
)

// Options configures the provider
type Options struct {
	BaseURL   string
	CoverBase string
	UserAgent string
	Timeout   time.Duration

	// Requirements overrides the defaults (proxy and credential optional)
	Requirements *domain.Requirements

	// PageSize for catalogue listing, at most 30
	PageSize int
}

// Provider implements domain.SourceProvider and domain.Lister
// titles are addressed by their url slug
type Provider struct {
	http      *sourcehttp.Client
	req       domain.Requirements
	coverBase string
	pageSize  int
	now       func() time.Time
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
	if o.CoverBase == "" {
		o.CoverBase = DefaultCoverBase
	}
	c, err := sourcehttp.New(sourcehttp.Options{
		Name:             string(domain.SourceRemanga),
		BaseURL:          o.BaseURL,
		UserAgent:        o.UserAgent,
		Timeout:          o.Timeout,
		CredentialScheme: "bearer",
	})
	if err != nil {
		return nil, err
	}
	req := domain.Requirements{Proxy: domain.NeedOptional, Credential: domain.NeedOptional}
	if o.Requirements != nil {
		req = *o.Requirements
	}
	if o.PageSize <= 0 || o.PageSize > 30 {
		o.PageSize = 30
	}
	return &Provider{
		http:      c,
		req:       req,
		coverBase: strings.TrimRight(o.CoverBase, "/"),
		pageSize:  o.PageSize,
		now:       time.Now,
	}, nil
}

// Source implements domain.SourceProvider
func (p *Provider) Source() domain.Source { return domain.SourceRemanga }

// Requirements implements domain.SourceProvider
func (p *Provider) Requirements() domain.Requirements { return p.req }

// ForgetProxy drops the cached transport for a retired proxy
func (p *Provider) ForgetProxy(proxy string) { p.http.ForgetProxy(proxy) }

// Fetch loads v2/titles/{slug}/; older deployments wrap the title in "content"
func (p *Provider) Fetch(ctx context.Context, externalID string, leases domain.Leases) (domain.RawResponse, error) {
	slug := strings.TrimSpace(externalID)
	if slug == "" || strings.ContainsAny(slug, "/?#") {
		return domain.RawResponse{}, perr.NotFoundf("remanga slug %q is not addressable", externalID)
	}
	body, err := p.http.Get(ctx, "v2/titles/"+url.PathEscape(slug)+"/", leases)
	if err != nil {
		return domain.RawResponse{}, err
	}
	var env struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.RawResponse{}, perr.Wrapf(err, perr.ErrorCodeParse, "decode remanga %s", slug)
	}
	if len(env.Content) > 0 {
		body = env.Content
	}
	if len(bytes.TrimSpace(body)) == 0 || string(body) == "null" || string(body) == "{}" {
		return domain.RawResponse{}, perr.NotFoundf("remanga %s: empty title", slug)
	}
	return domain.RawResponse{
		Source:     domain.SourceRemanga,
		ExternalID: slug,
		Body:       body,
		FetchedAt:  p.now().UTC(),
	}, nil
}

// Normalize maps a Remanga title onto the shared shape
// Remanga has no volumes, end date, popularity or authors
func (p *Provider) Normalize(raw domain.RawResponse) (domain.NormalizedTitle, error) {
	var m title
	if err := json.Unmarshal(raw.Body, &m); err != nil {
		return domain.NormalizedTitle{}, perr.Wrapf(err, perr.ErrorCodeParse, "decode remanga %s", raw.ExternalID)
	}
	slug := strings.TrimSpace(m.Dir)
	if slug == "" {
		slug = raw.ExternalID
	}

	nameEN := normalize.Line(m.SecondaryName)
	nameRU := normalize.Line(m.MainName)
	alt := normalize.Without(normalize.Names(strings.Split(m.AnotherName, "/")...), nameEN, nameRU)

	t := domain.NormalizedTitle{
		ID:            domain.Key(domain.SourceRemanga, slug),
		Source:        domain.SourceRemanga,
		ExternalID:    slug,
		NameEN:        nameEN,
		NameRU:        nameRU,
		AltNames:      alt,
		Type:          typeOf(m.Type.Name),
		Status:        statusOf(m.Status.Name),
		Chapters:      m.CountChapters,
		Views:         m.TotalViews,
		Rating:        float64(m.AvgRating),
		ScoredBy:      m.CountRating,
		Favorites:     m.CountBookmarks,
		DescriptionRU: normalize.StripTags(m.Description),
		Genres:        domain.Genres(lo.Map(m.Genres, func(g named, _ int) string { return g.Name })...),
		Cover: domain.Cover{
			URL:      p.coverURL(m.Cover.Mid),
			SmallURL: p.coverURL(m.Cover.Low),
			LargeURL: p.coverURL(m.Cover.High),
		},
		Raw: map[string]any{
			"id":         m.ID,
			"age_limit":  m.AgeLimit,
			"categories": lo.Map(m.Categories, func(c named, _ int) string { return c.Name }),
		},
		FetchedAt: raw.FetchedAt,
	}
	if m.IssueYear > 0 {
		t.ReleasedFrom = lo.EmptyableToPtr(time.Date(m.IssueYear, time.January, 1, 0, 0, 0, 0, time.UTC))
	}
	return t, nil
}

// ListPage walks the catalogue newest id first
func (p *Provider) ListPage(ctx context.Context, page int, leases domain.Leases) (domain.Page, error) {
	if page < 1 {
		return domain.Page{}, perr.InvalidArgf("page must be >= 1, got %d", page)
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("count", strconv.Itoa(p.pageSize))
	q.Set("ordering", "-id")
	body, err := p.http.Get(ctx, "v2/search/catalog/?"+q.Encode(), leases)
	if err != nil {
		return domain.Page{}, err
	}
	var lp listPage
	if err := json.Unmarshal(body, &lp); err != nil {
		return domain.Page{}, perr.Wrapf(err, perr.ErrorCodeParse, "decode remanga page %d", page)
	}
	ids := lo.FilterMap(lp.Results, func(r listItem, _ int) (string, bool) {
		d := strings.TrimSpace(r.Dir)
		return d, d != ""
	})
	hasNext := lp.Next != nil || len(lp.Results) >= p.pageSize
	return domain.Page{Number: page, IDs: ids, HasNext: hasNext && len(lp.Results) > 0}, nil
}

func (p *Provider) coverURL(path string) string {
	path = strings.TrimSpace(path)
	switch {
	case path == "":
		return ""
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		return path
	case strings.HasPrefix(path, "/"):
		return p.coverBase + path
	default:
		return p.coverBase + "/" + path
	}
}
