package service

import (
	"context"
	"sync"
	"testing"
	"time"

	perr "shinga/internal/platform/errors"
	"shinga/internal/services/updater/domain"
	"shinga/internal/services/updater/queue"

	"github.com/google/uuid"
)

type fetchFunc func(ctx context.Context, id string, call int, leases domain.Leases) (string, error)

type fakeProvider struct {
	src   domain.Source
	req   domain.Requirements
	cover string
	fetch fetchFunc

	mu     sync.Mutex
	calls  map[string]int
	leased []string
}

func newProvider(src domain.Source, fetch fetchFunc) *fakeProvider {
	if fetch == nil {
		fetch = func(context.Context, string, int, domain.Leases) (string, error) { return "ok", nil }
	}
	return &fakeProvider{src: src, fetch: fetch, calls: map[string]int{}}
}

func (p *fakeProvider) Source() domain.Source             { return p.src }
func (p *fakeProvider) Requirements() domain.Requirements { return p.req }

func (p *fakeProvider) Fetch(ctx context.Context, id string, leases domain.Leases) (domain.RawResponse, error) {
	p.mu.Lock()
	p.calls[id]++
	n := p.calls[id]
	if v := leases.ProxyURL(); v != "" {
		p.leased = append(p.leased, v)
	}
	p.mu.Unlock()
	body, err := p.fetch(ctx, id, n, leases)
	if err != nil {
		return domain.RawResponse{}, err
	}
	return domain.RawResponse{Source: p.src, ExternalID: id, Body: []byte(body), FetchedAt: time.Now()}, nil
}

func (p *fakeProvider) Normalize(raw domain.RawResponse) (domain.NormalizedTitle, error) {
	if string(raw.Body) == "bad" {
		return domain.NormalizedTitle{}, perr.Parsef("unexpected body")
	}
	return title(p.src, raw.ExternalID, string(raw.Body), p.cover), nil
}

func (p *fakeProvider) Calls(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

func (p *fakeProvider) Leased() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.leased...)
}

type listingProvider struct {
	*fakeProvider
	list func(page, call int) (domain.Page, error)

	pmu   sync.Mutex
	pages map[int]int
}

func (l *listingProvider) ListPage(_ context.Context, page int, _ domain.Leases) (domain.Page, error) {
	l.pmu.Lock()
	if l.pages == nil {
		l.pages = map[int]int{}
	}
	l.pages[page]++
	n := l.pages[page]
	l.pmu.Unlock()
	return l.list(page, n)
}

func title(src domain.Source, id, name, cover string) domain.NormalizedTitle {
	return domain.NormalizedTitle{
		ID:         domain.Key(src, id),
		Source:     src,
		ExternalID: id,
		NameEN:     name,
		Cover:      domain.Cover{URL: cover},
		FetchedAt:  time.Now(),
	}
}

type fakeStorage struct {
	mu         sync.Mutex
	upsertErr  func(call int) error
	upserts    int
	titles     map[string]domain.NormalizedTitle
	missing    map[string]int
	dead       []domain.DeadLetter
	deadErr    error
	deleted    []uuid.UUID
	stale      map[domain.Source][]domain.WorkItem
	staleCalls []domain.StaleParams
	discovered map[domain.Source][]string
}

func newStorage() *fakeStorage {
	return &fakeStorage{
		titles:     map[string]domain.NormalizedTitle{},
		missing:    map[string]int{},
		stale:      map[domain.Source][]domain.WorkItem{},
		discovered: map[domain.Source][]string{},
	}
}

func (s *fakeStorage) Upsert(_ context.Context, t domain.NormalizedTitle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.upsertErr != nil {
		if err := s.upsertErr(s.upserts); err != nil {
			return err
		}
	}
	s.titles[t.ID] = t
	return nil
}

func (s *fakeStorage) MarkMissing(_ context.Context, src domain.Source, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missing[domain.Key(src, id)]++
	return nil
}

func (s *fakeStorage) ListStaleWorkItems(_ context.Context, p domain.StaleParams) ([]domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staleCalls = append(s.staleCalls, p)
	return s.stale[p.Source], nil
}

func (s *fakeStorage) DeadLetter(_ context.Context, d domain.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deadErr != nil {
		return s.deadErr
	}
	s.dead = append(s.dead, d)
	return nil
}

func (s *fakeStorage) Discover(_ context.Context, src domain.Source, ids ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discovered[src] = append(s.discovered[src], ids...)
	return len(ids), nil
}

func (s *fakeStorage) ListDeadLetters(_ context.Context, limit int) ([]domain.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]domain.DeadLetter(nil), s.dead...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStorage) DeleteDeadLetter(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.dead {
		if d.ID == id {
			s.dead = append(s.dead[:i], s.dead[i+1:]...)
			s.deleted = append(s.deleted, id)
			return nil
		}
	}
	return perr.NotFoundf("dead letter %s", id)
}

func (s *fakeStorage) snapshot() (titles map[string]domain.NormalizedTitle, upserts int, dead []domain.DeadLetter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	titles = make(map[string]domain.NormalizedTitle, len(s.titles))
	for k, v := range s.titles {
		titles[k] = v
	}
	return titles, s.upserts, append([]domain.DeadLetter(nil), s.dead...)
}

type fakeEvents struct {
	mu  sync.Mutex
	got []domain.Disposition
}

func (e *fakeEvents) Record(_ context.Context, d domain.Disposition) error {
	e.mu.Lock()
	e.got = append(e.got, d)
	e.mu.Unlock()
	return nil
}

func (e *fakeEvents) all() []domain.Disposition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Disposition(nil), e.got...)
}

// terminal returns the non requeue dispositions for key
func (e *fakeEvents) terminal(key string) []domain.Disposition {
	var out []domain.Disposition
	for _, d := range e.all() {
		if d.Item.Key() == key && d.Outcome != domain.OutcomeRequeued {
			out = append(out, d)
		}
	}
	return out
}

type fakeMedia struct {
	err error

	mu    sync.Mutex
	calls int
}

func (m *fakeMedia) FetchAndStore(_ context.Context, url string) (domain.MediaAsset, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.err != nil {
		return domain.MediaAsset{}, m.err
	}
	return domain.MediaAsset{Hash: "abc", SourceURL: url, Path: "ab/abc.jpg"}, nil
}

func testConfig() Config {
	return Config{
		Workers:          2,
		MaxRetries:       3,
		ParseRetries:     2,
		StorageRetries:   2,
		StorageRetryBase: time.Millisecond,
		Backoff:          queue.Backoff{Base: time.Millisecond, Cap: 5 * time.Millisecond},
		RunID:            "test-run",
	}
}

func newOrch(t *testing.T, cfg Config, deps Deps) *Orchestrator {
	t.Helper()
	o, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(o.RequestShutdown)
	return o
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeChecker struct {
	mu   sync.Mutex
	bad  map[string]bool
	seen []string
}

func (p *fakeChecker) CheckProxy(_ context.Context, proxy string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, proxy)
	if p.bad[proxy] {
		return perr.Unavailablef("proxy connect refused")
	}
	return nil
}
