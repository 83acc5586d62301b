package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source tags which upstream catalogue a title comes from
type Source string

// Known sources
const (
	SourceMAL       Source = "MAL"
	SourceRemanga   Source = "REMANGA"
	SourceShikimori Source = "SHIKIMORI"
)

// Sources lists every bundled source in a stable order
func Sources() []Source { return []Source{SourceMAL, SourceRemanga, SourceShikimori} }

// ParseSource accepts any casing of a known source tag
func ParseSource(s string) (Source, bool) {
	switch Source(strings.ToUpper(strings.TrimSpace(s))) {
	case SourceMAL:
		return SourceMAL, true
	case SourceRemanga:
		return SourceRemanga, true
	case SourceShikimori:
		return SourceShikimori, true
	}
	return "", false
}

// Key returns the canonical "SOURCE|id" identity
func Key(src Source, externalID string) string { return string(src) + "|" + externalID }

// SplitKey reverses Key
func SplitKey(key string) (Source, string, bool) {
	src, id, ok := strings.Cut(key, "|")
	if !ok || id == "" {
		return "", "", false
	}
	s, ok := ParseSource(src)
	return s, id, ok
}

// WorkItem is one title waiting to be refreshed
type WorkItem struct {
	Source        Source
	ExternalID    string
	StaleSince    time.Time
	RetryCount    int
	ParseFailures int
	LastError     string
}

// Key returns the canonical identity of the item
func (w WorkItem) Key() string { return Key(w.Source, w.ExternalID) }

// ResourceKind names the two rotating pools
type ResourceKind string

// Resource kinds
const (
	ResourceProxy      ResourceKind = "proxy"
	ResourceCredential ResourceKind = "credential"
)

// ResourceState is the health of a pooled resource
type ResourceState string

// Resource states
const (
	StateHealthy     ResourceState = "healthy"
	StateCooling     ResourceState = "cooling"
	StateBlacklisted ResourceState = "blacklisted"
)

// Resource is a proxy or credential with its health counters
type Resource struct {
	Kind                ResourceKind
	Value               string
	State               ResourceState
	ConsecutiveFailures int
	TotalFailures       int
	CoolRuns            int
	CooldownUntil       time.Time
	LastUsed            time.Time
	Uses                int64
}

// Lease is one in-flight use of a pooled resource
type Lease struct {
	ID         uuid.UUID
	Kind       ResourceKind
	Value      string
	AcquiredAt time.Time
}

// Leases carries whatever resources a fetch was granted
type Leases struct {
	Proxy      *Lease
	Credential *Lease
}

// ProxyURL returns the leased proxy or ""
func (l Leases) ProxyURL() string {
	if l.Proxy == nil {
		return ""
	}
	return l.Proxy.Value
}

// CredentialValue returns the leased credential or ""
func (l Leases) CredentialValue() string {
	if l.Credential == nil {
		return ""
	}
	return l.Credential.Value
}

// Need describes whether a provider wants a resource class
type Need uint8

// Need levels
const (
	NeedNone Need = iota
	NeedOptional
	NeedRequired
)

// String returns the config spelling of the need
func (n Need) String() string {
	switch n {
	case NeedOptional:
		return "optional"
	case NeedRequired:
		return "required"
	default:
		return "none"
	}
}

// ParseNeed reads none|optional|required, falling back to def
func ParseNeed(s string, def Need) Need {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return NeedNone
	case "optional":
		return NeedOptional
	case "required":
		return NeedRequired
	}
	return def
}

// Requirements declares which resource classes a provider uses
type Requirements struct {
	Proxy      Need
	Credential Need
}

// RawResponse is an undecoded upstream payload
type RawResponse struct {
	Source     Source
	ExternalID string
	Body       []byte
	FetchedAt  time.Time
}

// Cover holds the upstream cover urls by size
type Cover struct {
	URL      string `json:"url" validate:"omitempty,url"`
	SmallURL string `json:"small_url" validate:"omitempty,url"`
	LargeURL string `json:"large_url" validate:"omitempty,url"`
}

// Best returns the largest available cover url
func (c Cover) Best() string {
	switch {
	case c.LargeURL != "":
		return c.LargeURL
	case c.URL != "":
		return c.URL
	default:
		return c.SmallURL
	}
}

// Title types
const (
	TypeManga      = "manga"
	TypeManhwa     = "manhwa"
	TypeManhua     = "manhua"
	TypeLightNovel = "light_novel"
	TypeNovel      = "novel"
	TypeOneShot    = "one_shot"
	TypeDoujin     = "doujin"
	TypeComics     = "comics"
	TypeWebtoon    = "webtoon"
	TypeOther      = "other"
)

// Title statuses
const (
	StatusOngoing      = "ongoing"
	StatusFinished     = "finished"
	StatusDiscontinued = "discontinued"
	StatusFrozen       = "frozen"
	StatusAnons        = "anons"
	StatusLicensed     = "licensed"
)

// NormalizedTitle is the source independent shape every provider produces
type NormalizedTitle struct {
	ID            string         `json:"id" validate:"required"` // canonical, may differ from Source/ExternalID
	Source        Source         `json:"source" validate:"required,oneof=MAL REMANGA SHIKIMORI"`
	ExternalID    string         `json:"external_id" validate:"required"`
	NameEN        string         `json:"name_en"`
	NameRU        string         `json:"name_ru"`
	AltNames      []string       `json:"alt_names"`
	Type          string         `json:"type" validate:"omitempty,oneof=manga manhwa manhua light_novel novel one_shot doujin comics webtoon other"`
	Status        string         `json:"status" validate:"omitempty,oneof=ongoing finished discontinued frozen anons licensed"`
	Chapters      int            `json:"chapters" validate:"gte=0"`
	Volumes       int            `json:"volumes" validate:"gte=0"`
	Views         int64          `json:"views" validate:"gte=0"`
	Rating        float64        `json:"rating" validate:"gte=0,lte=10"`
	ScoredBy      int64          `json:"scored_by" validate:"gte=0"`
	Popularity    int64          `json:"popularity" validate:"gte=0"`
	Favorites     int64          `json:"favorites" validate:"gte=0"`
	DescriptionEN string         `json:"description_en"`
	DescriptionRU string         `json:"description_ru"`
	Authors       []string       `json:"authors"`
	Genres        []string       `json:"genres"`
	Cover         Cover          `json:"cover"`
	CoverAsset    *MediaAsset    `json:"cover_asset,omitempty"`
	ReleasedFrom  *time.Time     `json:"released_from,omitempty"`
	ReleasedTo    *time.Time     `json:"released_to,omitempty"`
	Raw           map[string]any `json:"raw,omitempty"`
	FetchedAt     time.Time      `json:"fetched_at" validate:"required"`
	ContentHash   string         `json:"content_hash"`
}

// HasName reports whether any display name is present
func (t NormalizedTitle) HasName() bool {
	return t.NameEN != "" || t.NameRU != "" || len(t.AltNames) > 0
}

// MediaAsset is a stored cover image addressed by content hash
type MediaAsset struct {
	Hash        string `json:"hash"`
	SourceURL   string `json:"source_url"`
	Path        string `json:"path"`
	PublicURL   string `json:"public_url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// DeadLetter is an item that exhausted its retries
type DeadLetter struct {
	ID         uuid.UUID `json:"id"`
	Source     Source    `json:"source"`
	ExternalID string    `json:"external_id"`
	Kind       Kind      `json:"kind"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error"`
	CreatedAt  time.Time `json:"created_at"`
}

// Outcome is the final (or interim) fate of a processed item
type Outcome string

// Outcomes
const (
	OutcomeStored       Outcome = "stored"
	OutcomeMissing      Outcome = "missing"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeRequeued     Outcome = "requeued"
)

// Disposition records what happened to one item on one attempt
type Disposition struct {
	Item     WorkItem
	Outcome  Outcome
	Kind     Kind
	Attempts int
	Delay    time.Duration
	Cached   bool
	At       time.Time
}

// StaleParams selects titles due for refresh
type StaleParams struct {
	Source Source    // optional, empty means every source
	Before time.Time // refreshed_at older than this
	Limit  int       // 0 = unlimited
}

// Page is one catalogue listing page
type Page struct {
	Number  int
	IDs     []string
	HasNext bool
}
