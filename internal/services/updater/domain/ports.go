// Package domain defines the types and ports of the title updater
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SourceProvider fetches and normalizes titles from one upstream
type SourceProvider interface {
	Source() Source
	Requirements() Requirements
	Fetch(ctx context.Context, externalID string, leases Leases) (RawResponse, error)
	Normalize(raw RawResponse) (NormalizedTitle, error)
}

// Lister is the optional catalogue walking capability used by discovery
type Lister interface {
	ListPage(ctx context.Context, page int, leases Leases) (Page, error)
}

// Storage persists titles, queue seeds and dead letters
type Storage interface {
	// Upsert writes a title idempotently, merging empty incoming fields over stored ones
	Upsert(ctx context.Context, t NormalizedTitle) error
	// MarkMissing flags a title as gone upstream so sweeps skip it
	MarkMissing(ctx context.Context, source Source, externalID string) error
	ListStaleWorkItems(ctx context.Context, p StaleParams) ([]WorkItem, error)
	DeadLetter(ctx context.Context, d DeadLetter) error

	// Discover registers ids found while walking a catalogue; returns how many were new
	Discover(ctx context.Context, source Source, ids ...string) (int, error)
	ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
	DeleteDeadLetter(ctx context.Context, id uuid.UUID) error
}

// MediaStore keeps cover bytes addressed by content hash
type MediaStore interface {
	StoreAsset(ctx context.Context, hash, ext string, data []byte) (path string, err error)
	Exists(ctx context.Context, hash string) (MediaAsset, bool, error)
}

// MediaFetcher downloads covers and hands them to a MediaStore
type MediaFetcher interface {
	FetchAndStore(ctx context.Context, url string) (MediaAsset, error)
}

// ProxyChecker sends a test request through one proxy; an error charged to
// resources (see Kind.ResourceFailure) means the proxy is not usable
type ProxyChecker interface {
	CheckProxy(ctx context.Context, proxy string) error
}

// ProxyForgetter drops per proxy state such as cached transports
type ProxyForgetter interface {
	ForgetProxy(proxy string)
}

// EventSink receives one record per disposition for analytics
type EventSink interface {
	Record(ctx context.Context, d Disposition) error
}

// ResourceRegistry persists pool health across restarts
type ResourceRegistry interface {
	SaveResource(ctx context.Context, r Resource) error
	LoadResources(ctx context.Context, kind ResourceKind) ([]Resource, error)
	RegistryStats(ctx context.Context) ([]RegistryStat, error)
}

// RegistryStat is a per kind count of resources by state
type RegistryStat struct {
	Kind        ResourceKind `json:"kind"`
	Total       int          `json:"total"`
	Healthy     int          `json:"healthy"`
	Cooling     int          `json:"cooling"`
	Blacklisted int          `json:"blacklisted"`
	Uses        int64        `json:"uses"`
}

// WorkerPort runs the long lived refresh loop
type WorkerPort interface {
	Run(ctx context.Context) error
}

// RefresherPort enqueues titles whose last refresh is older than the staleness threshold
type RefresherPort interface {
	RefreshStale(ctx context.Context, p StaleParams) (int, error)
}

// DiscovererPort walks source catalogues and registers unseen ids
type DiscovererPort interface {
	Discover(ctx context.Context, source Source, fromPage, maxPages int) (int, error)
}

// ReplayPort moves dead letters back onto the queue
type ReplayPort interface {
	Replay(ctx context.Context, limit int) (int, error)
}

// BatchPort works through whatever is queued, then drains and stops
type BatchPort interface {
	RunUntilEmpty(ctx context.Context, poll time.Duration) error
}
