// Package media downloads cover images once and stores them by content hash
package media

import (
	"context"
	"encoding/hex"
	"io"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	perr "shinga/internal/platform/errors"
	"shinga/internal/platform/logger"
	"shinga/internal/services/updater/domain"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"
	"golang.org/x/time/rate"
)

// Config bounds what the fetcher accepts
type Config struct {
	MaxBytes     int64
	AllowedTypes []string
	Timeout      time.Duration
	UserAgent    string

	// per host pacing
	HostRPS   float64
	HostBurst int
}

// Fetcher downloads covers with per url de-duplication
type Fetcher struct {
	cfg    Config
	client *http.Client
	store  domain.MediaStore
	log    logger.Logger

	memo     *xsync.Map[string, domain.MediaAsset]
	inflight *xsync.Map[string, *call]
	hosts    *xsync.Map[string, *rate.Limiter]
}

type call struct {
	done  chan struct{}
	asset domain.MediaAsset
	err   error
}

var _ domain.MediaFetcher = (*Fetcher)(nil)

// New builds a fetcher; a nil client uses a plain http.Client
func New(cfg Config, store domain.MediaStore, client *http.Client) *Fetcher {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 5 << 20
	}
	if len(cfg.AllowedTypes) == 0 {
		cfg.AllowedTypes = DefaultAllowedTypes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "shinga-updater"
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{
		cfg:      cfg,
		client:   client,
		store:    store,
		log:      *logger.Named("media"),
		memo:     xsync.NewMap[string, domain.MediaAsset](),
		inflight: xsync.NewMap[string, *call](),
		hosts:    xsync.NewMap[string, *rate.Limiter](),
	}
}

// FetchAndStore resolves url to a stored asset
// concurrent calls for one url share a single download and resolved urls
// are served from memory
func (f *Fetcher) FetchAndStore(ctx context.Context, rawURL string) (domain.MediaAsset, error) {
	if a, ok := f.memo.Load(rawURL); ok {
		return a, nil
	}

	c, loaded := f.inflight.LoadOrCompute(rawURL, func() (*call, bool) {
		return &call{done: make(chan struct{})}, false
	})
	if loaded {
		select {
		case <-ctx.Done():
			return domain.MediaAsset{}, perr.Wrapf(ctx.Err(), perr.ErrorCodeMedia, "wait for %s", rawURL)
		case <-c.done:
			return c.asset, c.err
		}
	}

	c.asset, c.err = f.fetch(ctx, rawURL)
	if c.err == nil {
		f.memo.Store(rawURL, c.asset)
	}
	f.inflight.Delete(rawURL)
	close(c.done)
	return c.asset, c.err
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (domain.MediaAsset, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.MediaAsset{}, perr.Mediaf("bad cover url %q", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	if err := f.hostLimiter(u.Host).Wait(ctx); err != nil {
		return domain.MediaAsset{}, perr.Wrapf(err, perr.ErrorCodeMedia, "pace %s", u.Host)
	}

	data, declared, err := f.download(ctx, rawURL)
	if err != nil {
		return domain.MediaAsset{}, err
	}

	ct, err := f.checkType(declared, data)
	if err != nil {
		return domain.MediaAsset{}, err
	}

	sum := xxh3.Hash128(data).Bytes()
	hash := hex.EncodeToString(sum[:])

	if existing, ok, err := f.store.Exists(ctx, hash); err != nil {
		return domain.MediaAsset{}, perr.Wrapf(err, perr.ErrorCodeMedia, "lookup %s", hash)
	} else if ok {
		existing.SourceURL = rawURL
		f.log.Debug().Str("url", rawURL).Str("hash", hash).Msg("cover already stored")
		return existing, nil
	}

	rel, err := f.store.StoreAsset(ctx, hash, extForType(ct), data)
	if err != nil {
		return domain.MediaAsset{}, perr.Wrapf(err, perr.ErrorCodeMedia, "store %s", hash)
	}
	asset := domain.MediaAsset{
		Hash:        hash,
		SourceURL:   rawURL,
		Path:        rel,
		PublicURL:   rel,
		ContentType: ct,
		Size:        int64(len(data)),
	}
	if pu, ok := f.store.(interface{ PublicURL(string) string }); ok {
		asset.PublicURL = pu.PublicURL(rel)
	}
	f.log.Debug().Str("url", rawURL).Str("hash", hash).Int64("bytes", asset.Size).Msg("cover stored")
	return asset, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", perr.Wrapf(err, perr.ErrorCodeMedia, "new request")
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", strings.Join(f.cfg.AllowedTypes, ","))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", perr.Wrapf(err, perr.ErrorCodeMedia, "get %s", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", perr.Mediaf("get %s: status %d", rawURL, resp.StatusCode)
	}
	if resp.ContentLength > f.cfg.MaxBytes {
		return nil, "", perr.Mediaf("get %s: %d bytes exceeds limit %d", rawURL, resp.ContentLength, f.cfg.MaxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, "", perr.Wrapf(err, perr.ErrorCodeMedia, "read %s", rawURL)
	}
	if int64(len(data)) > f.cfg.MaxBytes {
		return nil, "", perr.Mediaf("get %s: body exceeds limit %d", rawURL, f.cfg.MaxBytes)
	}
	if len(data) == 0 {
		return nil, "", perr.Mediaf("get %s: empty body", rawURL)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// checkType returns the accepted media type
// the sniffed type must be allowed and agree with a declared one
func (f *Fetcher) checkType(declared string, data []byte) (string, error) {
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	if !slices.Contains(f.cfg.AllowedTypes, sniffed) {
		return "", perr.Mediaf("content type %q not allowed", sniffed)
	}
	if declared == "" {
		return sniffed, nil
	}
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeMedia, "bad content type %q", declared)
	}
	if mt == "application/octet-stream" || mt == "binary/octet-stream" {
		return sniffed, nil
	}
	if mt != sniffed {
		return "", perr.Mediaf("declared %q but body is %q", mt, sniffed)
	}
	return sniffed, nil
}

func (f *Fetcher) hostLimiter(host string) *rate.Limiter {
	l, _ := f.hosts.LoadOrCompute(host, func() (*rate.Limiter, bool) {
		if f.cfg.HostRPS <= 0 {
			return rate.NewLimiter(rate.Inf, 1), false
		}
		burst := f.cfg.HostBurst
		if burst <= 0 {
			burst = 1
		}
		return rate.NewLimiter(rate.Limit(f.cfg.HostRPS), burst), false
	})
	return l
}
