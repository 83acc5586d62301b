// Package sourcehttp is the HTTP client shared by the catalogue adapters
//
// One Client talks to one upstream. Each call goes out through the leased
// proxy (transports are cached per proxy url) with the leased credential,
// makes a single attempt and maps the outcome onto the coded errors the
// refresh pipeline routes on. Retries belong to the caller.
package sourcehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	perr "shinga/internal/platform/errors"
	"shinga/internal/platform/logger"
	"shinga/internal/services/updater/domain"

	"github.com/puzpuzpuz/xsync/v4"
)

const (
	defaultTimeout = 15 * time.Second
	defaultUA      = "shinga-updater"
	defaultMaxBody = 8 << 20
)

// Options configures a Client
type Options struct {
	// Name labels log lines, usually the source tag
	Name      string
	BaseURL   string
	UserAgent string

	// Timeout is the fallback per request cap when ctx has no deadline
	Timeout time.Duration

	// CredentialHeader carries the leased credential, default Authorization
	CredentialHeader string
	// CredentialScheme prefixes the credential, e.g. Bearer; empty sends it raw
	CredentialScheme string

	// Header is sent on every request
	Header http.Header

	MaxBody int64
}

// Client issues single attempt requests against one upstream
type Client struct {
	opts       Options
	base       *url.URL
	direct     *http.Client
	transports *xsync.Map[string, *http.Client]
	log        logger.Logger
	now        func() time.Time
}

// New builds a Client; a bad BaseURL is a configuration error
func New(o Options) (*Client, error) {
	if o.UserAgent == "" {
		o.UserAgent = defaultUA
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.CredentialHeader == "" {
		o.CredentialHeader = "Authorization"
	}
	if o.MaxBody <= 0 {
		o.MaxBody = defaultMaxBody
	}
	base, err := url.Parse(strings.TrimSpace(o.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, perr.Newf(perr.ErrorCodeInvalidArgument, "sourcehttp %s: bad base url %q", o.Name, o.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	name := o.Name
	if name == "" {
		name = base.Host
	}
	return &Client{
		opts:       o,
		base:       base,
		direct:     &http.Client{Timeout: o.Timeout, Transport: newTransport(nil)},
		transports: xsync.NewMap[string, *http.Client](),
		log:        logger.Named("sourcehttp").With().Str("upstream", name).Logger(),
		now:        time.Now,
	}, nil
}

// BaseURL returns the resolved base
func (c *Client) BaseURL() string { return c.base.String() }

// Get fetches path relative to the base url and returns the body
func (c *Client) Get(ctx context.Context, path string, leases domain.Leases) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, path, nil, leases)
}

// PostJSON posts body encoded as JSON and returns the response body
func (c *Client) PostJSON(ctx context.Context, path string, body any, leases domain.Leases) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeJSON, "encode request for %s", path)
	}
	return c.Do(ctx, http.MethodPost, path, b, leases)
}

// Do sends one request and classifies the result
//
//	2xx              body
//	404, 410         NotFound
//	429, 403         TooManyRequests with the upstream retry hint
//	401, 5xx, io     Unavailable
//	anything else    Parse
func (c *Client) Do(ctx context.Context, method, path string, body []byte, leases domain.Leases) ([]byte, error) {
	target, err := c.resolve(path)
	if err != nil {
		return nil, err
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeParse, "new request %s", path)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range c.opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if cred := leases.CredentialValue(); cred != "" {
		if c.opts.CredentialScheme != "" {
			cred = c.opts.CredentialScheme + " " + cred
		}
		req.Header.Set(c.opts.CredentialHeader, cred)
	}

	hc, err := c.clientFor(leases.ProxyURL())
	if err != nil {
		return nil, err
	}

	start := c.now()
	resp, err := hc.Do(req)
	lat := c.now().Sub(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, perr.Wrapf(ctx.Err(), perr.ErrorCodeUnavailable, "%s %s", method, path)
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "%s %s", method, path)
	}
	defer func() {
		if cerr := drainAndClose(resp.Body); cerr != nil {
			c.log.Debug().Err(cerr).Str("path", path).Msg("close body failed")
		}
	}()

	wait := retryAfter(resp.Header, c.now())
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", lat).
		Bool("proxied", leases.Proxy != nil).
		Dur("retry_after", wait).
		Msg("upstream response")

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		b, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBody+1))
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "read %s", path)
		}
		if int64(len(b)) > c.opts.MaxBody {
			return nil, perr.Newf(perr.ErrorCodeParse, "%s: body exceeds %d bytes", path, c.opts.MaxBody)
		}
		return b, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, statusErr(resp, perr.ErrorCodeNotFound, path)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
		return nil, perr.WithRetryAfter(statusErr(resp, perr.ErrorCodeTooManyRequests, path), wait)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode >= 500:
		return nil, perr.WithRetryAfter(statusErr(resp, perr.ErrorCodeUnavailable, path), wait)
	default:
		return nil, statusErr(resp, perr.ErrorCodeParse, path)
	}
}

func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeParse, "bad path %q", path)
	}
	return c.base.ResolveReference(ref).String(), nil
}

// clientFor returns the direct client or a cached one routed via proxy
func (c *Client) clientFor(proxy string) (*http.Client, error) {
	if proxy == "" {
		return c.direct, nil
	}
	if hc, ok := c.transports.Load(proxy); ok {
		return hc, nil
	}
	u, err := url.Parse(proxy)
	if err != nil || u.Host == "" {
		// charged to the proxy like any connect failure
		return nil, perr.Newf(perr.ErrorCodeUnavailable, "bad proxy url %q", redact(proxy))
	}
	hc, _ := c.transports.LoadOrCompute(proxy, func() (*http.Client, bool) {
		return &http.Client{Timeout: c.opts.Timeout, Transport: newTransport(u)}, false
	})
	return hc, nil
}

// CheckProxy sends a GET for the base url through proxy and classifies it like Do
func (c *Client) CheckProxy(ctx context.Context, proxy string) error {
	_, err := c.Do(ctx, http.MethodGet, "", nil, domain.Leases{
		Proxy: &domain.Lease{Kind: domain.ResourceProxy, Value: proxy},
	})
	return err
}

// ForgetProxy drops the cached transport for a proxy once it is blacklisted
func (c *Client) ForgetProxy(proxy string) {
	if hc, ok := c.transports.LoadAndDelete(proxy); ok {
		hc.CloseIdleConnections()
	}
}

func newTransport(proxy *url.URL) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = 8
	if proxy != nil {
		t.Proxy = http.ProxyURL(proxy)
	} else {
		t.Proxy = nil
	}
	return t
}
