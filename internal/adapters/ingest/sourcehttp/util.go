package sourcehttp

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	perr "shinga/internal/platform/errors"
)

// StatusError keeps the upstream status and a body excerpt under the coded error
type StatusError struct {
	Status int
	Body   string
}

// Error interface
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// HTTPStatus interface
func (e *StatusError) HTTPStatus() int { return e.Status }

func statusErr(resp *http.Response, code perr.ErrorCode, path string) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	se := &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	return perr.Wrapf(se, code, "%s", path)
}

// retryAfter reads Retry-After (seconds or http date) and falls back to an
// exhausted X-RateLimit window reset
func retryAfter(h http.Header, now time.Time) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			return time.Duration(s) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil && t.After(now) {
			return t.Sub(now)
		}
	}
	rem := h.Get("X-RateLimit-Remaining")
	if rem == "" || atoi(rem) > 0 {
		return 0
	}
	if sec := atoi(h.Get("X-RateLimit-Reset")); sec > 0 {
		reset := time.Unix(int64(sec), 0)
		if reset.After(now) {
			return reset.Sub(now)
		}
	}
	return 0
}

func atoi(s string) int {
	i, _ := strconv.Atoi(strings.TrimSpace(s))
	return i
}

func drainAndClose(rc io.ReadCloser) error {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 4096))
	return rc.Close()
}

// redact hides proxy credentials in log and error text
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User("xxx")
	return u.String()
}
