package domain

import (
	"context"
	"errors"

	perr "shinga/internal/platform/errors"
)

// Kind classifies a failure for retry decisions, dead letters and events
type Kind string

// Failure kinds
const (
	KindNone        Kind = ""
	KindNetwork     Kind = "network"
	KindRateLimited Kind = "rate_limited"
	KindNotFound    Kind = "not_found"
	KindParse       Kind = "parse"
	KindExhausted   Kind = "exhausted"
	KindMedia       Kind = "media"
	KindStorage     Kind = "storage"
	KindPanic       Kind = "panic"
	KindUnknown     Kind = "unknown"
)

// KindOf maps an error onto the failure taxonomy
// deadlines and transport level cancellations count as network failures
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	switch perr.CodeOf(err) {
	case perr.ErrorCodeUnavailable:
		return KindNetwork
	case perr.ErrorCodeTooManyRequests:
		return KindRateLimited
	case perr.ErrorCodeNotFound:
		return KindNotFound
	case perr.ErrorCodeParse, perr.ErrorCodeJSON, perr.ErrorCodeValidation:
		return KindParse
	case perr.ErrorCodeExhausted:
		return KindExhausted
	case perr.ErrorCodeMedia:
		return KindMedia
	case perr.ErrorCodeDB, perr.ErrorCodeDuplicateKey, perr.ErrorCodeConflict:
		return KindStorage
	case perr.ErrorCodePanic:
		return KindPanic
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return KindUnknown
}

// Transient reports whether a requeue with backoff may help
func (k Kind) Transient() bool { return k == KindNetwork || k == KindRateLimited }

// ResourceFailure reports whether the leased resources should be charged
// with the failure (blocked proxy, throttled key, dead route)
func (k Kind) ResourceFailure() bool { return k == KindNetwork || k == KindRateLimited }
