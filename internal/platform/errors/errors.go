// Package errors is the coded error type shared by every layer of the updater
//
// Import it as perr. A code decides the HTTP status, the log name and, for
// workers, whether a failure is retried, charged to a resource or dead lettered
package errors

import (
	stderrs "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode classifies an error; it marshals as its short name
type ErrorCode uint16

const (
	ErrorCodeUnknown ErrorCode = iota
	ErrorCodePanic             // recovered panic
	ErrorCodeInvalidArgument   // caller passed something unusable
	ErrorCodeValidation        // request body failed its tags
	ErrorCodeJSON              // body is not the JSON we expect
	ErrorCodeUnauthorized
	ErrorCodeForbidden
	ErrorCodeNotFound
	ErrorCodeConflict
	ErrorCodeDuplicateKey
	ErrorCodeDB
	ErrorCodeUnavailable     // transient network or backend failure
	ErrorCodeTooManyRequests // upstream rate limit, may carry a retry hint
	ErrorCodeExhausted       // no healthy proxy or credential to lease
	ErrorCodeParse           // upstream payload no longer matches its decoder
	ErrorCodeMedia           // cover download rejected or failed
)

var codeTable = [...]struct {
	name   string
	status int
}{
	ErrorCodeUnknown:         {"unknown", http.StatusInternalServerError},
	ErrorCodePanic:           {"panic", http.StatusInternalServerError},
	ErrorCodeInvalidArgument: {"invalid_argument", http.StatusUnprocessableEntity},
	ErrorCodeValidation:      {"validation", http.StatusBadRequest},
	ErrorCodeJSON:            {"json", http.StatusBadRequest},
	ErrorCodeUnauthorized:    {"unauthorized", http.StatusUnauthorized},
	ErrorCodeForbidden:       {"forbidden", http.StatusForbidden},
	ErrorCodeNotFound:        {"not_found", http.StatusNotFound},
	ErrorCodeConflict:        {"conflict", http.StatusConflict},
	ErrorCodeDuplicateKey:    {"duplicate_key", http.StatusConflict},
	ErrorCodeDB:              {"db", http.StatusInternalServerError},
	ErrorCodeUnavailable:     {"unavailable", http.StatusServiceUnavailable},
	ErrorCodeTooManyRequests: {"rate_limited", http.StatusTooManyRequests},
	ErrorCodeExhausted:       {"exhausted", http.StatusServiceUnavailable},
	ErrorCodeParse:           {"parse", http.StatusBadGateway},
	ErrorCodeMedia:           {"media", http.StatusBadGateway},
}

func (c ErrorCode) known() bool { return int(c) < len(codeTable) }

// String is the short name used in logs, events and envelopes
func (c ErrorCode) String() string {
	if !c.known() {
		return codeTable[ErrorCodeUnknown].name
	}
	return codeTable[c].name
}

// Status is the HTTP status an error with this code is answered with
func (c ErrorCode) Status() int {
	if !c.known() {
		return http.StatusInternalServerError
	}
	return codeTable[c].status
}

// MarshalText implements encoding.TextMarshaler
func (c ErrorCode) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText accepts the short names; anything else reads as unknown
func (c *ErrorCode) UnmarshalText(b []byte) error {
	*c = ErrorCodeUnknown
	for i, row := range codeTable {
		if row.name == string(b) {
			*c = ErrorCode(i)
			break
		}
	}
	return nil
}

// Error carries a code, a message and optional metadata around a cause
type Error struct {
	orig       error
	msg        string
	code       ErrorCode
	field      string        // offending input field
	retryAfter time.Duration // upstream Retry-After hint
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.orig != nil:
		return e.msg + ": " + e.orig.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.orig }

// Code returns the error code
func (e *Error) Code() ErrorCode { return e.code }

// Field names the input field at fault, if any
func (e *Error) Field() string { return e.field }

// RetryAfter is the upstream retry hint, zero when none was given
func (e *Error) RetryAfter() time.Duration { return e.retryAfter }

// Wire is the client visible part of an error
type Wire struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
}

// WireFrom exposes err to clients; the wrapped cause stays server side
func WireFrom(err error) Wire {
	if err == nil {
		return Wire{}
	}
	if e, ok := As(err); ok {
		return Wire{Code: e.code, Message: e.msg, Field: e.field}
	}
	return Wire{Code: ErrorCodeUnknown, Message: err.Error()}
}

// As finds the outermost *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns err's code, Unknown for foreign errors and nil
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.code
	}
	return ErrorCodeUnknown
}

// IsCode reports whether err carries code
func IsCode(err error, code ErrorCode) bool { return CodeOf(err) == code }

// HTTPStatus maps any error to a status code
func HTTPStatus(err error) int { return CodeOf(err).Status() }

// RetryAfterOf returns err's retry hint, zero when absent
func RetryAfterOf(err error) time.Duration {
	if e, ok := As(err); ok {
		return e.retryAfter
	}
	return 0
}

// with applies set to a copy of err's *Error; foreign errors pass through
func with(err error, set func(*Error)) error {
	e, ok := As(err)
	if !ok {
		return err
	}
	c := *e
	set(&c)
	return &c
}

// WithField returns a copy of err naming the offending field
func WithField(err error, field string) error {
	return with(err, func(e *Error) { e.field = field })
}

// WithRetryAfter returns a copy of err carrying an upstream retry hint
func WithRetryAfter(err error, d time.Duration) error {
	return with(err, func(e *Error) { e.retryAfter = d })
}

// New returns an error with code and msg
func New(code ErrorCode, msg string) error { return &Error{code: code, msg: msg} }

// Newf is New with a format
func Newf(code ErrorCode, format string, a ...any) error { return New(code, fmt.Sprintf(format, a...)) }

// Wrap wraps orig with code and msg
func Wrap(orig error, code ErrorCode, msg string) error {
	return &Error{code: code, msg: msg, orig: orig}
}

// Wrapf is Wrap with a format
func Wrapf(orig error, code ErrorCode, format string, a ...any) error {
	return Wrap(orig, code, fmt.Sprintf(format, a...))
}

// one constructor per code the updater raises often

func NotFoundf(format string, a ...any) error     { return Newf(ErrorCodeNotFound, format, a...) }
func InvalidArgf(format string, a ...any) error   { return Newf(ErrorCodeInvalidArgument, format, a...) }
func DBf(format string, a ...any) error           { return Newf(ErrorCodeDB, format, a...) }
func JSONErrf(format string, a ...any) error      { return Newf(ErrorCodeJSON, format, a...) }
func PanicErrf(format string, a ...any) error     { return Newf(ErrorCodePanic, format, a...) }
func Unauthorizedf(format string, a ...any) error { return Newf(ErrorCodeUnauthorized, format, a...) }
func Conflictf(format string, a ...any) error     { return Newf(ErrorCodeConflict, format, a...) }
func Unavailablef(format string, a ...any) error  { return Newf(ErrorCodeUnavailable, format, a...) }
func Parsef(format string, a ...any) error        { return Newf(ErrorCodeParse, format, a...) }
func Exhaustedf(format string, a ...any) error    { return Newf(ErrorCodeExhausted, format, a...) }
func Mediaf(format string, a ...any) error        { return Newf(ErrorCodeMedia, format, a...) }
func RateLimitedf(format string, a ...any) error  { return Newf(ErrorCodeTooManyRequests, format, a...) }
func Internalf(format string, a ...any) error     { return Newf(ErrorCodeUnknown, format, a...) }
