package errors

import (
	"encoding/json"
	stderrs "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		NotFoundf("x"):                http.StatusNotFound,
		InvalidArgf("x"):              http.StatusUnprocessableEntity,
		Conflictf("x"):                http.StatusConflict,
		New(ErrorCodeValidation, "x"): http.StatusBadRequest,
		JSONErrf("x"):                 http.StatusBadRequest,
		Unauthorizedf("x"):            http.StatusUnauthorized,
		RateLimitedf("x"):             http.StatusTooManyRequests,
		Unavailablef("x"):             http.StatusServiceUnavailable,
		Exhaustedf("x"):               http.StatusServiceUnavailable,
		Parsef("x"):                   http.StatusBadGateway,
		Mediaf("x"):                   http.StatusBadGateway,
		DBf("x"):                      http.StatusInternalServerError,
		PanicErrf("x"):                http.StatusInternalServerError,
		Internalf("x"):                http.StatusInternalServerError,
		stderrs.New("foreign"):        http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := HTTPStatus(err); got != want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", err, got, want)
		}
	}
	if got := ErrorCode(9999).Status(); got != http.StatusInternalServerError {
		t.Fatalf("unknown code status = %d", got)
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	var nilErr *Error
	if nilErr.Error() != "<nil>" {
		t.Fatalf("nil render = %q", nilErr.Error())
	}

	src := stderrs.New("conn refused")
	err := Wrapf(src, ErrorCodeUnavailable, "fetch %s", "mal/2")
	if err.Error() != "fetch mal/2: conn refused" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !stderrs.Is(err, src) {
		t.Fatalf("cause not reachable")
	}
	if e, ok := As(fmt.Errorf("outer: %w", err)); !ok || e.Code() != ErrorCodeUnavailable {
		t.Fatalf("As through fmt wrap failed")
	}
	if _, ok := As(src); ok {
		t.Fatalf("As matched a foreign error")
	}
}

func TestWithField_CopyOnWrite(t *testing.T) {
	base := InvalidArgf("bad kind")
	withField := WithField(base, "kind")
	if e, _ := As(withField); e.Field() != "kind" {
		t.Fatalf("field = %q", e.Field())
	}
	if e, _ := As(base); e.Field() != "" {
		t.Fatalf("original mutated")
	}
	plain := stderrs.New("plain")
	if WithField(plain, "x") != plain {
		t.Fatalf("foreign error should pass through")
	}
}

func TestWireFrom(t *testing.T) {
	if w := WireFrom(nil); w != (Wire{}) {
		t.Fatalf("WireFrom(nil) = %+v", w)
	}
	w := WireFrom(WithField(Wrap(stderrs.New("inner"), ErrorCodeUnauthorized, "nope"), "token"))
	if w.Code != ErrorCodeUnauthorized || w.Message != "nope" || w.Field != "token" {
		t.Fatalf("wire = %+v", w)
	}
	if w := WireFrom(stderrs.New("boom")); w.Code != ErrorCodeUnknown || w.Message != "boom" {
		t.Fatalf("foreign wire = %+v", w)
	}
}

func TestRetryAfter_CopyOnWrite(t *testing.T) {
	base := RateLimitedf("slow down")
	hinted := WithRetryAfter(base, 7*time.Second)

	if got := RetryAfterOf(hinted); got != 7*time.Second {
		t.Fatalf("RetryAfterOf = %v, want 7s", got)
	}
	if got := RetryAfterOf(base); got != 0 {
		t.Fatalf("original mutated, RetryAfterOf = %v", got)
	}
	if !IsCode(hinted, ErrorCodeTooManyRequests) {
		t.Fatalf("code lost after WithRetryAfter")
	}

	foreign := stderrs.New("plain")
	if WithRetryAfter(foreign, time.Second) != foreign {
		t.Fatalf("foreign error should pass through unchanged")
	}
	if RetryAfterOf(foreign) != 0 {
		t.Fatalf("foreign error has no retry hint")
	}
}

func TestErrorCodeString(t *testing.T) {
	cases := map[ErrorCode]string{
		ErrorCodeUnavailable:     "unavailable",
		ErrorCodeTooManyRequests: "rate_limited",
		ErrorCodeNotFound:        "not_found",
		ErrorCodeParse:           "parse",
		ErrorCodeExhausted:       "exhausted",
		ErrorCodeMedia:           "media",
		ErrorCodeDB:              "db",
		ErrorCode(9999):          "unknown",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Fatalf("ErrorCode(%d).String() = %q, want %q", code, got, want)
		}
	}
}

func TestErrorCodeText(t *testing.T) {
	b, err := json.Marshal(WireFrom(NotFoundf("title MAL|2 not found")))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"code":"not_found"`) {
		t.Fatalf("wire json %s", b)
	}
	var w Wire
	if err := json.Unmarshal(b, &w); err != nil || w.Code != ErrorCodeNotFound {
		t.Fatalf("round trip %+v %v", w, err)
	}
	var c ErrorCode = ErrorCodeDB
	if err := c.UnmarshalText([]byte("no_such_code")); err != nil || c != ErrorCodeUnknown {
		t.Fatalf("unknown name decoded to %v (%v)", c, err)
	}
}
