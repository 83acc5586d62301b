package http_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	perr "shinga/internal/platform/errors"
	pnet "shinga/internal/platform/net"
	phttp "shinga/internal/platform/net/http"
)

// helper to build a request with a request_id in context
func reqWithReqID(method, path, rid string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	return req.WithContext(pnet.WithRequestID(req.Context(), rid))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) phttp.Envelope {
	t.Helper()
	var env phttp.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestJSON_WritesStatusAndContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	phttp.JSON(rec, http.StatusTeapot, map[string]int{"n": 1})
	if rec.Code != http.StatusTeapot {
		t.Fatalf("code %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("content type %q", ct)
	}
}

func TestHandle_OKEnvelope(t *testing.T) {
	h := phttp.Handle(func(*http.Request) phttp.Response {
		return phttp.OK(map[string]any{"queued": 3})
	})
	rec := httptest.NewRecorder()
	h(rec, reqWithReqID("GET", "/status", "rid-ok"))

	env := decode(t, rec)
	if rec.Code != http.StatusOK || env.StatusCode != http.StatusOK || env.Status != "OK" || env.RequestID != "rid-ok" {
		t.Fatalf("envelope %+v", env)
	}
	if m, ok := env.Data.(map[string]any); !ok || m["queued"] != float64(3) {
		t.Fatalf("data %#v", env.Data)
	}
}

func TestHandle_CustomStatusAndHeaders(t *testing.T) {
	h := phttp.Handle(func(*http.Request) phttp.Response {
		return phttp.Response{
			Status: http.StatusAccepted,
			Body:   map[string]string{"state": "draining"},
			Header: http.Header{"X-Thing": []string{"yup"}},
		}
	})
	rec := httptest.NewRecorder()
	h(rec, reqWithReqID("POST", "/drain", "rid-acc"))
	if rec.Code != http.StatusAccepted || rec.Header().Get("X-Thing") != "yup" {
		t.Fatalf("code %d headers %v", rec.Code, rec.Header())
	}
	if env := decode(t, rec); env.StatusCode != http.StatusAccepted {
		t.Fatalf("envelope %+v", env)
	}

	none := phttp.Handle(func(*http.Request) phttp.Response { return phttp.Response{Status: http.StatusNoContent} })
	rec = httptest.NewRecorder()
	none(rec, reqWithReqID("DELETE", "/x", "rid-nc"))
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Fatalf("no content code=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestHandle_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{perr.Unavailablef("updater is stopped"), http.StatusServiceUnavailable},
		{perr.InvalidArgf("limit must be a non negative integer"), http.StatusUnprocessableEntity},
		{perr.New(perr.ErrorCodeForbidden, "nope"), http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		h := phttp.Handle(func(*http.Request) phttp.Response { return phttp.Error(c.err) })
		rec := httptest.NewRecorder()
		h(rec, reqWithReqID("GET", "/err", "rid-err"))
		if rec.Code != c.code {
			t.Fatalf("%v: code %d want %d", c.err, rec.Code, c.code)
		}
		env := decode(t, rec)
		if env.StatusCode != c.code || env.Error == "" || env.RequestID != "rid-err" || env.Data != nil {
			t.Fatalf("%v: envelope %+v", c.err, env)
		}
	}
}
