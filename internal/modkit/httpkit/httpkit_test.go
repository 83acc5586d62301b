package httpkit

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	perrs "shinga/internal/platform/errors"
	phttp "shinga/internal/platform/net/http"

	"github.com/go-chi/chi/v5"
)

func newRouter() (*chi.Mux, Router) {
	m := chi.NewRouter()
	return m, phttp.AdaptChi(m)
}

func serve(m http.Handler, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	return rec
}

func TestGetPost_Envelope(t *testing.T) {
	t.Parallel()

	m, r := newRouter()
	Get(r, "/state", func(*http.Request) (any, error) { return map[string]string{"state": "running"}, nil })
	Get(r, "/gone", func(*http.Request) (any, error) { return nil, perrs.NotFoundf("nothing here") })
	Post(r, "/drain", func(*http.Request) (any, error) {
		return Response{Status: http.StatusAccepted, Body: map[string]string{"state": "draining"}}, nil
	})

	rec := serve(m, http.MethodGet, "/state", "")
	var env phttp.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil || rec.Code != http.StatusOK {
		t.Fatalf("state: %d %v", rec.Code, err)
	}
	if env.Data.(map[string]any)["state"] != "running" {
		t.Fatalf("data %#v", env.Data)
	}
	if rec := serve(m, http.MethodGet, "/gone", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("gone: %d", rec.Code)
	}
	if rec := serve(m, http.MethodPost, "/drain", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("drain: %d", rec.Code)
	}
}

type addBody struct {
	Kind   string   `json:"kind" validate:"required,oneof=proxy credential"`
	Values []string `json:"values" validate:"required,min=1"`
}

func TestPutJSON_BindsAndValidates(t *testing.T) {
	t.Parallel()

	m, r := newRouter()
	PutJSON(r, "/resources", func(_ *http.Request, in addBody) (any, error) {
		return map[string]int{"added": len(in.Values)}, nil
	})

	if rec := serve(m, http.MethodPut, "/resources", `{"kind":"proxy","values":["a","b"]}`); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"added":2`) {
		t.Fatalf("valid body: %d %s", rec.Code, rec.Body)
	}
	if rec := serve(m, http.MethodPut, "/resources", `{"kind":"gpu","values":["a"]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad kind: %d", rec.Code)
	}
	if rec := serve(m, http.MethodPut, "/resources", `{"kind":`); rec.Code != http.StatusBadRequest {
		t.Fatalf("broken json: %d", rec.Code)
	}
}

func TestProtected_TokenAndUser(t *testing.T) {
	t.Parallel()

	port := NewPortFunc(func(token string) (string, error) {
		if token != "let-me-in" {
			return "", errors.New("nope")
		}
		return "admin", nil
	})

	m, r := newRouter()
	Get(r, "/open", func(*http.Request) (any, error) { return "ok", nil })
	Protected(r, port, func(p Router) {
		Post(p, "/drain", func(req *http.Request) (any, error) {
			who, err := User(req)
			if err != nil {
				return nil, err
			}
			return map[string]string{"by": who}, nil
		})
	})

	if rec := serve(m, http.MethodGet, "/open", ""); rec.Code != http.StatusOK {
		t.Fatalf("open route: %d", rec.Code)
	}
	if rec := serve(m, http.MethodPost, "/drain", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", rec.Code)
	}
	if rec := serve(m, http.MethodPost, "/drain", "", "Authorization", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", rec.Code)
	}
	rec := serve(m, http.MethodPost, "/drain", "", "Authorization", "bearer   let-me-in")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"by":"admin"`) {
		t.Fatalf("good token: %d %s", rec.Code, rec.Body)
	}
}

func TestProtected_NilPortIsOpen(t *testing.T) {
	t.Parallel()

	m, r := newRouter()
	Protected(r, nil, func(p Router) {
		Get(p, "/x", func(req *http.Request) (any, error) {
			if _, err := User(req); err == nil {
				t.Errorf("no user expected on an open group")
			}
			return "ok", nil
		})
	})
	if rec := serve(m, http.MethodGet, "/x", ""); rec.Code != http.StatusOK {
		t.Fatalf("open group: %d", rec.Code)
	}
}

func TestMountAPIV1_PrefixAndMiddleware(t *testing.T) {
	t.Parallel()

	m, r := newRouter()
	tag := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Scope", "api")
			next.ServeHTTP(w, req)
		})
	}
	MountAPIV1(r, []func(http.Handler) http.Handler{tag}, func(api Router) {
		MountUnder(api, "/updater", nil, func(u Router) {
			Get(u, "/status", func(*http.Request) (any, error) { return "ok", nil })
		})
	})

	rec := serve(m, http.MethodGet, "/api/v1/updater/status", "")
	if rec.Code != http.StatusOK || rec.Header().Get("X-Scope") != "api" {
		t.Fatalf("mounted route: %d %v", rec.Code, rec.Header())
	}
	if rec := serve(m, http.MethodGet, "/updater/status", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unprefixed route: %d", rec.Code)
	}
}
