package http_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	phttp "shinga/internal/platform/net/http"

	"github.com/go-chi/chi/v5"
)

func hit(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func text(s string) phttp.Handler {
	return func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, s) }
}

func TestAdaptChi_Routing(t *testing.T) {
	r := phttp.AdaptChi(chi.NewRouter())
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Root", "1")
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/healthz", text("ok"))
	r.Route("/api/v1/updater", func(u phttp.Router) {
		u.Get("/status", text("status"))
		u.Group(func(g phttp.Router) {
			g.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusUnauthorized)
				})
			})
			g.Post("/drain", text("draining"))
			g.Put("/resources", text("added"))
		})
	})
	r.Handle("/raw/*", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = io.WriteString(w, req.Method)
	}))

	cases := []struct {
		method, path string
		code         int
		body         string
	}{
		{http.MethodGet, "/healthz", http.StatusOK, "ok"},
		{http.MethodGet, "/api/v1/updater/status", http.StatusOK, "status"},
		{http.MethodPost, "/api/v1/updater/drain", http.StatusUnauthorized, ""},
		{http.MethodPut, "/api/v1/updater/resources", http.StatusUnauthorized, ""},
		{http.MethodPost, "/api/v1/updater/status", http.StatusMethodNotAllowed, ""},
		{http.MethodDelete, "/raw/x", http.StatusOK, "DELETE"},
	}
	for _, c := range cases {
		rec := hit(t, r.Mux(), c.method, c.path)
		if rec.Code != c.code {
			t.Fatalf("%s %s = %d, want %d", c.method, c.path, rec.Code, c.code)
		}
		if c.body != "" && rec.Body.String() != c.body {
			t.Fatalf("%s %s body %q", c.method, c.path, rec.Body.String())
		}
		if rec.Header().Get("X-Root") != "1" {
			t.Fatalf("%s %s skipped root middleware", c.method, c.path)
		}
	}
}

func TestMountProfiler(t *testing.T) {
	off := phttp.AdaptChi(chi.NewRouter())
	phttp.MountProfiler(off, "/debug", false)
	if rec := hit(t, off.Mux(), http.MethodGet, "/debug/pprof/"); rec.Code != http.StatusNotFound {
		t.Fatalf("disabled profiler = %d", rec.Code)
	}

	on := phttp.AdaptChi(chi.NewRouter())
	phttp.MountProfiler(on, "debug/", true)
	rec := hit(t, on.Mux(), http.MethodGet, "/debug/pprof/cmdline")
	if rec.Code != http.StatusOK {
		t.Fatalf("cmdline = %d", rec.Code)
	}
	if rec := hit(t, on.Mux(), http.MethodGet, "/debug"); rec.Code != http.StatusMovedPermanently {
		t.Fatalf("prefix root = %d", rec.Code)
	}
	if !strings.Contains(hit(t, on.Mux(), http.MethodGet, "/debug/vars").Body.String(), "memstats") {
		t.Fatal("expvar not served")
	}
}
