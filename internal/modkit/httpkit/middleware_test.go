package httpkit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func wrap(h http.Handler) http.Handler {
	stack := CommonStack()
	for i := len(stack) - 1; i >= 0; i-- {
		h = stack[i](h)
	}
	return h
}

func TestCommonStack_Heartbeat(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	wrap(http.NotFoundHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/health = %d", rr.Code)
	}
}

func TestCommonStack_RequestIDAndHandler(t *testing.T) {
	t.Parallel()

	var gotID string
	h := wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-Request-Id")
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/updater/status/", nil)
	req.Header.Set("X-Request-Id", "ops-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || gotID != "ops-42" {
		t.Fatalf("status %d, request id %q", rr.Code, gotID)
	}
}

func TestCommonStack_PanicBecomesEnvelope(t *testing.T) {
	t.Parallel()

	h := wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusInternalServerError || !strings.Contains(rr.Body.String(), `"status_code":500`) {
		t.Fatalf("panic response = %d %s", rr.Code, rr.Body)
	}
}
