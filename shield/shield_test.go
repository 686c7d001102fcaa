package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/mailglot/kit"
)

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func chain(h http.Handler) http.Handler {
	stack := AdminStack(nil)
	for i := len(stack) - 1; i >= 0; i-- {
		h = stack[i](h)
	}
	return h
}

func TestAdminStackHeaders(t *testing.T) {
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if kit.GetRequestID(r.Context()) == "" {
			t.Error("no request id in context")
		}
		if GetLogger(r.Context()) == nil {
			t.Error("no logger")
		}
		w.WriteHeader(http.StatusOK)
	}))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	for _, k := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy", "Cache-Control", "X-Request-ID"} {
		if rec.Header().Get(k) == "" {
			t.Errorf("missing header %s", k)
		}
	}
}

func TestRequestIDPropagated(t *testing.T) {
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc123")
	if got := serve(h, req).Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("request id = %q", got)
	}
}

func TestHeadAsGet(t *testing.T) {
	var method string
	h := HeadAsGet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { method = r.Method }))
	serve(h, httptest.NewRequest(http.MethodHead, "/", nil))
	if method != http.MethodGet {
		t.Errorf("method = %s", method)
	}
}

func TestLimitBody(t *testing.T) {
	var readErr error
	h := LimitBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	serve(h, httptest.NewRequest(http.MethodPut, "/", strings.NewReader(strings.Repeat("x", 64))))
	if readErr == nil {
		t.Error("oversized body read without error")
	}
}
