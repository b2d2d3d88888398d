package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-camviewer/internal/middleware"
)

func TestRequestLogger_SetsRequestID(t *testing.T) {
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	middleware.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})).ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Errorf("Expected X-Request-ID header")
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("Expected 418, got %d", w.Code)
	}
}

func TestRequestLogger_KeepsClientRequestID(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()

	middleware.RequestLogger(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("Expected abc-123, got %q", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	tests := []struct {
		origin    string
		wantAllow string
	}{
		{"http://127.0.0.1:5173", "http://127.0.0.1:5173"},
		{"http://localhost:8090", "http://localhost:8090"},
		{"null", "null"},
		{"https://example.com", ""},
		{"http://192.168.1.20", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("OPTIONS", "/api/v1/quit", nil)
		req.Header.Set("Origin", tt.origin)
		w := httptest.NewRecorder()

		called := false
		middleware.CORS(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).ServeHTTP(w, req)

		if called {
			t.Errorf("%s: preflight should not reach the handler", tt.origin)
		}
		if w.Code != http.StatusNoContent {
			t.Errorf("%s: expected 204, got %d", tt.origin, w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
			t.Errorf("%s: expected allow-origin %q, got %q", tt.origin, tt.wantAllow, got)
		}
	}
}

func TestRequireJSON(t *testing.T) {
	tests := []struct {
		method      string
		contentType string
		wantCode    int
	}{
		{"GET", "", http.StatusOK},
		{"POST", "application/json", http.StatusOK},
		{"POST", "application/json; charset=utf-8", http.StatusOK},
		{"POST", "text/plain", http.StatusUnsupportedMediaType},
		{"POST", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"POST", "", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, "/api/v1/quit", nil)
		if tt.contentType != "" {
			req.Header.Set("Content-Type", tt.contentType)
		}
		w := httptest.NewRecorder()

		middleware.RequireJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(w, req)

		if w.Code != tt.wantCode {
			t.Errorf("%s %q: expected %d, got %d", tt.method, tt.contentType, tt.wantCode, w.Code)
		}
	}
}

func TestMetrics_PassesThrough(t *testing.T) {
	r := chi.NewRouter()
	r.Use(middleware.Metrics)
	r.Get("/api/v1/cameras/{name}/counts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/cameras/piir/counts", nil))

	if w.Code != http.StatusAccepted {
		t.Errorf("Expected 202, got %d", w.Code)
	}
}
