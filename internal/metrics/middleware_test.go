package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddleware_RecordsDurationAndCount(t *testing.T) {
	m := NewHTTP()
	r := chi.NewRouter()
	r.Use(m.Middleware())
	r.Get("/collections/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	for _, id := range []string{"books", "authors"} {
		req := httptest.NewRequest("GET", "/collections/"+id, http.NoBody)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if rr.Code != 200 {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	}

	if v := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/collections/{id}", "200")); v != 2 {
		t.Errorf("expected 2 requests under the route pattern, got %f", v)
	}
	if n := testutil.CollectAndCount(m.RequestDuration); n != 1 {
		t.Errorf("expected one duration series, got %d", n)
	}
}

func TestMetricsMiddleware_DifferentStatusCodes(t *testing.T) {
	m := NewHTTP()
	r := chi.NewRouter()
	r.Use(m.Middleware())

	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/notfound", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/error", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		path           string
		expectedStatus string
	}{
		{"/ok", "200"},
		{"/notfound", "404"},
		{"/error", "500"},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, http.NoBody)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			val := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", tc.path, tc.expectedStatus))
			if val != 1 {
				t.Errorf("expected requests_total for %s with status %s = 1, got %f", tc.path, tc.expectedStatus, val)
			}
		})
	}
}

func TestMetricsMiddleware_WithoutRouter(t *testing.T) {
	m := NewHTTP()
	h := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/raw", http.NoBody))

	if v := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unknown", "200")); v != 1 {
		t.Errorf("expected unknown path series, got %f", v)
	}
}

func TestHTTP_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTP()
	if err := m.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unknown"},
		{"/collections/{id}", "/collections/{id}"},
		{"/healthz", "/healthz"},
	}

	for _, tc := range tests {
		result := normalizePath(tc.input)
		if result != tc.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}
