package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gochi "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docbase/internal/adapter/memory"
	"github.com/kailas-cloud/docbase/internal/database"
	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
	healthuc "github.com/kailas-cloud/docbase/internal/usecase/health"
)

// --- Mocks ---

type failingCatalog struct{ err error }

func (c failingCatalog) ListCollections(context.Context, int, int) ([]schema.Collection, error) {
	return nil, c.err
}

func (c failingCatalog) GetCollection(context.Context, string) (schema.Collection, error) {
	return schema.Collection{}, c.err
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("down") }

// --- Helpers ---

func newTestRouter(t *testing.T, catalog Catalog, health *healthuc.Service) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "docbase_test_total", Help: "test"}))
	s := NewServer(catalog, health, reg, zap.NewNop())
	r := gochi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEventMiddleware(zap.NewNop()))
	r.Use(JSONRecoverer(zap.NewNop()))
	s.Routes(r)
	return r
}

func newTestDatabase(t *testing.T) *database.Database {
	t.Helper()
	d := database.New(memory.New(memory.WithNamespace("admin"), memory.WithDatabase("db")))
	ctx := context.Background()
	if err := d.Create(ctx); err != nil {
		t.Fatalf("create database: %v", err)
	}
	for _, id := range []string{"authors", "books"} {
		attrs := []schema.Attribute{{Key: "name", Type: schema.TypeString, Size: 64}}
		if _, err := d.CreateCollection(ctx, id, attrs, nil, nil, false); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	return d
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", path, http.NoBody))
	return rr
}

// --- server.go tests ---

func TestHealthCheck(t *testing.T) {
	d := newTestDatabase(t)

	tests := []struct {
		name   string
		health *healthuc.Service
		code   int
		status string
	}{
		{"healthy", healthuc.New(d, d, nil), http.StatusOK, "ok"},
		{"cache down", healthuc.New(d, d, downPinger{}), http.StatusOK, "degraded"},
		{"database down", healthuc.New(downPinger{}, nil, nil), http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := get(t, newTestRouter(t, d, tt.health), "/healthz")
			if rr.Code != tt.code {
				t.Fatalf("got %d, want %d", rr.Code, tt.code)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.status {
				t.Errorf("status: got %q, want %q", resp.Status, tt.status)
			}
			if rr.Header().Get("X-Request-ID") == "" {
				t.Error("expected X-Request-ID header")
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	d := newTestDatabase(t)
	rr := get(t, newTestRouter(t, d, healthuc.New(d, nil, nil)), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "docbase_test_total") {
		t.Errorf("expected registry contents, got %q", rr.Body.String())
	}
}

func TestListCollections(t *testing.T) {
	d := newTestDatabase(t)
	h := newTestRouter(t, d, healthuc.New(d, nil, nil))

	rr := get(t, h, "/collections?limit=1&offset=1")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	var resp CollectionListResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Collections) != 1 || resp.Collections[0].ID() != "books" {
		t.Errorf("expected [books], got %v", resp.Collections)
	}
	if resp.Limit != 1 || resp.Offset != 1 {
		t.Errorf("unexpected paging %d/%d", resp.Limit, resp.Offset)
	}

	for _, path := range []string{"/collections?limit=0", "/collections?limit=abc", "/collections?offset=-1"} {
		if rr := get(t, h, path); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", path, rr.Code)
		}
	}
}

func TestGetCollection(t *testing.T) {
	d := newTestDatabase(t)
	h := newTestRouter(t, d, healthuc.New(d, nil, nil))

	rr := get(t, h, "/collections/books")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	var doc map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["$id"] != "books" {
		t.Errorf("expected books, got %v", doc["$id"])
	}

	rr = get(t, h, "/collections/shelves")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing collection: got %d, want 404", rr.Code)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Code != CodeNotFound {
		t.Errorf("code: got %s, want %s", errResp.Code, CodeNotFound)
	}
}

func TestDomainErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
		body ErrorCode
	}{
		{domain.ErrMissingTenant, http.StatusBadRequest, CodeMissingTenant},
		{domain.ErrAuthorization, http.StatusForbidden, CodeForbidden},
		{domain.ErrTimeout, http.StatusGatewayTimeout, CodeTimeout},
		{domain.NewStorageError("list", errors.New("connection reset")), http.StatusInternalServerError, CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(string(tt.body), func(t *testing.T) {
			h := newTestRouter(t, failingCatalog{err: tt.err}, healthuc.New(downPinger{}, nil, nil))
			rr := get(t, h, "/collections")
			if rr.Code != tt.code {
				t.Fatalf("got %d, want %d", rr.Code, tt.code)
			}
			var errResp ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if errResp.Code != tt.body {
				t.Errorf("code: got %s, want %s", errResp.Code, tt.body)
			}
			if strings.Contains(errResp.Message, "connection reset") {
				t.Error("internal details leaked")
			}
		})
	}
}

// --- middleware.go tests ---

func TestJSONRecoverer(t *testing.T) {
	h := JSONRecoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/", http.NoBody))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: got %q", ct)
	}
}
