package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	gochi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docbase/internal/auth"
	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
	healthuc "github.com/kailas-cloud/docbase/internal/usecase/health"
)

const maxListLimit = 100

// Catalog exposes collection metadata to the admin API.
type Catalog interface {
	ListCollections(ctx context.Context, limit, offset int) ([]schema.Collection, error)
	GetCollection(ctx context.Context, id string) (schema.Collection, error)
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server serves the admin HTTP surface: health, metrics and read-only
// schema inspection.
type Server struct {
	catalog       Catalog
	health        *healthuc.Service
	gatherer      prometheus.Gatherer
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an admin API server. gatherer defaults to the
// global Prometheus registry.
func NewServer(catalog Catalog, health *healthuc.Service, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		catalog:  catalog,
		health:   health,
		gatherer: gatherer,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrMissingTenant, http.StatusBadRequest, CodeMissingTenant),
		sentinelHandler(domain.ErrQueryInvalid, http.StatusBadRequest, CodeBadRequest),
		sentinelHandler(domain.ErrAuthorization, http.StatusForbidden, CodeForbidden),
		sentinelHandler(domain.ErrTimeout, http.StatusGatewayTimeout, CodeTimeout),
	}
	return s
}

// Routes mounts the admin endpoints on r.
func (s *Server) Routes(r gochi.Router) {
	r.Get("/healthz", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Get("/collections", s.ListCollections)
	r.Get("/collections/{id}", s.GetCollection)
}

// HealthCheck handles GET /healthz.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// ListCollections handles GET /collections?limit=&offset=.
func (s *Server) ListCollections(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 25)
	if err != nil || limit <= 0 || limit > maxListLimit {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "limit must be between 1 and 100")
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "offset must not be negative")
		return
	}

	cols, err := s.catalog.ListCollections(auth.Skip(r.Context()), limit, offset)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	items := make([]document.Document, len(cols))
	for i, c := range cols {
		items[i] = c.ToDocument()
	}
	writeJSON(w, http.StatusOK, CollectionListResponse{Collections: items, Limit: limit, Offset: offset})
}

// GetCollection handles GET /collections/{id}.
func (s *Server) GetCollection(w http.ResponseWriter, r *http.Request) {
	id := gochi.URLParam(r, "id")
	col, err := s.catalog.GetCollection(auth.Skip(r.Context()), id)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, col.ToDocument())
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrMissingTenant,
		domain.ErrQueryInvalid,
		domain.ErrAuthorization,
		domain.ErrTimeout,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
