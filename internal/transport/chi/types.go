package chi

import "github.com/kailas-cloud/docbase/internal/domain/document"

// ErrorCode is a machine readable error code.
type ErrorCode string

// Error codes returned by the admin API.
const (
	CodeBadRequest    ErrorCode = "bad_request"
	CodeUnauthorized  ErrorCode = "unauthorized"
	CodeForbidden     ErrorCode = "forbidden"
	CodeNotFound      ErrorCode = "not_found"
	CodeMissingTenant ErrorCode = "missing_tenant"
	CodeTimeout       ErrorCode = "timeout"
	CodeInternalError ErrorCode = "internal_error"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// HealthResponse is the JSON body of GET /healthz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// CollectionListResponse is the JSON body of GET /collections.
type CollectionListResponse struct {
	Collections []document.Document `json:"collections"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}
