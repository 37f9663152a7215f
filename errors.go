package docbase

import "github.com/kailas-cloud/docbase/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrNotFound            = domain.ErrNotFound
	ErrDuplicate           = domain.ErrDuplicate
	ErrLimitExceeded       = domain.ErrLimitExceeded
	ErrStructureInvalid    = domain.ErrStructureInvalid
	ErrRelationshipInvalid = domain.ErrRelationshipInvalid
	ErrRestricted          = domain.ErrRestricted
	ErrTimeout             = domain.ErrTimeout
	ErrMissingTenant       = domain.ErrMissingTenant
	ErrStorage             = domain.ErrStorage
	ErrAuthorization       = domain.ErrAuthorization
	ErrQueryInvalid        = domain.ErrQueryInvalid
	ErrTransaction         = domain.ErrTransaction
	ErrConflict            = domain.ErrConflict
	ErrNotImplemented      = domain.ErrNotImplemented
)

// StorageError carries a storage failure and, when a rollback step also
// failed, its compensation error.
type StorageError = domain.StorageError
