package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing collection, attribute, index or database.
	// Missing documents are reported as empty documents instead.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate signals a duplicate id, key or unique value.
	ErrDuplicate = errors.New("duplicate")
	// ErrLimitExceeded signals an attribute, index, width or size limit hit.
	ErrLimitExceeded = errors.New("limit exceeded")
	// ErrStructureInvalid signals an invalid schema or document structure.
	ErrStructureInvalid = errors.New("invalid structure")
	// ErrRelationshipInvalid signals an invalid relationship definition.
	ErrRelationshipInvalid = errors.New("invalid relationship")
	// ErrRestricted signals a delete blocked by a restrict relationship.
	ErrRestricted = errors.New("restricted")
	// ErrTimeout signals a storage operation that exceeded its time budget.
	ErrTimeout = errors.New("timeout")
	// ErrMissingTenant signals a shared-tables operation without a tenant.
	ErrMissingTenant = errors.New("missing tenant")
	// ErrStorage signals any other storage failure.
	ErrStorage = errors.New("storage error")
	// ErrAuthorization signals a permission check failure.
	ErrAuthorization = errors.New("unauthorized")
	// ErrQueryInvalid signals a malformed or unsupported query.
	ErrQueryInvalid = errors.New("invalid query")
	// ErrTransaction signals a transaction that could not be committed.
	ErrTransaction = errors.New("transaction failed")
	// ErrConflict signals a document changed after the request timestamp.
	ErrConflict = errors.New("conflict")
	// ErrNotImplemented signals an adapter feature that is not supported.
	ErrNotImplemented = errors.New("not implemented")
)

// StorageError wraps a storage failure with the orchestrator operation
// that hit it. Compensation carries a failure of the rollback step that
// followed, if any.
type StorageError struct {
	Op           string
	Err          error
	Compensation error
}

func (e *StorageError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
	if e.Compensation != nil {
		msg += fmt.Sprintf(" (compensation failed: %s)", e.Compensation.Error())
	}
	return msg
}

func (e *StorageError) Unwrap() []error {
	if e.Compensation != nil {
		return []error{e.Err, ErrStorage, e.Compensation}
	}
	return []error{e.Err, ErrStorage}
}

// NewStorageError creates a storage error for op.
func NewStorageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// WithCompensation attaches a rollback failure to a storage error.
// Non-storage errors are wrapped first.
func WithCompensation(op string, err, compensation error) error {
	if compensation == nil {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return &StorageError{Op: se.Op, Err: se.Err, Compensation: compensation}
	}
	return &StorageError{Op: op, Err: err, Compensation: compensation}
}

// LimitError wraps ErrLimitExceeded with the limit that was hit.
type LimitError struct {
	What  string
	Limit int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s (max %d)", ErrLimitExceeded.Error(), e.What, e.Limit)
}

func (e *LimitError) Unwrap() error { return ErrLimitExceeded }

// NewLimitError creates a limit error.
func NewLimitError(what string, limit int64) error {
	return &LimitError{What: what, Limit: limit}
}

// Structure wraps ErrStructureInvalid with a formatted reason.
func Structure(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStructureInvalid, fmt.Sprintf(format, args...))
}

// Relationship wraps ErrRelationshipInvalid with a formatted reason.
func Relationship(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRelationshipInvalid, fmt.Sprintf(format, args...))
}

// Duplicate wraps ErrDuplicate with a formatted reason.
func Duplicate(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDuplicate, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with a formatted reason.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// QueryInvalid wraps ErrQueryInvalid with a formatted reason.
func QueryInvalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrQueryInvalid, fmt.Sprintf(format, args...))
}
