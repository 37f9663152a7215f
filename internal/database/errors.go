package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/domain"
)

// Operation names used in errors and metrics.
const (
	opPing               = "ping"
	opCreate             = "create_database"
	opExists             = "exists"
	opDelete             = "delete_database"
	opTransaction        = "transaction"
	opCreateCollection   = "create_collection"
	opGetCollection      = "get_collection"
	opListCollections    = "list_collections"
	opUpdateCollection   = "update_collection"
	opDeleteCollection   = "delete_collection"
	opCreateAttribute    = "create_attribute"
	opUpdateAttribute    = "update_attribute"
	opDeleteAttribute    = "delete_attribute"
	opRenameAttribute    = "rename_attribute"
	opCreateIndex        = "create_index"
	opDeleteIndex        = "delete_index"
	opRenameIndex        = "rename_index"
	opCreateRelationship = "create_relationship"
	opUpdateRelationship = "update_relationship"
	opDeleteRelationship = "delete_relationship"
	opGetDocument        = "get_document"
	opCreateDocument     = "create_document"
	opCreateDocuments    = "create_documents"
	opUpdateDocument     = "update_document"
	opUpdateDocuments    = "update_documents"
	opDeleteDocument     = "delete_document"
	opIncrease           = "increase_document_attribute"
	opDecrease           = "decrease_document_attribute"
	opFind               = "find"
	opCount              = "count"
	opSum                = "sum"
)

var taxonomy = []error{
	domain.ErrNotFound,
	domain.ErrDuplicate,
	domain.ErrLimitExceeded,
	domain.ErrStructureInvalid,
	domain.ErrRelationshipInvalid,
	domain.ErrRestricted,
	domain.ErrTimeout,
	domain.ErrMissingTenant,
	domain.ErrStorage,
	domain.ErrAuthorization,
	domain.ErrQueryInvalid,
	domain.ErrTransaction,
	domain.ErrConflict,
	domain.ErrNotImplemented,
}

// translate maps adapter failures onto the domain taxonomy. Errors that
// already carry a domain class pass through unchanged.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, class := range taxonomy {
		if errors.Is(err, class) {
			return err
		}
	}
	switch {
	case errors.Is(err, adapter.ErrDuplicate):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrDuplicate, err)
	case errors.Is(err, adapter.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTimeout, err)
	case errors.Is(err, adapter.ErrLimit):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrLimitExceeded, err)
	case errors.Is(err, adapter.ErrConditionFail):
		return fmt.Errorf("%s: %w: value out of bounds: %w", op, domain.ErrLimitExceeded, err)
	case errors.Is(err, adapter.ErrNotFound):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrNotFound, err)
	case errors.Is(err, adapter.ErrRollbackOnly), errors.Is(err, adapter.ErrNoTransaction):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTransaction, err)
	}
	return domain.NewStorageError(op, err)
}

// undo collects compensating steps of a multi-step schema change and runs
// them in reverse when a later step fails.
type undo struct {
	steps []func(ctx context.Context) error
}

func (u *undo) add(fn func(ctx context.Context) error) { u.steps = append(u.steps, fn) }

// run compensates cause. A failing compensation is attached to the
// returned error as a storage failure.
func (u *undo) run(ctx context.Context, op string, cause error) error {
	var failures []error
	for i := len(u.steps) - 1; i >= 0; i-- {
		if err := u.steps[i](ctx); err != nil {
			failures = append(failures, err)
		}
	}
	u.steps = nil
	if len(failures) == 0 {
		return cause
	}
	return domain.WithCompensation(op, cause, errors.Join(failures...))
}
