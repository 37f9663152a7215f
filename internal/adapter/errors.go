package adapter

import "errors"

// Sentinel errors adapters return so the orchestrator can classify failures.
var (
	ErrDuplicate     = errors.New("adapter: duplicate")
	ErrTimeout       = errors.New("adapter: timeout")
	ErrLimit         = errors.New("adapter: limit exceeded")
	ErrNotFound      = errors.New("adapter: not found")
	ErrNoTransaction = errors.New("adapter: no active transaction")
	ErrRollbackOnly  = errors.New("adapter: transaction marked for rollback")
	ErrConditionFail = errors.New("adapter: condition failed")
)

// Op names used in error context and statement events.
const (
	OpCreateDatabase   = "create_database"
	OpDeleteDatabase   = "delete_database"
	OpExists           = "exists"
	OpCreateCollection = "create_collection"
	OpDeleteCollection = "delete_collection"
	OpCreateAttribute  = "create_attribute"
	OpUpdateAttribute  = "update_attribute"
	OpDeleteAttribute  = "delete_attribute"
	OpRenameAttribute  = "rename_attribute"
	OpCreateRelation   = "create_relationship"
	OpUpdateRelation   = "update_relationship"
	OpDeleteRelation   = "delete_relationship"
	OpCreateIndex      = "create_index"
	OpDeleteIndex      = "delete_index"
	OpRenameIndex      = "rename_index"
	OpGetDocument      = "get_document"
	OpCreateDocument   = "create_document"
	OpUpdateDocument   = "update_document"
	OpDeleteDocument   = "delete_document"
	OpIncrease         = "increase_document_attribute"
	OpFind             = "find"
	OpCount            = "count"
	OpSum              = "sum"
	OpBegin            = "begin"
	OpCommit           = "commit"
	OpRollback         = "rollback"
	OpPing             = "ping"
)

// Error wraps an underlying error with the operation name for diagnostics.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
