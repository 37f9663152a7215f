package adapter

import (
	"context"
	"time"

	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/query"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

// Adapter is the storage backend contract consumed by the orchestrator.
type Adapter interface {
	Scoped
	Transactor
	SchemaManager
	DocumentStore
	Querier
	Limits
	Hooked

	Ping(ctx context.Context) error
	Close() error
}

// Scoped exposes the namespace, database and tenant scope.
type Scoped interface {
	Scope() *Scope
}

// Transactor controls reentrant transactions carried in the context.
// Only the outermost start opens a physical transaction and only the
// outermost commit commits it.
type Transactor interface {
	StartTransaction(ctx context.Context) (context.Context, error)
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error
	InTransaction(ctx context.Context) bool
}

// SchemaManager issues database, collection, attribute, index and
// relationship DDL.
type SchemaManager interface {
	Create(ctx context.Context, database string) error
	Exists(ctx context.Context, database, collection string) (bool, error)
	Delete(ctx context.Context, database string) error

	CreateCollection(ctx context.Context, name string, attributes []schema.Attribute, indexes []schema.Index) error
	DeleteCollection(ctx context.Context, name string) error

	CreateAttribute(ctx context.Context, collection string, attr schema.Attribute) error
	UpdateAttribute(ctx context.Context, collection string, attr schema.Attribute, newKey string) error
	DeleteAttribute(ctx context.Context, collection, key string, array bool) error
	RenameAttribute(ctx context.Context, collection, oldKey, newKey string) error

	CreateRelationship(ctx context.Context, rel Relationship) error
	UpdateRelationship(ctx context.Context, rel Relationship, newKey, newTwoWayKey string) error
	DeleteRelationship(ctx context.Context, rel Relationship) error

	CreateIndex(ctx context.Context, collection string, index schema.Index, attributes []schema.Attribute) error
	DeleteIndex(ctx context.Context, collection, key string) error
	RenameIndex(ctx context.Context, collection, oldKey, newKey string) error
}

// DocumentStore reads and writes single documents and batches.
// A missing document is returned as an empty Document with a nil error.
type DocumentStore interface {
	GetDocument(ctx context.Context, collection, id string, selections []string, forUpdate bool) (document.Document, error)
	CreateDocument(ctx context.Context, collection string, doc document.Document) (document.Document, error)
	CreateDocuments(ctx context.Context, collection string, docs []document.Document, batchSize int) ([]document.Document, error)
	UpdateDocument(ctx context.Context, collection, id string, doc document.Document) (document.Document, error)
	UpdateDocuments(ctx context.Context, collection string, docs []document.Document, batchSize int) ([]document.Document, error)
	DeleteDocument(ctx context.Context, collection, id string) (bool, error)
	IncreaseDocumentAttribute(ctx context.Context, req Increase) error
}

// Querier runs filtered reads.
type Querier interface {
	Find(ctx context.Context, collection string, req FindRequest) ([]document.Document, error)
	Count(ctx context.Context, collection string, req CountRequest) (int, error)
	Sum(ctx context.Context, collection, attribute string, req CountRequest) (float64, error)
}

// Limits reports engine limits and capabilities so the orchestrator can
// reject operations before issuing DDL.
type Limits interface {
	LimitForString() int64
	LimitForInt() int64
	LimitForAttributes() int
	LimitForIndexes() int
	MaxIndexLength() int
	MaxVarcharLength() int
	DocumentSizeLimit() int
	Support() Support
	CountOfAttributes(collection schema.Collection) int
	CountOfIndexes(collection schema.Collection) int
	CountOfDefaultAttributes() int
	CountOfDefaultIndexes() int
	AttributeWidth(collection schema.Collection) int
	Keywords() []string
}

// Hooked exposes the statement transform registry and timeouts.
type Hooked interface {
	Hooks() *Hooks
	SetTimeout(d time.Duration, event string)
	ClearTimeout(event string)
}

// Support lists optional engine capabilities.
type Support struct {
	Schemas           bool
	Index             bool
	UniqueIndex       bool
	FulltextIndex     bool
	Relationships     bool
	Timeouts          bool
	Casting           bool
	UpdateLock        bool
	AttributeResizing bool
	QueryContains     bool
}

// Relationship describes a relationship from its parent side: Key lives on
// Collection and TwoWayKey on RelatedCollection. Many-to-many junctions are
// managed by the orchestrator as ordinary collections.
type Relationship struct {
	Collection        string
	RelatedCollection string
	Type              schema.RelationType
	TwoWay            bool
	Key               string
	TwoWayKey         string
}

// FindRequest is a grouped query ready for the adapter. A nil Roles slice
// disables permission filtering. ArrayAttributes names the filtered
// attributes that hold lists.
type FindRequest struct {
	Filters         []query.Query
	ArrayAttributes []string
	Selections      []string
	Limit           int
	Offset          int
	OrderAttributes []string
	OrderTypes      []string
	Cursor          document.Document
	CursorDirection string
	Roles           []string
	ForUpdate       bool
}

// CountRequest is a filtered aggregate. Max caps the scanned rows; 0 means no cap.
type CountRequest struct {
	Filters         []query.Query
	ArrayAttributes []string
	Max             int
	Roles           []string
}

// Increase is a bounded atomic counter update. Min and Max are checked
// against the current value before the update.
type Increase struct {
	Collection string
	ID         string
	Attribute  string
	Value      float64
	UpdatedAt  string
	Min        *float64
	Max        *float64
}
