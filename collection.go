package docbase

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/document"
)

// CollectionOption configures typed collection creation.
type CollectionOption func(*collectionConfig)

type collectionConfig struct {
	permissions      []string
	documentSecurity bool
	indexes          []Index
}

// WithPermissions sets the collection-level permission strings,
// e.g. docbase.Read(docbase.AnyRole()).
func WithPermissions(perms ...string) CollectionOption {
	return func(c *collectionConfig) {
		c.permissions = append(c.permissions, perms...)
	}
}

// WithDocumentSecurity lets per-document permissions grant access in
// addition to the collection permissions.
func WithDocumentSecurity() CollectionOption {
	return func(c *collectionConfig) {
		c.documentSecurity = true
	}
}

// WithIndex adds an index beyond those declared in struct tags.
func WithIndex(key string, typ IndexType, attributes ...string) CollectionOption {
	return func(c *collectionConfig) {
		c.indexes = append(c.indexes, Index{Key: key, Type: typ, Attributes: attributes})
	}
}

// TypedCollection is a schema-first collection handle. The attribute
// schema is inferred from T's struct tags at construction time.
type TypedCollection[T any] struct {
	name   string
	client *Client
	meta   *schemaMeta
	cfg    collectionConfig
}

// NewCollection creates a typed collection handle. T must be a struct with
// docbase tags. Schema is parsed once and cached.
func NewCollection[T any](client *Client, name string, opts ...CollectionOption) (*TypedCollection[T], error) {
	meta, err := parseSchema[T]()
	if err != nil {
		return nil, fmt.Errorf("new collection %q: %w", name, err)
	}
	var cfg collectionConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &TypedCollection[T]{name: name, client: client, meta: meta, cfg: cfg}, nil
}

// Name returns the collection id.
func (c *TypedCollection[T]) Name() string { return c.name }

// Attributes returns the attribute schema inferred from T.
func (c *TypedCollection[T]) Attributes() []Attribute { return slices.Clone(c.meta.attributes) }

// Ensure creates the collection if it does not exist (idempotent).
func (c *TypedCollection[T]) Ensure(ctx context.Context) error {
	indexes := append(slices.Clone(c.meta.indexes), c.cfg.indexes...)
	_, err := c.client.CreateCollection(ctx, c.name, c.meta.attributes, indexes,
		c.cfg.permissions, c.cfg.documentSecurity)
	if err != nil && !errors.Is(err, domain.ErrDuplicate) {
		return fmt.Errorf("ensure %q: %w", c.name, err)
	}
	return nil
}

// Create stores item and returns it as persisted. An empty id field gets
// a generated id.
func (c *TypedCollection[T]) Create(ctx context.Context, item T, permissions ...string) (T, error) {
	doc := c.meta.toDocument(item)
	if len(permissions) > 0 {
		doc[document.KeyPermissions] = permissions
	}
	out, err := c.client.CreateDocument(ctx, c.name, doc)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("create: %w", err)
	}
	return c.decode(out)
}

// CreateBatch stores items in batches of batchSize (0 selects the default).
func (c *TypedCollection[T]) CreateBatch(ctx context.Context, items []T, batchSize int) ([]T, error) {
	docs := make([]Document, len(items))
	for i, item := range items {
		docs[i] = c.meta.toDocument(item)
	}
	out, err := c.client.CreateDocuments(ctx, c.name, docs, batchSize)
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	return c.decodeAll(out)
}

// Get retrieves a typed item by id. A missing item yields ErrNotFound.
func (c *TypedCollection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	doc, err := c.client.GetDocument(ctx, c.name, id)
	if err != nil {
		return zero, fmt.Errorf("get: %w", err)
	}
	if doc.IsEmpty() {
		return zero, domain.NotFound("document %q in collection %q", id, c.name)
	}
	return c.decode(doc)
}

// Update replaces the tagged attributes of the item with the given id.
func (c *TypedCollection[T]) Update(ctx context.Context, id string, item T) (T, error) {
	var zero T
	changes := c.meta.toDocument(item)
	delete(changes, document.KeyID)
	doc, err := c.client.UpdateDocument(ctx, c.name, id, changes)
	if err != nil {
		return zero, fmt.Errorf("update: %w", err)
	}
	if doc.IsEmpty() {
		return zero, domain.NotFound("document %q in collection %q", id, c.name)
	}
	return c.decode(doc)
}

// Delete removes an item by id. Returns true if it existed.
func (c *TypedCollection[T]) Delete(ctx context.Context, id string) (bool, error) {
	return c.client.DeleteDocument(ctx, c.name, id)
}

// Count returns the number of items matching queries.
func (c *TypedCollection[T]) Count(ctx context.Context, queries ...Query) (int, error) {
	return c.client.Count(ctx, c.name, queries, 0)
}

// Find returns a fluent query builder for this collection.
func (c *TypedCollection[T]) Find() *FindBuilder[T] {
	return &FindBuilder[T]{col: c}
}

func (c *TypedCollection[T]) decode(doc Document) (T, error) {
	var zero T
	v, err := c.meta.fromDocument(doc)
	if err != nil {
		return zero, err
	}
	item, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("docbase: type assertion failed")
	}
	return item, nil
}

func (c *TypedCollection[T]) decodeAll(docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		item, err := c.decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
