package database

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/auth"
	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/permission"
	"github.com/kailas-cloud/docbase/internal/domain/query"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
	"github.com/kailas-cloud/docbase/internal/domain/validator"
)

// DefaultListLimit is the page size of ListCollections when none is given.
const DefaultListLimit = 25

// CreateCollection creates a collection table and its metadata entry.
// Relationship attributes are added afterwards with CreateRelationship.
func (d *Database) CreateCollection(
	ctx context.Context, id string, attributes []schema.Attribute, indexes []schema.Index,
	permissions []string, documentSecurity bool,
) (col schema.Collection, err error) {
	defer d.observe(opCreateCollection, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return schema.Collection{}, err
	}
	if err := validator.ValidateKey(id); err != nil {
		return schema.Collection{}, err
	}
	if d.isKeyword(id) {
		return schema.Collection{}, domain.Structure("collection id %q is a reserved keyword", id)
	}
	if err := permission.Validate(permissions); err != nil {
		return schema.Collection{}, err
	}

	unlock := d.lockCollections(id)
	defer unlock()

	attributes = slices.Clone(attributes)
	for i := range attributes {
		attributes[i].Default = document.Normalize(attributes[i].Default)
	}
	declared := schema.NewCollection(id, attributes, nil, nil, false)
	indexes = slices.Clone(indexes)
	for i, idx := range indexes {
		if err := validator.ValidateKey(idx.Key); err != nil {
			return schema.Collection{}, err
		}
		indexes[i] = canonicalIndex(declared, idx)
	}
	col = schema.NewCollection(id, attributes, indexes, permissions, documentSecurity)
	if err := d.createCollection(ctx, col); err != nil {
		return schema.Collection{}, err
	}
	d.log(ctx).Info("Collection created", zap.String("collection", id),
		zap.Int("attributes", len(attributes)), zap.Int("indexes", len(indexes)))
	d.trigger(ctx, EventCollectionCreate, col)
	return d.collection(ctx, id)
}

// createCollection validates col and writes the table and metadata entry.
// The table is dropped again when the metadata write fails.
func (d *Database) createCollection(ctx context.Context, col schema.Collection) error {
	existing, err := d.collection(ctx, col.ID())
	if err != nil {
		return err
	}
	if !existing.IsEmpty() {
		return domain.Duplicate("collection %q already exists", col.ID())
	}

	attrs := col.Attributes()
	for i, attr := range attrs {
		if attr.IsRelationship() || attr.Type == schema.TypeRelationship {
			return domain.Relationship("attribute %q: relationships are created with CreateRelationship", attr.Key)
		}
		if err := d.validateAttribute(attr); err != nil {
			return err
		}
		if slices.ContainsFunc(attrs[:i], func(a schema.Attribute) bool { return a.SameKey(attr.Key) }) {
			return domain.Duplicate("attribute %q is listed twice", attr.Key)
		}
	}
	for i, idx := range col.Indexes() {
		if err := d.validateIndex(col, idx); err != nil {
			return err
		}
		if slices.ContainsFunc(col.Indexes()[:i], func(o schema.Index) bool { return strings.EqualFold(o.Key, idx.Key) }) {
			return domain.Duplicate("index %q is listed twice", idx.Key)
		}
	}
	if err := d.checkLimits(col); err != nil {
		return err
	}

	err = d.adapter.CreateCollection(ctx, col.ID(), col.Attributes(), col.Indexes())
	switch {
	case err == nil:
	case errors.Is(err, adapter.ErrDuplicate) && d.adapter.Scope().SharedTables():
		// Another tenant owns the physical table.
	default:
		return translate(opCreateCollection, err)
	}

	ts := now(ctx)
	doc := col.ToDocument()
	doc[document.KeyCreatedAt] = ts
	doc[document.KeyUpdatedAt] = ts
	encoded, err := d.encode(schema.Metadata(), doc)
	if err != nil {
		return err
	}
	if _, err := d.adapter.CreateDocument(ctx, schema.MetadataCollection, encoded); err != nil {
		cause := translate(opCreateCollection, err)
		if d.adapter.Scope().SharedTables() {
			return cause
		}
		if derr := d.adapter.DeleteCollection(ctx, col.ID()); derr != nil {
			return domain.WithCompensation(opCreateCollection, cause, derr)
		}
		return cause
	}
	d.purgeCollection(ctx, col.ID())
	return nil
}

// GetCollection returns the schema of a collection.
func (d *Database) GetCollection(ctx context.Context, id string) (col schema.Collection, err error) {
	defer d.observe(opGetCollection, time.Now(), &err)
	col, err = d.mustCollection(ctx, id)
	if err != nil {
		return schema.Collection{}, err
	}
	d.trigger(ctx, EventCollectionRead, col)
	return col, nil
}

// ListCollections pages through the collection schemas. A non-positive
// limit selects DefaultListLimit.
func (d *Database) ListCollections(ctx context.Context, limit, offset int) (out []schema.Collection, err error) {
	defer d.observe(opListCollections, time.Now(), &err)
	if limit <= 0 {
		limit = DefaultListLimit
	}
	docs, err := d.adapter.Find(ctx, schema.MetadataCollection, adapter.FindRequest{
		Limit:           limit,
		Offset:          max(offset, 0),
		OrderAttributes: []string{document.KeyInternalID},
		OrderTypes:      []string{query.Asc},
	})
	if err != nil {
		return nil, translate(opListCollections, err)
	}
	out = make([]schema.Collection, 0, len(docs))
	for _, raw := range docs {
		doc, err := d.read(schema.Metadata(), raw)
		if err != nil {
			return nil, err
		}
		out = append(out, schema.CollectionFromDocument(doc))
	}
	d.trigger(ctx, EventCollectionList, out)
	return out, nil
}

// UpdateCollection replaces the permissions and document security flag
// of a collection.
func (d *Database) UpdateCollection(
	ctx context.Context, id string, permissions []string, documentSecurity bool,
) (col schema.Collection, err error) {
	defer d.observe(opUpdateCollection, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return schema.Collection{}, err
	}
	if err := permission.Validate(permissions); err != nil {
		return schema.Collection{}, err
	}

	unlock := d.lockCollections(id)
	defer unlock()

	col, err = d.mustCollection(ctx, id)
	if err != nil {
		return schema.Collection{}, err
	}
	col = col.WithPermissions(permissions).WithDocumentSecurity(documentSecurity)
	if err := d.saveCollection(ctx, col); err != nil {
		return schema.Collection{}, translate(opUpdateCollection, err)
	}
	d.trigger(ctx, EventCollectionUpdate, col)
	return d.collection(ctx, id)
}

// DeleteCollection applies the delete policies of every relationship to
// the collection's documents, removes the relationships and drops the
// collection. With shared tables only the tenant's rows are removed.
func (d *Database) DeleteCollection(ctx context.Context, id string) (err error) {
	defer d.observe(opDeleteCollection, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return err
	}
	if id == schema.MetadataCollection {
		return domain.Structure("the metadata collection cannot be deleted")
	}

	col, err := d.mustCollection(ctx, id)
	if err != nil {
		return err
	}
	unlock := d.lockCollections(append(relatedCollections(col), id)...)
	defer unlock()
	if col, err = d.mustCollection(ctx, id); err != nil {
		return err
	}

	if err := d.releaseDocuments(ctx, col); err != nil {
		return err
	}
	for _, rel := range col.Relationships() {
		current, err := d.mustCollection(ctx, id)
		if err != nil {
			return err
		}
		if _, ok := current.Attribute(rel.Key); !ok {
			continue
		}
		if err := d.deleteRelationship(ctx, current, rel); err != nil {
			return err
		}
	}

	if d.adapter.Scope().SharedTables() {
		if err := d.deleteTenantRows(ctx, id); err != nil {
			return err
		}
	} else if err := d.adapter.DeleteCollection(ctx, id); err != nil && !errors.Is(err, adapter.ErrNotFound) {
		return translate(opDeleteCollection, err)
	}
	if _, err := d.adapter.DeleteDocument(ctx, schema.MetadataCollection, id); err != nil {
		return translate(opDeleteCollection, err)
	}
	d.purgeCollection(ctx, id)

	d.log(ctx).Info("Collection deleted", zap.String("collection", id))
	d.trigger(ctx, EventCollectionDelete, col)
	return nil
}

// releaseDocuments runs the delete policies of col's relationships for
// every document of col before the collection goes away.
func (d *Database) releaseDocuments(ctx context.Context, col schema.Collection) error {
	if !slices.ContainsFunc(col.Relationships(), func(a schema.Attribute) bool {
		return !holdsMany(a) && a.Options.OnDelete != schema.OnDeleteSetNull
	}) {
		return nil
	}
	ctx = auth.Skip(ctx)
	docs, err := d.scan(ctx, col.ID())
	if err != nil {
		return err
	}
	for _, raw := range docs {
		doc, err := d.read(col, raw)
		if err != nil {
			return err
		}
		if err := d.tx(ctx, opDeleteCollection, func(ctx context.Context) error {
			return d.onDelete(ctx, col, doc, newVisited())
		}); err != nil {
			return err
		}
	}
	return nil
}

// deleteTenantRows removes the active tenant's rows of a shared table.
func (d *Database) deleteTenantRows(ctx context.Context, id string) error {
	docs, err := d.scan(ctx, id)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if _, err := d.adapter.DeleteDocument(ctx, id, doc.ID()); err != nil {
			return translate(opDeleteCollection, err)
		}
	}
	return nil
}

// scan returns every raw document of a collection visible in the scope.
func (d *Database) scan(ctx context.Context, id string) ([]document.Document, error) {
	var out []document.Document
	var cursor document.Document
	for {
		page, err := d.adapter.Find(ctx, id, adapter.FindRequest{
			Limit:           schema.InsertBatchSize,
			Cursor:          cursor,
			CursorDirection: query.DirectionAfter,
		})
		if err != nil {
			return nil, translate(opFind, err)
		}
		out = append(out, page...)
		if len(page) < schema.InsertBatchSize {
			return out, nil
		}
		cursor = page[len(page)-1]
	}
}

// collection loads a schema from the metadata collection. A missing
// collection yields the zero value and a nil error.
func (d *Database) collection(ctx context.Context, id string) (schema.Collection, error) {
	if id == schema.MetadataCollection {
		return schema.Metadata(), nil
	}
	raw, err := d.load(ctx, schema.MetadataCollection, id)
	if err != nil {
		return schema.Collection{}, err
	}
	if raw.IsEmpty() {
		return schema.Collection{}, nil
	}
	doc, err := d.read(schema.Metadata(), raw)
	if err != nil {
		return schema.Collection{}, err
	}
	return schema.CollectionFromDocument(doc), nil
}

func (d *Database) mustCollection(ctx context.Context, id string) (schema.Collection, error) {
	col, err := d.collection(ctx, id)
	if err != nil {
		return schema.Collection{}, err
	}
	if col.IsEmpty() {
		return schema.Collection{}, domain.NotFound("collection %q", id)
	}
	return col, nil
}

// saveCollection writes col back to its metadata entry.
func (d *Database) saveCollection(ctx context.Context, col schema.Collection) error {
	doc := col.ToDocument()
	delete(doc, document.KeyInternalID)
	delete(doc, document.KeyTenant)
	delete(doc, document.KeyCreatedAt)
	doc[document.KeyUpdatedAt] = now(ctx)
	encoded, err := d.encode(schema.Metadata(), doc)
	if err != nil {
		return err
	}
	_, err = d.adapter.UpdateDocument(ctx, schema.MetadataCollection, col.ID(), encoded)
	d.purgeCollection(ctx, col.ID())
	return err
}

// load returns the raw stored document, consulting the cache first.
// Documents read inside a transaction are not cached.
func (d *Database) load(ctx context.Context, collection, id string) (document.Document, error) {
	key := d.keys().Document(collection, id)
	if doc, ok := d.cache.Load(ctx, key); ok {
		return doc, nil
	}
	doc, err := d.adapter.GetDocument(ctx, collection, id, nil, false)
	if err != nil {
		return nil, translate(opGetDocument, err)
	}
	if !doc.IsEmpty() && !d.adapter.InTransaction(ctx) {
		d.cache.Save(ctx, key, doc)
	}
	return doc, nil
}

func relatedCollections(col schema.Collection) []string {
	var out []string
	for _, rel := range col.Relationships() {
		if !slices.Contains(out, rel.Options.RelatedCollection) {
			out = append(out, rel.Options.RelatedCollection)
		}
	}
	return out
}
