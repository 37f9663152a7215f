package database

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/datetime"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/permission"
	"github.com/kailas-cloud/docbase/internal/domain/query"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
	"github.com/kailas-cloud/docbase/internal/domain/validator"
)

// tx runs fn in a transaction joined by every nested write.
func (d *Database) tx(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return translate(op, adapter.WithTransaction(ctx, d.adapter, fn))
}

// allowed reports whether the caller may perform action on doc of col,
// through the collection permissions or, with document security, the
// document's own.
func (d *Database) allowed(ctx context.Context, col schema.Collection, action permission.Action, doc document.Document) bool {
	if d.auth.Allowed(ctx, action, col.Permissions()) {
		return true
	}
	return col.DocumentSecurity() && d.auth.Allowed(ctx, action, doc.Permissions())
}

func unauthorized(action permission.Action, collection string) error {
	return fmt.Errorf("%w: %s on collection %q", domain.ErrAuthorization, action, collection)
}

// conflicts reports whether stored was updated after the request
// timestamp carried by ctx.
func conflicts(ctx context.Context, stored document.Document) bool {
	ts, ok := requestTimestamp(ctx)
	if !ok {
		return false
	}
	updated, err := datetime.Parse(stored.UpdatedAt())
	if err != nil {
		return false
	}
	return updated.After(ts.Truncate(time.Millisecond))
}

func normalized(doc document.Document) document.Document {
	out, _ := document.Normalize(map[string]any(doc)).(document.Document)
	if out == nil {
		out = document.Document{}
	}
	return out
}

// GetDocument returns a document by id. A missing document, or one the
// caller may not read, is returned as an empty Document with a nil error.
// Select queries limit the returned attributes.
func (d *Database) GetDocument(ctx context.Context, collection, id string, queries ...query.Query) (document.Document, error) {
	if err := d.requireTenant(); err != nil {
		return nil, err
	}
	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return document.Document{}, nil
	}
	selections := query.Group(queries).Selections

	raw, err := d.load(ctx, col.ID(), id)
	if err != nil {
		return nil, err
	}
	if raw.IsEmpty() || !d.allowed(ctx, col, permission.ActionRead, raw) {
		return document.Document{}, nil
	}
	doc, err := d.read(col, raw)
	if err != nil {
		return nil, err
	}
	if err := d.populate(ctx, col, []document.Document{doc}, relationSelections(col, selections), 0, nil); err != nil {
		return nil, err
	}
	doc = project(doc, selections)

	d.trigger(ctx, EventDocumentRead, doc)
	return doc, nil
}

// relationSelections returns the selected relationship keys, or nil when
// every attribute is selected.
func relationSelections(col schema.Collection, selections []string) []string {
	if len(selections) == 0 || slices.Contains(selections, "*") {
		return nil
	}
	out := make([]string, 0, len(selections))
	for _, a := range col.Relationships() {
		if slices.Contains(selections, a.Key) {
			out = append(out, a.Key)
		}
	}
	if len(out) == 0 {
		return []string{""}
	}
	return out
}

// project keeps the selected attributes and the internal ones.
func project(doc document.Document, selections []string) document.Document {
	if len(selections) == 0 || slices.Contains(selections, "*") {
		return doc
	}
	maps.DeleteFunc(doc, func(k string, _ any) bool {
		return !schema.IsInternalKey(k) && !slices.Contains(selections, k)
	})
	return doc
}

// pendingWrite is a validated, encoded document waiting for the adapter
// together with the relationship changes to apply after it.
type pendingWrite struct {
	id       string
	doc      document.Document
	links    []link
	previous map[string][]string
}

// CreateDocument creates a document. A missing $id or "unique()" is
// replaced by a generated id. Nested related documents are created or
// updated in the same transaction.
func (d *Database) CreateDocument(ctx context.Context, collection string, doc document.Document) (out document.Document, err error) {
	defer d.observe(opCreateDocument, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return nil, err
	}
	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	err = d.tx(ctx, opCreateDocument, func(ctx context.Context) error {
		out, err = d.createDocument(ctx, col, doc)
		return err
	})
	if err != nil {
		return nil, err
	}
	d.trigger(ctx, EventDocumentCreate, out)
	return out, nil
}

func (d *Database) createDocument(ctx context.Context, col schema.Collection, doc document.Document) (document.Document, error) {
	w, err := d.prepareCreate(ctx, col, doc)
	if err != nil {
		return nil, err
	}
	if _, err := d.adapter.CreateDocument(ctx, col.ID(), w.doc); err != nil {
		return nil, translate(opCreateDocument, err)
	}
	return d.finishWrite(ctx, col, w)
}

// prepareCreate validates and encodes a new document.
func (d *Database) prepareCreate(ctx context.Context, col schema.Collection, doc document.Document) (*pendingWrite, error) {
	if !d.auth.Allowed(ctx, permission.ActionCreate, col.Permissions()) {
		return nil, unauthorized(permission.ActionCreate, col.ID())
	}
	doc = normalized(doc)

	id := doc.ID()
	if id == "" || id == document.UniquePlaceholder {
		id = document.UniqueID()
	}
	if err := validator.ValidateDocumentID(id); err != nil {
		return nil, err
	}
	doc[document.KeyID] = id

	if !doc.Has(document.KeyPermissions) {
		doc[document.KeyPermissions] = []any{}
	}
	if err := permission.Validate(doc.Permissions(),
		permission.ActionRead, permission.ActionUpdate, permission.ActionDelete, permission.ActionWrite); err != nil {
		return nil, err
	}

	ts := now(ctx)
	preserve := d.preserveDates.Load()
	if !preserve || doc.CreatedAt() == "" {
		doc[document.KeyCreatedAt] = ts
	}
	if !preserve || doc.UpdatedAt() == "" {
		doc[document.KeyUpdatedAt] = ts
	}
	delete(doc, document.KeyInternalID)
	delete(doc, document.KeyTenant)
	delete(doc, document.KeyCollection)

	for _, a := range col.Attributes() {
		if _, ok := doc[a.Key]; !ok && a.Default != nil && !a.IsRelationship() {
			doc[a.Key] = document.Normalize(a.Default)
		}
	}
	if !validationSkipped(ctx) {
		if err := validator.NewStructure(col, d.formats).Validate(doc); err != nil {
			return nil, err
		}
	}

	links, err := d.prepareLinks(ctx, col, doc)
	if err != nil {
		return nil, err
	}
	encoded, err := d.encode(col, doc)
	if err != nil {
		return nil, err
	}
	return &pendingWrite{id: id, doc: encoded, links: links}, nil
}

// finishWrite applies relationship changes of a written document and
// returns its stored form.
func (d *Database) finishWrite(ctx context.Context, col schema.Collection, w *pendingWrite) (document.Document, error) {
	if !relationshipsSkipped(ctx) {
		if err := d.applyLinks(ctx, col, w.id, w.links, w.previous); err != nil {
			return nil, err
		}
	}
	d.purgeDocument(ctx, col.ID(), w.id)

	raw, err := d.adapter.GetDocument(ctx, col.ID(), w.id, nil, false)
	if err != nil {
		return nil, translate(opGetDocument, err)
	}
	doc, err := d.read(col, raw)
	if err != nil {
		return nil, err
	}
	if err := d.populate(ctx, col, []document.Document{doc}, nil, 0, nil); err != nil {
		return nil, err
	}
	return doc, nil
}

// CreateDocuments creates documents in batches of batchSize inside one
// transaction. Either every document is created or none is.
func (d *Database) CreateDocuments(
	ctx context.Context, collection string, docs []document.Document, batchSize int,
) (out []document.Document, err error) {
	defer d.observe(opCreateDocuments, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return nil, err
	}
	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = schema.InsertBatchSize
	}
	err = d.tx(ctx, opCreateDocuments, func(ctx context.Context) error {
		out = make([]document.Document, 0, len(docs))
		for chunk := range slices.Chunk(docs, batchSize) {
			pending := make([]*pendingWrite, 0, len(chunk))
			batch := make([]document.Document, 0, len(chunk))
			for _, doc := range chunk {
				w, err := d.prepareCreate(ctx, col, doc)
				if err != nil {
					return err
				}
				pending = append(pending, w)
				batch = append(batch, w.doc)
			}
			if _, err := d.adapter.CreateDocuments(ctx, col.ID(), batch, batchSize); err != nil {
				return translate(opCreateDocuments, err)
			}
			for _, w := range pending {
				doc, err := d.finishWrite(ctx, col, w)
				if err != nil {
					return err
				}
				out = append(out, doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.log(ctx).Debug("Documents created", zap.String("collection", col.ID()), zap.Int("count", len(out)))
	d.trigger(ctx, EventDocumentsCreate, out)
	return out, nil
}

// UpdateDocument merges changes into the document id. A missing document
// yields an empty Document with a nil error. Writes carrying a request
// timestamp older than the stored $updatedAt fail with ErrConflict.
func (d *Database) UpdateDocument(
	ctx context.Context, collection, id string, changes document.Document,
) (out document.Document, err error) {
	defer d.observe(opUpdateDocument, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return nil, err
	}
	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	err = d.tx(ctx, opUpdateDocument, func(ctx context.Context) error {
		out, err = d.updateDocument(ctx, col, id, changes)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !out.IsEmpty() {
		d.trigger(ctx, EventDocumentUpdate, out)
	}
	return out, nil
}

func (d *Database) updateDocument(ctx context.Context, col schema.Collection, id string, changes document.Document) (document.Document, error) {
	w, current, err := d.prepareUpdate(ctx, col, id, changes)
	if err != nil || w == nil {
		return current, err
	}
	if _, err := d.adapter.UpdateDocument(ctx, col.ID(), id, w.doc); err != nil {
		return nil, translate(opUpdateDocument, err)
	}
	return d.finishWrite(ctx, col, w)
}

// prepareUpdate validates a change set against the stored document. A nil
// pendingWrite means there is nothing to write and the returned document
// is the result.
func (d *Database) prepareUpdate(
	ctx context.Context, col schema.Collection, id string, changes document.Document,
) (*pendingWrite, document.Document, error) {
	stored, err := d.adapter.GetDocument(ctx, col.ID(), id, nil, d.adapter.Support().UpdateLock)
	if err != nil {
		return nil, nil, translate(opGetDocument, err)
	}
	if stored.IsEmpty() {
		return nil, document.Document{}, nil
	}
	if !d.allowed(ctx, col, permission.ActionUpdate, stored) {
		return nil, nil, unauthorized(permission.ActionUpdate, col.ID())
	}
	if conflicts(ctx, stored) {
		return nil, nil, fmt.Errorf("%w: document %q in %q", domain.ErrConflict, id, col.ID())
	}
	current, err := d.read(col, stored)
	if err != nil {
		return nil, nil, err
	}

	changes = normalized(changes)
	for _, k := range []string{document.KeyID, document.KeyInternalID, document.KeyTenant, document.KeyCollection} {
		delete(changes, k)
	}
	preserve := d.preserveDates.Load()
	if !preserve {
		delete(changes, document.KeyCreatedAt)
		delete(changes, document.KeyUpdatedAt)
	}
	if changes.Has(document.KeyPermissions) {
		if err := permission.Validate(changes.Permissions(),
			permission.ActionRead, permission.ActionUpdate, permission.ActionDelete, permission.ActionWrite); err != nil {
			return nil, nil, err
		}
	}

	changed := false
	for k, v := range changes {
		if !reflect.DeepEqual(current[k], v) {
			changed = true
			break
		}
	}
	if !changed {
		if err := d.populate(ctx, col, []document.Document{current}, nil, 0, nil); err != nil {
			return nil, nil, err
		}
		return nil, current, nil
	}
	if !preserve || changes.UpdatedAt() == "" {
		changes[document.KeyUpdatedAt] = now(ctx)
	}

	if !validationSkipped(ctx) {
		merged := current.Clone()
		delete(merged, document.KeyCollection)
		maps.Copy(merged, changes)
		if err := validator.NewStructure(col, d.formats).Validate(merged); err != nil {
			return nil, nil, err
		}
	}

	links, err := d.prepareLinks(ctx, col, changes)
	if err != nil {
		return nil, nil, err
	}
	previous, err := d.previousLinks(ctx, col, links, stored)
	if err != nil {
		return nil, nil, err
	}
	encoded, err := d.encode(col, changes)
	if err != nil {
		return nil, nil, err
	}
	return &pendingWrite{id: id, doc: encoded, links: links, previous: previous}, nil, nil
}

// UpdateDocuments applies each change set to the document named by its
// $id, batchSize documents per adapter call, inside one transaction.
// Documents that do not exist are skipped.
func (d *Database) UpdateDocuments(
	ctx context.Context, collection string, changes []document.Document, batchSize int,
) (out []document.Document, err error) {
	defer d.observe(opUpdateDocuments, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return nil, err
	}
	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = schema.InsertBatchSize
	}
	for _, c := range changes {
		if c.ID() == "" {
			return nil, domain.Structure("update without %s", document.KeyID)
		}
	}
	err = d.tx(ctx, opUpdateDocuments, func(ctx context.Context) error {
		out = make([]document.Document, 0, len(changes))
		for chunk := range slices.Chunk(changes, batchSize) {
			pending := make([]*pendingWrite, 0, len(chunk))
			batch := make([]document.Document, 0, len(chunk))
			for _, c := range chunk {
				w, current, err := d.prepareUpdate(ctx, col, c.ID(), c)
				if err != nil {
					return err
				}
				if w == nil {
					if !current.IsEmpty() {
						out = append(out, current)
					}
					continue
				}
				w.doc[document.KeyID] = w.id
				pending = append(pending, w)
				batch = append(batch, w.doc)
			}
			if len(batch) == 0 {
				continue
			}
			if _, err := d.adapter.UpdateDocuments(ctx, col.ID(), batch, batchSize); err != nil {
				return translate(opUpdateDocuments, err)
			}
			for _, w := range pending {
				doc, err := d.finishWrite(ctx, col, w)
				if err != nil {
					return err
				}
				out = append(out, doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.trigger(ctx, EventDocumentsUpdate, out)
	return out, nil
}

// DeleteDocument deletes a document after applying the delete policy of
// its relationships. It reports whether a document was deleted.
func (d *Database) DeleteDocument(ctx context.Context, collection, id string) (deleted bool, err error) {
	defer d.observe(opDeleteDocument, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return false, err
	}
	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return false, err
	}
	var doc document.Document
	err = d.tx(ctx, opDeleteDocument, func(ctx context.Context) error {
		doc, err = d.deleteDocument(ctx, col, id, newVisited())
		return err
	})
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, nil
	}
	d.trigger(ctx, EventDocumentDelete, doc)
	return true, nil
}

// deleteDocument removes id from col and returns the removed document, or
// nil when there was none.
func (d *Database) deleteDocument(ctx context.Context, col schema.Collection, id string, seen visited) (document.Document, error) {
	stored, err := d.adapter.GetDocument(ctx, col.ID(), id, nil, d.adapter.Support().UpdateLock)
	if err != nil {
		return nil, translate(opGetDocument, err)
	}
	if stored.IsEmpty() {
		return nil, nil
	}
	if !d.allowed(ctx, col, permission.ActionDelete, stored) {
		return nil, unauthorized(permission.ActionDelete, col.ID())
	}
	if conflicts(ctx, stored) {
		return nil, fmt.Errorf("%w: document %q in %q", domain.ErrConflict, id, col.ID())
	}
	doc, err := d.read(col, stored)
	if err != nil {
		return nil, err
	}
	seen.add(col.ID(), id)
	if !relationshipsSkipped(ctx) {
		if err := d.onDelete(ctx, col, doc, seen); err != nil {
			return nil, err
		}
	}
	if _, err := d.adapter.DeleteDocument(ctx, col.ID(), id); err != nil {
		return nil, translate(opDeleteDocument, err)
	}
	d.purgeDocument(ctx, col.ID(), id)
	return doc, nil
}

// IncreaseDocumentAttribute adds value to a numeric attribute. With max
// set, an increase that would exceed it fails with ErrLimitExceeded.
func (d *Database) IncreaseDocumentAttribute(
	ctx context.Context, collection, id, attribute string, value float64, maxValue *float64,
) (out document.Document, err error) {
	defer d.observe(opIncrease, time.Now(), &err)
	var bound *float64
	if maxValue != nil {
		b := *maxValue - value
		bound = &b
	}
	out, err = d.adjust(ctx, opIncrease, collection, id, attribute, value, adapter.Increase{Max: bound})
	if err != nil {
		return nil, err
	}
	d.trigger(ctx, EventDocumentIncrease, out)
	return out, nil
}

// DecreaseDocumentAttribute subtracts value from a numeric attribute.
// With min set, a decrease that would fall below it fails with
// ErrLimitExceeded.
func (d *Database) DecreaseDocumentAttribute(
	ctx context.Context, collection, id, attribute string, value float64, minValue *float64,
) (out document.Document, err error) {
	defer d.observe(opDecrease, time.Now(), &err)
	var bound *float64
	if minValue != nil {
		b := *minValue + value
		bound = &b
	}
	out, err = d.adjust(ctx, opDecrease, collection, id, attribute, -value, adapter.Increase{Min: bound})
	if err != nil {
		return nil, err
	}
	d.trigger(ctx, EventDocumentDecrease, out)
	return out, nil
}

func (d *Database) adjust(
	ctx context.Context, op, collection, id, attribute string, delta float64, req adapter.Increase,
) (document.Document, error) {
	if err := d.requireTenant(); err != nil {
		return nil, err
	}
	if delta == 0 || (op == opIncrease && delta < 0) || (op == opDecrease && delta > 0) {
		return nil, domain.Structure("value must be greater than 0")
	}
	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	attr, ok := col.Attribute(attribute)
	if !ok {
		return nil, domain.NotFound("attribute %q in collection %q", attribute, collection)
	}
	if (attr.Type != schema.TypeInteger && attr.Type != schema.TypeFloat) || attr.Array {
		return nil, domain.Structure("attribute %q is not a numeric scalar", attribute)
	}

	var out document.Document
	err = d.tx(ctx, op, func(ctx context.Context) error {
		stored, err := d.adapter.GetDocument(ctx, col.ID(), id, nil, d.adapter.Support().UpdateLock)
		if err != nil {
			return translate(op, err)
		}
		if stored.IsEmpty() {
			return domain.NotFound("document %q in collection %q", id, collection)
		}
		if !d.allowed(ctx, col, permission.ActionUpdate, stored) {
			return unauthorized(permission.ActionUpdate, col.ID())
		}
		if conflicts(ctx, stored) {
			return fmt.Errorf("%w: document %q in %q", domain.ErrConflict, id, col.ID())
		}
		updatedAt, err := datetime.ToStorage(now(ctx))
		if err != nil {
			return err
		}
		req.Collection, req.ID, req.Attribute, req.Value, req.UpdatedAt = col.ID(), id, attribute, delta, updatedAt
		if err := d.adapter.IncreaseDocumentAttribute(ctx, req); err != nil {
			return translate(op, err)
		}
		d.purgeDocument(ctx, col.ID(), id)

		raw, err := d.adapter.GetDocument(ctx, col.ID(), id, nil, false)
		if err != nil {
			return translate(op, err)
		}
		out, err = d.read(col, raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
