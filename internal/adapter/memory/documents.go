package memory

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/permission"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

func (a *Adapter) tenant() *int64 {
	t, ok := a.scope.TenantFilter()
	if !ok {
		return nil
	}
	return &t
}

// GetDocument returns the document or an empty Document when missing.
func (a *Adapter) GetDocument(
	ctx context.Context, collection, id string, selections []string, _ bool,
) (document.Document, error) {
	done, err := a.begin(ctx, adapter.OpGetDocument, "SELECT FROM "+a.tableName(collection))
	if err != nil {
		return nil, err
	}
	defer done()

	a.mu.RLock()
	defer a.mu.RUnlock()
	t, err := a.table(adapter.OpGetDocument, collection)
	if err != nil {
		return nil, err
	}
	_, r := t.find(id, a.tenant())
	if r == nil {
		return document.Document{}, nil
	}
	return r.toDocument(selections), nil
}

// CreateDocument inserts a row and its permissions.
func (a *Adapter) CreateDocument(ctx context.Context, collection string, doc document.Document) (document.Document, error) {
	out, err := a.CreateDocuments(ctx, collection, []document.Document{doc}, 1)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// CreateDocuments inserts rows. The batch is all-or-nothing.
func (a *Adapter) CreateDocuments(
	ctx context.Context, collection string, docs []document.Document, _ int,
) ([]document.Document, error) {
	done, err := a.begin(ctx, adapter.OpCreateDocument, "INSERT INTO "+a.tableName(collection))
	if err != nil {
		return nil, err
	}
	defer done()
	defer a.lockWrite(ctx)()

	a.mu.Lock()
	defer a.mu.Unlock()
	t, err := a.table(adapter.OpCreateDocument, collection)
	if err != nil {
		return nil, err
	}

	nextID := t.nextID
	added := make([]*row, 0, len(docs))
	out := make([]document.Document, 0, len(docs))
	for _, doc := range docs {
		r, err := a.newRow(t, doc)
		if err != nil {
			return nil, &adapter.Error{Op: adapter.OpCreateDocument, Err: err}
		}
		if _, existing := t.find(r.uid, r.tenant); existing != nil || containsUID(added, r) {
			return nil, &adapter.Error{Op: adapter.OpCreateDocument,
				Err: fmt.Errorf("document %q: %w", r.uid, adapter.ErrDuplicate)}
		}
		r.internalID = nextID
		nextID++
		added = append(added, r)
	}

	base := len(t.rows)
	t.rows = append(t.rows, added...)
	for i := range added {
		for _, idx := range t.indexes {
			if idx.Type == schema.IndexUnique && conflict(t, idx, t.rows[base+i], base+i) {
				t.rows = t.rows[:base]
				return nil, &adapter.Error{Op: adapter.OpCreateDocument,
					Err: fmt.Errorf("unique index %q: %w", idx.Key, adapter.ErrDuplicate)}
			}
		}
	}
	t.nextID = nextID

	for i, r := range added {
		d := docs[i].Clone()
		d[document.KeyInternalID] = formatInternalID(r.internalID)
		if r.tenant != nil {
			d[document.KeyTenant] = *r.tenant
		}
		out = append(out, d)
	}
	return out, nil
}

func containsUID(rows []*row, r *row) bool {
	return slices.ContainsFunc(rows, func(o *row) bool { return o.uid == r.uid && sameTenant(o.tenant, r.tenant) })
}

func (a *Adapter) newRow(t *table, doc document.Document) (*row, error) {
	r := &row{
		uid:         doc.ID(),
		tenant:      a.tenant(),
		createdAt:   doc.CreatedAt(),
		updatedAt:   doc.UpdatedAt(),
		permissions: doc.Permissions(),
		data:        make(map[string]any),
	}
	if err := a.fill(t, r, doc); err != nil {
		return nil, err
	}
	return r, nil
}

func (a *Adapter) fill(t *table, r *row, doc document.Document) error {
	for k, v := range doc {
		if strings.HasPrefix(k, "$") {
			continue
		}
		if _, ok := t.columns[k]; !ok {
			return fmt.Errorf("unknown column %q", k)
		}
		r.data[k] = cloneAny(v)
	}
	return nil
}

// UpdateDocument replaces the row identified by id. doc may carry a new $id.
func (a *Adapter) UpdateDocument(
	ctx context.Context, collection, id string, doc document.Document,
) (document.Document, error) {
	done, err := a.begin(ctx, adapter.OpUpdateDocument, "UPDATE "+a.tableName(collection))
	if err != nil {
		return nil, err
	}
	defer done()
	defer a.lockWrite(ctx)()

	a.mu.Lock()
	defer a.mu.Unlock()
	t, err := a.table(adapter.OpUpdateDocument, collection)
	if err != nil {
		return nil, err
	}
	out, err := a.updateRow(t, id, doc)
	if err != nil {
		return nil, &adapter.Error{Op: adapter.OpUpdateDocument, Err: err}
	}
	return out, nil
}

// UpdateDocuments updates rows by their $id.
func (a *Adapter) UpdateDocuments(
	ctx context.Context, collection string, docs []document.Document, _ int,
) ([]document.Document, error) {
	done, err := a.begin(ctx, adapter.OpUpdateDocument, "UPDATE "+a.tableName(collection))
	if err != nil {
		return nil, err
	}
	defer done()
	defer a.lockWrite(ctx)()

	a.mu.Lock()
	defer a.mu.Unlock()
	t, err := a.table(adapter.OpUpdateDocument, collection)
	if err != nil {
		return nil, err
	}
	backup := make([]*row, len(t.rows))
	for i, r := range t.rows {
		backup[i] = r.clone()
	}
	out := make([]document.Document, 0, len(docs))
	for _, doc := range docs {
		d, err := a.updateRow(t, doc.ID(), doc)
		if err != nil {
			t.rows = backup
			return nil, &adapter.Error{Op: adapter.OpUpdateDocument, Err: err}
		}
		out = append(out, d)
	}
	return out, nil
}

func (a *Adapter) updateRow(t *table, id string, doc document.Document) (document.Document, error) {
	i, r := t.find(id, a.tenant())
	if r == nil {
		return nil, fmt.Errorf("document %q: %w", id, adapter.ErrNotFound)
	}
	updated := r.clone()
	if newID := doc.ID(); newID != "" && newID != id {
		if _, other := t.find(newID, r.tenant); other != nil {
			return nil, fmt.Errorf("document %q: %w", newID, adapter.ErrDuplicate)
		}
		updated.uid = newID
	}
	if v := doc.UpdatedAt(); v != "" {
		updated.updatedAt = v
	}
	if v := doc.CreatedAt(); v != "" {
		updated.createdAt = v
	}
	if doc.Has(document.KeyPermissions) {
		updated.permissions = doc.Permissions()
	}
	if err := a.fill(t, updated, doc); err != nil {
		return nil, err
	}
	t.rows[i] = updated
	for _, idx := range t.indexes {
		if idx.Type == schema.IndexUnique && conflict(t, idx, updated, i) {
			t.rows[i] = r
			return nil, fmt.Errorf("unique index %q: %w", idx.Key, adapter.ErrDuplicate)
		}
	}
	return updated.toDocument(nil), nil
}

// DeleteDocument removes a row. It reports whether a row was removed.
func (a *Adapter) DeleteDocument(ctx context.Context, collection, id string) (bool, error) {
	done, err := a.begin(ctx, adapter.OpDeleteDocument, "DELETE FROM "+a.tableName(collection))
	if err != nil {
		return false, err
	}
	defer done()
	defer a.lockWrite(ctx)()

	a.mu.Lock()
	defer a.mu.Unlock()
	t, err := a.table(adapter.OpDeleteDocument, collection)
	if err != nil {
		return false, err
	}
	i, r := t.find(id, a.tenant())
	if r == nil {
		return false, nil
	}
	t.rows = slices.Delete(t.rows, i, i+1)
	return true, nil
}

// IncreaseDocumentAttribute adds value to a numeric column when the
// current value satisfies the bounds.
func (a *Adapter) IncreaseDocumentAttribute(ctx context.Context, req adapter.Increase) error {
	done, err := a.begin(ctx, adapter.OpIncrease, "UPDATE "+a.tableName(req.Collection))
	if err != nil {
		return err
	}
	defer done()
	defer a.lockWrite(ctx)()

	a.mu.Lock()
	defer a.mu.Unlock()
	t, err := a.table(adapter.OpIncrease, req.Collection)
	if err != nil {
		return err
	}
	col, ok := t.columns[req.Attribute]
	if !ok {
		return &adapter.Error{Op: adapter.OpIncrease, Err: fmt.Errorf("column %q: %w", req.Attribute, adapter.ErrNotFound)}
	}
	_, r := t.find(req.ID, a.tenant())
	if r == nil {
		return &adapter.Error{Op: adapter.OpIncrease, Err: fmt.Errorf("document %q: %w", req.ID, adapter.ErrNotFound)}
	}
	current, _ := toFloat(r.data[req.Attribute])
	if (req.Min != nil && current < *req.Min) || (req.Max != nil && current > *req.Max) {
		return &adapter.Error{Op: adapter.OpIncrease, Err: adapter.ErrConditionFail}
	}
	next := current + req.Value
	if col.typ == schema.TypeInteger && next == math.Trunc(next) {
		r.data[req.Attribute] = int64(next)
	} else {
		r.data[req.Attribute] = next
	}
	if req.UpdatedAt != "" {
		r.updatedAt = req.UpdatedAt
	}
	return nil
}

func conflict(t *table, idx schema.Index, r *row, self int) bool {
	key := indexTuple(idx, r)
	if key == nil {
		return false
	}
	for i, other := range t.rows {
		if i == self || !sameTenant(other.tenant, r.tenant) {
			continue
		}
		if ot := indexTuple(idx, other); ot != nil && slices.EqualFunc(key, ot, valuesEqual) {
			return true
		}
	}
	return false
}

func indexTuple(idx schema.Index, r *row) []any {
	tuple := make([]any, len(idx.Attributes))
	for i, attr := range idx.Attributes {
		v := r.value(attr)
		if v == nil {
			return nil
		}
		tuple[i] = v
	}
	return tuple
}

func readable(r *row, roles []string) bool {
	if roles == nil {
		return true
	}
	return permission.Allowed(roles, r.permissions, permission.ActionRead)
}
