package database

import (
	"context"
	"slices"
	"time"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/datetime"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/permission"
	"github.com/kailas-cloud/docbase/internal/domain/query"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

// DefaultFindLimit caps Find results when no limit query is given.
const DefaultFindLimit = 25

// Find returns the documents of collection matching queries. Documents
// the caller may not read are left out; without collection read access
// and document security the call fails with ErrAuthorization.
func (d *Database) Find(ctx context.Context, collection string, queries []query.Query) (out []document.Document, err error) {
	defer d.observe(opFind, time.Now(), &err)
	if err := d.requireTenant(); err != nil {
		return nil, err
	}
	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	for _, q := range queries {
		if err := q.Validate(); err != nil {
			return nil, err
		}
	}
	g := query.Group(queries)
	filters, arrays, err := d.prepareFilters(col, g.Filters)
	if err != nil {
		return nil, err
	}
	for _, attr := range g.OrderAttributes {
		if err := checkQueryAttribute(col, attr); err != nil {
			return nil, err
		}
	}
	roles, err := d.readRoles(ctx, col)
	if err != nil {
		return nil, err
	}
	cursor, err := d.cursor(ctx, col, g.Cursor)
	if err != nil {
		return nil, err
	}
	limit := DefaultFindLimit
	if g.HasLimit {
		limit = g.Limit
	}
	if limit == 0 {
		return []document.Document{}, nil
	}

	raw, err := d.adapter.Find(ctx, col.ID(), adapter.FindRequest{
		Filters:         filters,
		ArrayAttributes: arrays,
		Selections:      columnSelections(col, g.Selections),
		Limit:           limit,
		Offset:          g.Offset,
		OrderAttributes: g.OrderAttributes,
		OrderTypes:      g.OrderTypes,
		Cursor:          cursor,
		CursorDirection: g.CursorDirection,
		Roles:           roles,
	})
	if err != nil {
		return nil, translate(opFind, err)
	}

	out = make([]document.Document, 0, len(raw))
	for _, r := range raw {
		doc, err := d.read(col, r)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := d.populate(ctx, col, out, relationSelections(col, g.Selections), 0, nil); err != nil {
		return nil, err
	}
	for i := range out {
		out[i] = project(out[i], g.Selections)
	}

	d.trigger(ctx, EventDocumentFind, out)
	return out, nil
}

// FindOne returns the first document matching queries, or an empty
// Document when none does.
func (d *Database) FindOne(ctx context.Context, collection string, queries []query.Query) (document.Document, error) {
	docs, err := d.Find(ctx, collection, append(slices.Clone(queries), query.WithLimit(1)))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return document.Document{}, nil
	}
	return docs[0], nil
}

// Count returns the number of documents matching queries, capped by max
// when max > 0.
func (d *Database) Count(ctx context.Context, collection string, queries []query.Query, maxCount int) (n int, err error) {
	defer d.observe(opCount, time.Now(), &err)
	req, col, err := d.aggregate(ctx, collection, queries, maxCount)
	if err != nil {
		return 0, err
	}
	n, err = d.adapter.Count(ctx, col.ID(), req)
	if err != nil {
		return 0, translate(opCount, err)
	}
	d.trigger(ctx, EventDocumentCount, n)
	return n, nil
}

// Sum adds up a numeric attribute over the documents matching queries,
// scanning at most max documents when max > 0.
func (d *Database) Sum(
	ctx context.Context, collection, attribute string, queries []query.Query, maxCount int,
) (sum float64, err error) {
	defer d.observe(opSum, time.Now(), &err)
	req, col, err := d.aggregate(ctx, collection, queries, maxCount)
	if err != nil {
		return 0, err
	}
	attr, ok := col.Attribute(attribute)
	if !ok {
		return 0, domain.QueryInvalid("unknown attribute %q", attribute)
	}
	if attr.Type != schema.TypeInteger && attr.Type != schema.TypeFloat {
		return 0, domain.QueryInvalid("attribute %q is not numeric", attribute)
	}
	sum, err = d.adapter.Sum(ctx, col.ID(), attribute, req)
	if err != nil {
		return 0, translate(opSum, err)
	}
	d.trigger(ctx, EventDocumentSum, sum)
	return sum, nil
}

func (d *Database) aggregate(
	ctx context.Context, collection string, queries []query.Query, maxCount int,
) (adapter.CountRequest, schema.Collection, error) {
	if err := d.requireTenant(); err != nil {
		return adapter.CountRequest{}, schema.Collection{}, err
	}
	col, err := d.mustCollection(ctx, collection)
	if err != nil {
		return adapter.CountRequest{}, schema.Collection{}, err
	}
	for _, q := range queries {
		if err := q.Validate(); err != nil {
			return adapter.CountRequest{}, schema.Collection{}, err
		}
	}
	filters, arrays, err := d.prepareFilters(col, query.Group(queries).Filters)
	if err != nil {
		return adapter.CountRequest{}, schema.Collection{}, err
	}
	roles, err := d.readRoles(ctx, col)
	if err != nil {
		return adapter.CountRequest{}, schema.Collection{}, err
	}
	return adapter.CountRequest{Filters: filters, ArrayAttributes: arrays, Max: maxCount, Roles: roles}, col, nil
}

// readRoles returns the roles the adapter filters document permissions
// by, or nil when the caller may read the whole collection.
func (d *Database) readRoles(ctx context.Context, col schema.Collection) ([]string, error) {
	if d.auth.Allowed(ctx, permission.ActionRead, col.Permissions()) {
		return nil, nil
	}
	if col.DocumentSecurity() {
		return d.auth.Roles(ctx), nil
	}
	return nil, unauthorized(permission.ActionRead, col.ID())
}

// cursor resolves a cursor id or document to the stored document the
// adapter paginates from.
func (d *Database) cursor(ctx context.Context, col schema.Collection, value any) (document.Document, error) {
	if value == nil {
		return nil, nil
	}
	id := referenceID(value)
	if id == "" {
		return nil, domain.QueryInvalid("cursor must be a document or a document id")
	}
	raw, err := d.adapter.GetDocument(ctx, col.ID(), id, nil, false)
	if err != nil {
		return nil, translate(opFind, err)
	}
	if raw.IsEmpty() {
		return nil, domain.QueryInvalid("cursor document %q not found", id)
	}
	return raw, nil
}

// prepareFilters checks filter attributes against the schema and converts
// datetime values to the storage layout. It also names the filtered
// attributes that hold lists.
func (d *Database) prepareFilters(col schema.Collection, filters []query.Query) ([]query.Query, []string, error) {
	var arrays []string
	out := make([]query.Query, 0, len(filters))
	for _, q := range filters {
		prepared, err := d.prepareFilter(col, q, &arrays)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, prepared)
	}
	return out, arrays, nil
}

func (d *Database) prepareFilter(col schema.Collection, q query.Query, arrays *[]string) (query.Query, error) {
	if q.Method == query.And || q.Method == query.Or {
		nested := q.Queries()
		values := make([]any, len(nested))
		for i, n := range nested {
			p, err := d.prepareFilter(col, n, arrays)
			if err != nil {
				return query.Query{}, err
			}
			values[i] = p
		}
		return query.Query{Method: q.Method, Values: values}, nil
	}
	if err := checkQueryAttribute(col, q.Attribute); err != nil {
		return query.Query{}, err
	}

	attr, ok := col.Attribute(q.Attribute)
	if !ok {
		attr, _ = internalAttribute(q.Attribute)
	}
	if attr.Array && !slices.Contains(*arrays, attr.Key) {
		*arrays = append(*arrays, attr.Key)
	}
	if q.Method == query.Search && !d.hasFulltext(col, q.Attribute) {
		return query.Query{}, domain.QueryInvalid("searching %q requires a fulltext index", q.Attribute)
	}
	if attr.Type != schema.TypeDatetime {
		return q, nil
	}
	values := make([]any, len(q.Values))
	for i, v := range q.Values {
		s, err := datetime.ToStorage(v)
		if err != nil {
			return query.Query{}, domain.QueryInvalid("attribute %q: %v", q.Attribute, err)
		}
		values[i] = s
	}
	return query.Query{Method: q.Method, Attribute: q.Attribute, Values: values}, nil
}

func internalAttribute(key string) (schema.Attribute, bool) {
	for _, a := range schema.InternalAttributes() {
		if a.Key == key {
			return a, true
		}
	}
	return schema.Attribute{}, false
}

// checkQueryAttribute rejects unknown attributes and relationships that
// have no column to filter on.
func checkQueryAttribute(col schema.Collection, key string) error {
	if _, ok := internalAttribute(key); ok {
		return nil
	}
	if _, ok := col.Attribute(key); !ok {
		return domain.QueryInvalid("unknown attribute %q", key)
	}
	if virtual(col, key) {
		return domain.QueryInvalid("relationship %q cannot be queried from this side", key)
	}
	return nil
}

func (d *Database) hasFulltext(col schema.Collection, key string) bool {
	return slices.ContainsFunc(col.Indexes(), func(idx schema.Index) bool {
		return idx.Type == schema.IndexFulltext && slices.Contains(idx.Attributes, key)
	})
}

// columnSelections maps selections to stored columns. nil selects every
// column.
func columnSelections(col schema.Collection, selections []string) []string {
	if len(selections) == 0 || slices.Contains(selections, "*") {
		return nil
	}
	out := make([]string, 0, len(selections))
	for _, s := range selections {
		if !virtual(col, s) && !schema.IsInternalKey(s) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
