package database

import (
	"context"
	"fmt"
	"slices"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/auth"
	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/permission"
	"github.com/kailas-cloud/docbase/internal/domain/query"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

// hasColumn reports whether a relationship attribute is stored as a key
// column on its own collection.
func hasColumn(a schema.Attribute) bool {
	switch a.Options.RelationType {
	case schema.OneToOne:
		return a.Options.Side == schema.SideParent || a.Options.TwoWay
	case schema.OneToMany:
		return a.Options.Side == schema.SideChild
	case schema.ManyToOne:
		return a.Options.Side == schema.SideParent
	}
	return false
}

// mirrorHasColumn reports whether the other side of a stores a key column.
func mirrorHasColumn(a schema.Attribute) bool {
	return hasColumn(mirror("", a))
}

// isList reports whether a holds a list of related documents.
func isList(a schema.Attribute) bool {
	switch a.Options.RelationType {
	case schema.OneToMany:
		return a.Options.Side == schema.SideParent
	case schema.ManyToOne:
		return a.Options.Side == schema.SideChild
	case schema.ManyToMany:
		return true
	}
	return false
}

// holdsMany reports whether a sits on the "many" end of a one-to-many
// relationship. Deleting such a document never affects the other side.
func holdsMany(a schema.Attribute) bool {
	switch a.Options.RelationType {
	case schema.OneToMany:
		return a.Options.Side == schema.SideChild
	case schema.ManyToOne:
		return a.Options.Side == schema.SideParent
	}
	return false
}

// virtual reports whether key is a relationship attribute of col without
// a column of its own.
func virtual(col schema.Collection, key string) bool {
	a, ok := col.Attribute(key)
	return ok && a.IsRelationship() && !hasColumn(a)
}

// visited tracks documents already handled by a cascading delete.
type visited map[string]struct{}

func newVisited() visited { return visited{} }

// add marks collection/id and reports whether it was new.
func (v visited) add(collection, id string) bool {
	key := collection + "/" + id
	if _, ok := v[key]; ok {
		return false
	}
	v[key] = struct{}{}
	return true
}

// junction loads the junction collection of a many-to-many attribute.
func (d *Database) junction(ctx context.Context, col schema.Collection, a schema.Attribute) (schema.Collection, error) {
	related, err := d.mustCollection(ctx, a.Options.RelatedCollection)
	if err != nil {
		return schema.Collection{}, err
	}
	parent, child := col, related
	if a.Options.Side == schema.SideChild {
		parent, child = related, col
	}
	return d.mustCollection(ctx, schema.JunctionID(parent.InternalID(), child.InternalID()))
}

// findAll returns every raw document of collection matching filters.
func (d *Database) findAll(ctx context.Context, collection string, filters ...query.Query) ([]document.Document, error) {
	var out []document.Document
	var cursor document.Document
	for {
		page, err := d.adapter.Find(ctx, collection, adapter.FindRequest{
			Filters:         filters,
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

// relatedIDs returns the ids of the documents a links doc to. doc is the
// stored form and is consulted for local key columns.
func (d *Database) relatedIDs(ctx context.Context, col schema.Collection, a schema.Attribute, doc document.Document) ([]string, error) {
	id := doc.ID()
	switch {
	case a.Options.RelationType == schema.ManyToMany:
		j, err := d.junction(ctx, col, a)
		if err != nil {
			return nil, err
		}
		rows, err := d.findAll(ctx, j.ID(), query.EqualTo(a.Options.TwoWayKey, id))
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(rows))
		for _, r := range rows {
			if rid := r.GetString(a.Key); rid != "" {
				out = append(out, rid)
			}
		}
		return out, nil
	case hasColumn(a):
		if rid := referenceID(doc[a.Key]); rid != "" {
			return []string{rid}, nil
		}
		return nil, nil
	default:
		rows, err := d.findAll(ctx, a.Options.RelatedCollection, query.EqualTo(a.Options.TwoWayKey, id))
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.ID())
		}
		return out, nil
	}
}

// referenceID extracts a document id from a key column value or a
// resolved related document.
func referenceID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case document.Document:
		return t.ID()
	case map[string]any:
		return document.Document(t).ID()
	}
	return ""
}

// link is a relationship value written with a document.
type link struct {
	attr  schema.Attribute
	items []linkItem
}

type linkItem struct {
	id     string
	nested document.Document
}

func (l link) ids() []string {
	out := make([]string, len(l.items))
	for i, it := range l.items {
		out[i] = it.id
	}
	return out
}

// prepareLinks pulls relationship values out of doc. Key columns are set
// to related ids and attributes without a column are removed. The
// returned links are applied once the document itself is written.
func (d *Database) prepareLinks(ctx context.Context, col schema.Collection, doc document.Document) ([]link, error) {
	skip := relationshipsSkipped(ctx)
	var links []link
	for _, a := range col.Relationships() {
		value, ok := doc[a.Key]
		if !ok {
			continue
		}
		if skip {
			if hasColumn(a) {
				doc[a.Key] = nilIfEmpty(referenceID(value))
			} else {
				delete(doc, a.Key)
			}
			continue
		}
		l, err := parseLink(a, value)
		if err != nil {
			return nil, err
		}
		if hasColumn(a) {
			if len(l.items) == 0 {
				doc[a.Key] = nil
			} else {
				doc[a.Key] = l.items[0].id
			}
		} else {
			delete(doc, a.Key)
		}
		links = append(links, l)
	}
	return links, nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseLink(a schema.Attribute, value any) (link, error) {
	l := link{attr: a}
	if value == nil {
		return l, nil
	}
	if list, ok := value.([]any); ok {
		if !isList(a) {
			return link{}, domain.Relationship("attribute %q holds a single related document", a.Key)
		}
		for _, v := range list {
			it, err := parseItem(a, v)
			if err != nil {
				return link{}, err
			}
			l.items = append(l.items, it)
		}
		return l, nil
	}
	if isList(a) {
		return link{}, domain.Relationship("attribute %q holds a list of related documents", a.Key)
	}
	it, err := parseItem(a, value)
	if err != nil {
		return link{}, err
	}
	l.items = []linkItem{it}
	return l, nil
}

func parseItem(a schema.Attribute, v any) (linkItem, error) {
	if id, ok := v.(string); ok {
		if id == "" {
			return linkItem{}, domain.Relationship("attribute %q: empty related id", a.Key)
		}
		return linkItem{id: id}, nil
	}
	nested, ok := document.AsDocument(v)
	if !ok {
		return linkItem{}, domain.Relationship("attribute %q: related value must be an id or a document, got %T", a.Key, v)
	}
	nested = nested.Clone()
	id := nested.ID()
	if id == "" || id == document.UniquePlaceholder {
		id = document.UniqueID()
	}
	nested[document.KeyID] = id
	return linkItem{id: id, nested: nested}, nil
}

// previousLinks captures, before an update, the related ids of every
// relationship about to change.
func (d *Database) previousLinks(
	ctx context.Context, col schema.Collection, links []link, stored document.Document,
) (map[string][]string, error) {
	out := make(map[string][]string, len(links))
	for _, l := range links {
		ids, err := d.relatedIDs(ctx, col, l.attr, stored)
		if err != nil {
			return nil, err
		}
		out[l.attr.Key] = ids
	}
	return out, nil
}

// applyLinks writes nested documents and the other side of every link of
// the document id. previous holds the related ids before the write.
func (d *Database) applyLinks(
	ctx context.Context, col schema.Collection, id string, links []link, previous map[string][]string,
) error {
	for _, l := range links {
		a := l.attr
		related, err := d.mustCollection(ctx, a.Options.RelatedCollection)
		if err != nil {
			return err
		}
		m := mirror(col.ID(), a)
		for _, it := range l.items {
			if err := d.writeLinked(ctx, related, m, it); err != nil {
				return err
			}
		}

		next, prev := l.ids(), previous[a.Key]
		added := slices.DeleteFunc(slices.Clone(next), func(s string) bool { return slices.Contains(prev, s) })
		removed := slices.DeleteFunc(slices.Clone(prev), func(s string) bool { return slices.Contains(next, s) })

		switch {
		case a.Options.RelationType == schema.ManyToMany:
			if err := d.relink(ctx, col, a, id, added, removed); err != nil {
				return err
			}
		case mirrorHasColumn(a):
			for _, rid := range removed {
				if err := d.setReference(ctx, related.ID(), rid, m.Key, nil); err != nil {
					return err
				}
			}
			for _, rid := range added {
				if err := d.setReference(ctx, related.ID(), rid, m.Key, id); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// writeLinked creates or updates a nested related document, or checks
// that a referenced one exists.
func (d *Database) writeLinked(ctx context.Context, related schema.Collection, m schema.Attribute, it linkItem) error {
	stored, err := d.adapter.GetDocument(ctx, related.ID(), it.id, nil, false)
	if err != nil {
		return translate(opGetDocument, err)
	}
	if it.nested == nil {
		if stored.IsEmpty() {
			return domain.Relationship("related document %q not found in %q", it.id, related.ID())
		}
		return nil
	}

	nested := it.nested.Clone()
	delete(nested, m.Key)
	if stored.IsEmpty() {
		_, err := d.createDocument(ctx, related, nested)
		return err
	}
	if !slices.ContainsFunc(nested.Keys(), func(k string) bool { return !schema.IsInternalKey(k) }) {
		return nil
	}
	delete(nested, document.KeyID)
	_, err = d.updateDocument(ctx, related, it.id, nested)
	return err
}

// setReference writes a key column of a related document. It is a
// bookkeeping write: no permission check and no $updatedAt change.
func (d *Database) setReference(ctx context.Context, collection, id, key string, value any) error {
	if _, err := d.adapter.UpdateDocument(ctx, collection, id, document.Document{key: value}); err != nil {
		return translate(opUpdateDocument, err)
	}
	d.purgeDocument(ctx, collection, id)
	return nil
}

// relink adds and removes junction rows of a many-to-many attribute.
func (d *Database) relink(ctx context.Context, col schema.Collection, a schema.Attribute, id string, added, removed []string) error {
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	j, err := d.junction(ctx, col, a)
	if err != nil {
		return err
	}
	if len(removed) > 0 {
		rows, err := d.findAll(ctx, j.ID(),
			query.EqualTo(a.Options.TwoWayKey, id), query.EqualTo(a.Key, toAny(removed)...))
		if err != nil {
			return err
		}
		for _, r := range rows {
			if _, err := d.adapter.DeleteDocument(ctx, j.ID(), r.ID()); err != nil {
				return translate(opDeleteDocument, err)
			}
		}
	}
	ts := now(ctx)
	for _, rid := range added {
		row := document.Document{
			document.KeyID:          document.UniqueID(),
			document.KeyCreatedAt:   ts,
			document.KeyUpdatedAt:   ts,
			document.KeyPermissions: []any{},
			a.Key:                   rid,
			a.Options.TwoWayKey:     id,
		}
		encoded, err := d.encode(j, row)
		if err != nil {
			return err
		}
		if _, err := d.adapter.CreateDocument(ctx, j.ID(), encoded); err != nil {
			return translate(opCreateDocument, err)
		}
	}
	return nil
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// onDelete applies the delete policy of every relationship of col before
// doc is removed.
func (d *Database) onDelete(ctx context.Context, col schema.Collection, doc document.Document, seen visited) error {
	for _, a := range col.Relationships() {
		if holdsMany(a) {
			continue
		}
		related, err := d.collection(ctx, a.Options.RelatedCollection)
		if err != nil {
			return err
		}
		if related.IsEmpty() {
			continue
		}
		ids, err := d.relatedIDs(ctx, col, a, doc)
		if err != nil {
			return err
		}
		manyToMany := a.Options.RelationType == schema.ManyToMany
		parentSide := a.Options.Side == schema.SideParent

		if len(ids) > 0 {
			switch a.Options.OnDelete {
			case schema.OnDeleteRestrict:
				if !manyToMany || parentSide {
					return fmt.Errorf("%w: document %q in %q is referenced by %d document(s) of %q through %q",
						domain.ErrRestricted, doc.ID(), col.ID(), len(ids), related.ID(), a.Key)
				}
			case schema.OnDeleteSetNull:
				if !manyToMany && mirrorHasColumn(a) {
					m := mirror(col.ID(), a)
					for _, rid := range ids {
						if err := d.setReference(ctx, related.ID(), rid, m.Key, nil); err != nil {
							return err
						}
					}
				}
			case schema.OnDeleteCascade:
				if !manyToMany || parentSide {
					for _, rid := range ids {
						if !seen.add(related.ID(), rid) {
							continue
						}
						if _, err := d.deleteDocument(auth.Skip(ctx), related, rid, seen); err != nil {
							return err
						}
					}
				}
			}
		}

		if manyToMany {
			if err := d.unlinkAll(ctx, col, a, doc.ID()); err != nil {
				return err
			}
		}
	}
	return nil
}

// unlinkAll removes every junction row of the document id.
func (d *Database) unlinkAll(ctx context.Context, col schema.Collection, a schema.Attribute, id string) error {
	j, err := d.junction(ctx, col, a)
	if err != nil {
		return err
	}
	rows, err := d.findAll(ctx, j.ID(), query.EqualTo(a.Options.TwoWayKey, id))
	if err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := d.adapter.DeleteDocument(ctx, j.ID(), r.ID()); err != nil {
			return translate(opDeleteDocument, err)
		}
	}
	return nil
}

// populate replaces relationship values of docs with the related
// documents, up to the configured depth. selections, when not empty,
// limits which relationships are resolved.
func (d *Database) populate(
	ctx context.Context, col schema.Collection, docs []document.Document, selections []string, depth int, stack []string,
) error {
	rels := col.Relationships()
	if len(rels) == 0 {
		return nil
	}
	resolve := !relationshipsSkipped(ctx) && depth < d.maxDepth
	for _, doc := range docs {
		for _, a := range rels {
			if len(selections) > 0 && !slices.Contains(selections, a.Key) {
				delete(doc, a.Key)
				continue
			}
			if a.Options.Side == schema.SideChild && !a.Options.TwoWay {
				delete(doc, a.Key)
				continue
			}
			frame := col.ID() + "/" + doc.ID() + "/" + a.Key
			if !resolve || slices.Contains(stack, frame) {
				if !hasColumn(a) {
					delete(doc, a.Key)
				}
				continue
			}
			value, err := d.resolve(ctx, col, a, doc, depth, append(slices.Clone(stack), frame))
			if err != nil {
				return err
			}
			doc[a.Key] = value
		}
	}
	return nil
}

// resolve loads the documents a links doc to. Documents the caller cannot
// read are left out.
func (d *Database) resolve(
	ctx context.Context, col schema.Collection, a schema.Attribute, doc document.Document, depth int, stack []string,
) (any, error) {
	related, err := d.collection(ctx, a.Options.RelatedCollection)
	if err != nil {
		return nil, err
	}
	if related.IsEmpty() {
		return nil, nil
	}
	ids, err := d.relatedIDs(ctx, col, a, doc)
	if err != nil {
		return nil, err
	}
	m := mirror(col.ID(), a)
	out := make([]any, 0, len(ids))
	for _, rid := range ids {
		raw, err := d.load(ctx, related.ID(), rid)
		if err != nil {
			return nil, err
		}
		if raw.IsEmpty() || !d.readable(ctx, related, raw) {
			continue
		}
		rd, err := d.read(related, raw)
		if err != nil {
			return nil, err
		}
		if err := d.populate(ctx, related, []document.Document{rd}, nil, depth+1, stack); err != nil {
			return nil, err
		}
		delete(rd, m.Key)
		out = append(out, rd)
	}
	if isList(a) {
		return out, nil
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

// readable reports whether the caller may read doc of col.
func (d *Database) readable(ctx context.Context, col schema.Collection, doc document.Document) bool {
	if d.auth.Allowed(ctx, permission.ActionRead, col.Permissions()) {
		return true
	}
	return col.DocumentSecurity() && d.auth.Allowed(ctx, permission.ActionRead, doc.Permissions())
}
