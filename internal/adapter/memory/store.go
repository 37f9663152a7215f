package memory

import (
	"maps"
	"slices"

	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

type database struct {
	tables map[string]*table
}

type column struct {
	typ   schema.AttributeType
	array bool
}

type table struct {
	columns map[string]column
	indexes map[string]schema.Index
	rows    []*row
	nextID  int64
}

type row struct {
	internalID  int64
	uid         string
	tenant      *int64
	createdAt   string
	updatedAt   string
	permissions []string
	data        map[string]any
}

func newTable() *table {
	return &table{
		columns: make(map[string]column),
		indexes: make(map[string]schema.Index),
		nextID:  1,
	}
}

func (t *table) find(uid string, tenant *int64) (int, *row) {
	for i, r := range t.rows {
		if r.uid == uid && sameTenant(r.tenant, tenant) {
			return i, r
		}
	}
	return -1, nil
}

func sameTenant(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *row) clone() *row {
	c := *r
	c.permissions = slices.Clone(r.permissions)
	c.data = make(map[string]any, len(r.data))
	for k, v := range r.data {
		c.data[k] = cloneAny(v)
	}
	if r.tenant != nil {
		t := *r.tenant
		c.tenant = &t
	}
	return &c
}

func (r *row) value(key string) any {
	switch key {
	case document.KeyID, "_uid":
		return r.uid
	case document.KeyInternalID, "_id":
		return r.internalID
	case document.KeyCreatedAt, "_createdAt":
		return r.createdAt
	case document.KeyUpdatedAt, "_updatedAt":
		return r.updatedAt
	case document.KeyTenant, "_tenant":
		if r.tenant == nil {
			return nil
		}
		return *r.tenant
	case document.KeyPermissions:
		return toAnyList(r.permissions)
	}
	return r.data[key]
}

func (r *row) toDocument(selections []string) document.Document {
	d := document.Document{
		document.KeyID:          r.uid,
		document.KeyInternalID:  formatInternalID(r.internalID),
		document.KeyCreatedAt:   r.createdAt,
		document.KeyUpdatedAt:   r.updatedAt,
		document.KeyPermissions: toAnyList(r.permissions),
	}
	if r.tenant != nil {
		d[document.KeyTenant] = *r.tenant
	}
	for k, v := range r.data {
		if len(selections) > 0 && !slices.Contains(selections, k) && !slices.Contains(selections, "*") {
			continue
		}
		d[k] = cloneAny(v)
	}
	return d
}

func snapshot(dbs map[string]*database) map[string]*database {
	out := make(map[string]*database, len(dbs))
	for name, db := range dbs {
		cp := &database{tables: make(map[string]*table, len(db.tables))}
		for tn, t := range db.tables {
			ct := &table{
				columns: maps.Clone(t.columns),
				indexes: make(map[string]schema.Index, len(t.indexes)),
				rows:    make([]*row, len(t.rows)),
				nextID:  t.nextID,
			}
			for k, idx := range t.indexes {
				ct.indexes[k] = idx.Clone()
			}
			for i, r := range t.rows {
				ct.rows[i] = r.clone()
			}
			cp.tables[tn] = ct
		}
		out[name] = cp
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneAny(item)
		}
		return out
	case document.Document:
		return t.Clone()
	}
	return v
}

func toAnyList(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
