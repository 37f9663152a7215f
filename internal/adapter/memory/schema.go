package memory

import (
	"context"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

// Create creates a database. Creating an existing database is a no-op.
func (a *Adapter) Create(ctx context.Context, name string) error {
	done, err := a.begin(ctx, adapter.OpCreateDatabase, "CREATE DATABASE "+name)
	if err != nil {
		return err
	}
	defer done()
	defer a.lockWrite(ctx)()

	a.mu.Lock()
	defer a.mu.Unlock()
	name = adapter.Filter(name)
	if _, ok := a.dbs[name]; !ok {
		a.dbs[name] = &database{tables: make(map[string]*table)}
	}
	return nil
}

// Exists reports whether a database, or a collection inside it, exists.
func (a *Adapter) Exists(ctx context.Context, name, collection string) (bool, error) {
	done, err := a.begin(ctx, adapter.OpExists, "EXISTS "+name+" "+collection)
	if err != nil {
		return false, err
	}
	defer done()

	a.mu.RLock()
	defer a.mu.RUnlock()
	db, ok := a.dbs[adapter.Filter(name)]
	if !ok {
		return false, nil
	}
	if collection == "" {
		return true, nil
	}
	_, ok = db.tables[a.tableName(collection)]
	return ok, nil
}

// Delete drops a database.
func (a *Adapter) Delete(ctx context.Context, name string) error {
	done, err := a.begin(ctx, adapter.OpDeleteDatabase, "DROP DATABASE "+name)
	if err != nil {
		return err
	}
	defer done()
	defer a.lockWrite(ctx)()

	a.mu.Lock()
	defer a.mu.Unlock()
	name = adapter.Filter(name)
	if _, ok := a.dbs[name]; !ok {
		return &adapter.Error{Op: adapter.OpDeleteDatabase, Err: fmt.Errorf("database %q: %w", name, adapter.ErrNotFound)}
	}
	delete(a.dbs, name)
	return nil
}

func (a *Adapter) database(op string) (*database, error) {
	db, ok := a.dbs[a.scope.Database()]
	if !ok {
		return nil, &adapter.Error{Op: op, Err: fmt.Errorf("database %q: %w", a.scope.Database(), adapter.ErrNotFound)}
	}
	return db, nil
}

func (a *Adapter) table(op, collection string) (*table, error) {
	db, err := a.database(op)
	if err != nil {
		return nil, err
	}
	t, ok := db.tables[a.tableName(collection)]
	if !ok {
		return nil, &adapter.Error{Op: op, Err: fmt.Errorf("collection %q: %w", collection, adapter.ErrNotFound)}
	}
	return t, nil
}

// CreateCollection creates a table with columns for every non-relationship
// attribute.
func (a *Adapter) CreateCollection(
	ctx context.Context, name string, attributes []schema.Attribute, indexes []schema.Index,
) error {
	done, err := a.begin(ctx, adapter.OpCreateCollection, "CREATE TABLE "+a.tableName(name))
	if err != nil {
		return err
	}
	defer done()
	defer a.lockWrite(ctx)()

	a.mu.Lock()
	defer a.mu.Unlock()
	db, err := a.database(adapter.OpCreateCollection)
	if err != nil {
		return err
	}
	tn := a.tableName(name)
	if _, ok := db.tables[tn]; ok {
		return &adapter.Error{Op: adapter.OpCreateCollection, Err: fmt.Errorf("table %q: %w", tn, adapter.ErrDuplicate)}
	}
	t := newTable()
	for _, attr := range attributes {
		if attr.Type == schema.TypeRelationship {
			continue
		}
		t.columns[attr.Key] = column{typ: attr.Type, array: attr.Array}
	}
	for _, idx := range indexes {
		t.indexes[idx.Key] = idx.Clone()
	}
	db.tables[tn] = t
	return nil
}

// DeleteCollection drops a table.
func (a *Adapter) DeleteCollection(ctx context.Context, name string) error {
	done, err := a.begin(ctx, adapter.OpDeleteCollection, "DROP TABLE "+a.tableName(name))
	if err != nil {
		return err
	}
	defer done()
	defer a.lockWrite(ctx)()

	a.mu.Lock()
	defer a.mu.Unlock()
	db, err := a.database(adapter.OpDeleteCollection)
	if err != nil {
		return err
	}
	tn := a.tableName(name)
	if _, ok := db.tables[tn]; !ok {
		return &adapter.Error{Op: adapter.OpDeleteCollection, Err: fmt.Errorf("table %q: %w", tn, adapter.ErrNotFound)}
	}
	delete(db.tables, tn)
	return nil
}

// CreateAttribute adds a column.
func (a *Adapter) CreateAttribute(ctx context.Context, collection string, attr schema.Attribute) error {
	return a.alter(ctx, adapter.OpCreateAttribute, collection, func(t *table) error {
		return addColumn(t, attr.Key, column{typ: attr.Type, array: attr.Array})
	})
}

// UpdateAttribute changes a column type and optionally renames it.
func (a *Adapter) UpdateAttribute(ctx context.Context, collection string, attr schema.Attribute, newKey string) error {
	return a.alter(ctx, adapter.OpUpdateAttribute, collection, func(t *table) error {
		if _, ok := t.columns[attr.Key]; !ok {
			return fmt.Errorf("column %q: %w", attr.Key, adapter.ErrNotFound)
		}
		if err := checkShrink(t, attr); err != nil {
			return err
		}
		t.columns[attr.Key] = column{typ: attr.Type, array: attr.Array}
		if newKey != "" && newKey != attr.Key {
			return renameColumn(t, attr.Key, newKey)
		}
		return nil
	})
}

// checkShrink refuses a string size that stored values no longer fit in.
func checkShrink(t *table, attr schema.Attribute) error {
	if attr.Type != schema.TypeString || attr.Array || attr.Size <= 0 || attr.HasFilter(schema.FilterEncrypt) {
		return nil
	}
	for _, r := range t.rows {
		if s, ok := r.data[attr.Key].(string); ok && utf8.RuneCountInString(s) > attr.Size {
			return fmt.Errorf("column %q: value longer than %d: %w", attr.Key, attr.Size, adapter.ErrLimit)
		}
	}
	return nil
}

// DeleteAttribute drops a column.
func (a *Adapter) DeleteAttribute(ctx context.Context, collection, key string, _ bool) error {
	return a.alter(ctx, adapter.OpDeleteAttribute, collection, func(t *table) error {
		return dropColumn(t, key)
	})
}

// RenameAttribute renames a column.
func (a *Adapter) RenameAttribute(ctx context.Context, collection, oldKey, newKey string) error {
	return a.alter(ctx, adapter.OpRenameAttribute, collection, func(t *table) error {
		return renameColumn(t, oldKey, newKey)
	})
}

// CreateRelationship adds the key columns of a relationship, described
// from the parent side.
func (a *Adapter) CreateRelationship(ctx context.Context, rel adapter.Relationship) error {
	return a.alterRelationship(ctx, adapter.OpCreateRelation, rel, func(own, related *table) error {
		col := column{typ: schema.TypeRelationship}
		switch rel.Type {
		case schema.OneToOne:
			if err := addColumn(own, rel.Key, col); err != nil {
				return err
			}
			if rel.TwoWay {
				return addColumn(related, rel.TwoWayKey, col)
			}
		case schema.OneToMany:
			return addColumn(related, rel.TwoWayKey, col)
		case schema.ManyToOne:
			return addColumn(own, rel.Key, col)
		case schema.ManyToMany:
		default:
			return fmt.Errorf("invalid relation type %q", rel.Type)
		}
		return nil
	})
}

// UpdateRelationship renames the key columns of a relationship.
func (a *Adapter) UpdateRelationship(ctx context.Context, rel adapter.Relationship, newKey, newTwoWayKey string) error {
	return a.alterRelationship(ctx, adapter.OpUpdateRelation, rel, func(own, related *table) error {
		renameKey := newKey != "" && newKey != rel.Key
		renameTwoWay := newTwoWayKey != "" && newTwoWayKey != rel.TwoWayKey
		switch rel.Type {
		case schema.OneToOne:
			if renameKey {
				if err := renameColumn(own, rel.Key, newKey); err != nil {
					return err
				}
			}
			if rel.TwoWay && renameTwoWay {
				return renameColumn(related, rel.TwoWayKey, newTwoWayKey)
			}
		case schema.OneToMany:
			if renameTwoWay {
				return renameColumn(related, rel.TwoWayKey, newTwoWayKey)
			}
		case schema.ManyToOne:
			if renameKey {
				return renameColumn(own, rel.Key, newKey)
			}
		}
		return nil
	})
}

// DeleteRelationship drops the key columns of a relationship.
func (a *Adapter) DeleteRelationship(ctx context.Context, rel adapter.Relationship) error {
	return a.alterRelationship(ctx, adapter.OpDeleteRelation, rel, func(own, related *table) error {
		switch rel.Type {
		case schema.OneToOne:
			if err := dropColumn(own, rel.Key); err != nil {
				return err
			}
			if rel.TwoWay {
				return dropColumn(related, rel.TwoWayKey)
			}
		case schema.OneToMany:
			return dropColumn(related, rel.TwoWayKey)
		case schema.ManyToOne:
			return dropColumn(own, rel.Key)
		}
		return nil
	})
}

// CreateIndex records an index. Unique indexes are checked against
// existing rows.
func (a *Adapter) CreateIndex(
	ctx context.Context, collection string, index schema.Index, _ []schema.Attribute,
) error {
	return a.alter(ctx, adapter.OpCreateIndex, collection, func(t *table) error {
		if _, ok := t.indexes[index.Key]; ok {
			return fmt.Errorf("index %q: %w", index.Key, adapter.ErrDuplicate)
		}
		if index.Type == schema.IndexUnique {
			for i, r := range t.rows {
				if conflict(t, index, r, i) {
					return fmt.Errorf("index %q: existing rows: %w", index.Key, adapter.ErrDuplicate)
				}
			}
		}
		t.indexes[index.Key] = index.Clone()
		return nil
	})
}

// DeleteIndex drops an index.
func (a *Adapter) DeleteIndex(ctx context.Context, collection, key string) error {
	return a.alter(ctx, adapter.OpDeleteIndex, collection, func(t *table) error {
		if _, ok := t.indexes[key]; !ok {
			return fmt.Errorf("index %q: %w", key, adapter.ErrNotFound)
		}
		delete(t.indexes, key)
		return nil
	})
}

// RenameIndex renames an index.
func (a *Adapter) RenameIndex(ctx context.Context, collection, oldKey, newKey string) error {
	return a.alter(ctx, adapter.OpRenameIndex, collection, func(t *table) error {
		idx, ok := t.indexes[oldKey]
		if !ok {
			return fmt.Errorf("index %q: %w", oldKey, adapter.ErrNotFound)
		}
		if _, ok := t.indexes[newKey]; ok {
			return fmt.Errorf("index %q: %w", newKey, adapter.ErrDuplicate)
		}
		delete(t.indexes, oldKey)
		idx.Key = newKey
		t.indexes[newKey] = idx
		return nil
	})
}

func (a *Adapter) alter(ctx context.Context, op, collection string, fn func(t *table) error) error {
	done, err := a.begin(ctx, op, "ALTER TABLE "+a.tableName(collection))
	if err != nil {
		return err
	}
	defer done()
	defer a.lockWrite(ctx)()

	a.mu.Lock()
	defer a.mu.Unlock()
	t, err := a.table(op, collection)
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		return &adapter.Error{Op: op, Err: err}
	}
	return nil
}

func (a *Adapter) alterRelationship(
	ctx context.Context, op string, rel adapter.Relationship, fn func(own, related *table) error,
) error {
	done, err := a.begin(ctx, op, "ALTER TABLE "+a.tableName(rel.Collection)+", "+a.tableName(rel.RelatedCollection))
	if err != nil {
		return err
	}
	defer done()
	defer a.lockWrite(ctx)()

	a.mu.Lock()
	defer a.mu.Unlock()
	own, err := a.table(op, rel.Collection)
	if err != nil {
		return err
	}
	related, err := a.table(op, rel.RelatedCollection)
	if err != nil {
		return err
	}
	if err := fn(own, related); err != nil {
		return &adapter.Error{Op: op, Err: err}
	}
	return nil
}

func addColumn(t *table, key string, col column) error {
	if _, ok := t.columns[key]; ok {
		return fmt.Errorf("column %q: %w", key, adapter.ErrDuplicate)
	}
	t.columns[key] = col
	return nil
}

func dropColumn(t *table, key string) error {
	if _, ok := t.columns[key]; !ok {
		return fmt.Errorf("column %q: %w", key, adapter.ErrNotFound)
	}
	delete(t.columns, key)
	for _, r := range t.rows {
		delete(r.data, key)
	}
	for k, idx := range t.indexes {
		if slices.Contains(idx.Attributes, key) {
			delete(t.indexes, k)
		}
	}
	return nil
}

func renameColumn(t *table, oldKey, newKey string) error {
	col, ok := t.columns[oldKey]
	if !ok {
		return fmt.Errorf("column %q: %w", oldKey, adapter.ErrNotFound)
	}
	if _, ok := t.columns[newKey]; ok {
		return fmt.Errorf("column %q: %w", newKey, adapter.ErrDuplicate)
	}
	delete(t.columns, oldKey)
	t.columns[newKey] = col
	for _, r := range t.rows {
		if v, ok := r.data[oldKey]; ok {
			delete(r.data, oldKey)
			r.data[newKey] = v
		}
	}
	for k, idx := range t.indexes {
		for i, attr := range idx.Attributes {
			if attr == oldKey {
				idx.Attributes[i] = newKey
			}
		}
		t.indexes[k] = idx
	}
	return nil
}
