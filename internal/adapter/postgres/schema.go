package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

// Create creates the database schema. Creating an existing schema is a no-op.
func (a *Adapter) Create(ctx context.Context, name string) error {
	_, err := a.exec(ctx, adapter.OpCreateDatabase, "CREATE SCHEMA IF NOT EXISTS "+quote(adapter.Filter(name)))
	return err
}

// Exists reports whether a schema, or a collection table inside it, exists.
func (a *Adapter) Exists(ctx context.Context, name, collection string) (bool, error) {
	stmt := "SELECT COUNT(1) FROM information_schema.schemata WHERE schema_name = ?"
	args := []any{adapter.Filter(name)}
	if collection != "" {
		stmt = "SELECT COUNT(1) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?"
		args = append(args, a.tableName(collection))
	}
	var n int64
	err := a.query(ctx, adapter.OpExists, stmt, func(rows *sql.Rows) error {
		if rows.Next() {
			return rows.Scan(&n)
		}
		return nil
	}, args...)
	return n > 0, err
}

// Delete drops the schema and everything in it.
func (a *Adapter) Delete(ctx context.Context, name string) error {
	_, err := a.exec(ctx, adapter.OpDeleteDatabase, "DROP SCHEMA "+quote(adapter.Filter(name))+" CASCADE")
	return err
}

// CreateCollection creates the collection table, its internal indexes,
// the requested indexes and the permissions table.
func (a *Adapter) CreateCollection(
	ctx context.Context, name string, attributes []schema.Attribute, indexes []schema.Index,
) error {
	cols := []string{
		`"_id" BIGSERIAL PRIMARY KEY`,
		`"_uid" VARCHAR(255) NOT NULL`,
		`"_tenant" BIGINT DEFAULT NULL`,
		`"_createdAt" TIMESTAMP(3) DEFAULT NULL`,
		`"_updatedAt" TIMESTAMP(3) DEFAULT NULL`,
		`"_permissions" TEXT DEFAULT NULL`,
	}
	for _, attr := range attributes {
		if attr.Type == schema.TypeRelationship {
			continue
		}
		cols = append(cols, quote(attr.Key)+" "+columnType(attr)+" DEFAULT NULL")
	}

	table := a.table(name)
	uid := `"_uid"`
	if a.scope.SharedTables() {
		uid = `"_uid", "_tenant"`
	}
	stmts := []string{
		"CREATE TABLE " + table + " (" + strings.Join(cols, ", ") + ")",
		"CREATE UNIQUE INDEX " + quote(a.indexName(name, "_uid")) + " ON " + table + " (" + uid + ")",
		"CREATE INDEX " + quote(a.indexName(name, "_created_at")) + ` ON ` + table + ` ("_createdAt")`,
		"CREATE INDEX " + quote(a.indexName(name, "_updated_at")) + ` ON ` + table + ` ("_updatedAt")`,
	}
	if a.scope.SharedTables() {
		stmts = append(stmts, "CREATE INDEX "+quote(a.indexName(name, "_tenant_id"))+" ON "+table+` ("_tenant", "_id")`)
	}
	byKey := make(map[string]schema.Attribute, len(attributes))
	for _, attr := range attributes {
		byKey[attr.Key] = attr
	}
	for _, idx := range indexes {
		stmts = append(stmts, a.indexStatement(name, idx, byKey))
	}

	perms := a.permsTable(name)
	stmts = append(stmts,
		"CREATE TABLE "+perms+` ("_id" BIGSERIAL PRIMARY KEY, "_tenant" BIGINT DEFAULT NULL, `+
			`"_type" VARCHAR(12) NOT NULL, "_permission" VARCHAR(255) NOT NULL, "_document" VARCHAR(255) NOT NULL)`,
		"CREATE UNIQUE INDEX "+quote(a.indexName(name, "_perms_index1"))+" ON "+perms+
			` ("_document", "_tenant", "_type", "_permission")`,
		"CREATE INDEX "+quote(a.indexName(name, "_perms_index2"))+" ON "+perms+` ("_permission", "_type")`,
	)

	for _, stmt := range stmts {
		if _, err := a.exec(ctx, adapter.OpCreateCollection, stmt); err != nil {
			return err
		}
	}
	return nil
}

// DeleteCollection drops the collection and permissions tables.
func (a *Adapter) DeleteCollection(ctx context.Context, name string) error {
	_, err := a.exec(ctx, adapter.OpDeleteCollection, "DROP TABLE "+a.table(name)+", "+a.permsTable(name))
	return err
}

// CreateAttribute adds a column.
func (a *Adapter) CreateAttribute(ctx context.Context, collection string, attr schema.Attribute) error {
	stmt := "ALTER TABLE " + a.table(collection) + " ADD COLUMN " + quote(attr.Key) + " " + columnType(attr)
	_, err := a.exec(ctx, adapter.OpCreateAttribute, stmt)
	return err
}

// UpdateAttribute changes a column type and optionally renames it.
// Character targets rely on the assignment cast, which fails with 22001 on
// values that no longer fit instead of truncating them.
func (a *Adapter) UpdateAttribute(ctx context.Context, collection string, attr schema.Attribute, newKey string) error {
	typ := columnType(attr)
	stmt := "ALTER TABLE " + a.table(collection) + " ALTER COLUMN " + quote(attr.Key) + " TYPE " + typ
	if !isCharacterType(typ) {
		stmt += " USING " + quote(attr.Key) + "::" + typ
	}
	if _, err := a.exec(ctx, adapter.OpUpdateAttribute, stmt); err != nil {
		return err
	}
	if newKey != "" && newKey != attr.Key {
		return a.RenameAttribute(ctx, collection, attr.Key, newKey)
	}
	return nil
}

// DeleteAttribute drops a column. Indexes covering it are dropped with it.
func (a *Adapter) DeleteAttribute(ctx context.Context, collection, key string, _ bool) error {
	stmt := "ALTER TABLE " + a.table(collection) + " DROP COLUMN " + quote(key)
	_, err := a.exec(ctx, adapter.OpDeleteAttribute, stmt)
	return err
}

// RenameAttribute renames a column.
func (a *Adapter) RenameAttribute(ctx context.Context, collection, oldKey, newKey string) error {
	stmt := "ALTER TABLE " + a.table(collection) + " RENAME COLUMN " + quote(oldKey) + " TO " + quote(newKey)
	_, err := a.exec(ctx, adapter.OpRenameAttribute, stmt)
	return err
}

// CreateRelationship adds the key columns of a relationship.
func (a *Adapter) CreateRelationship(ctx context.Context, rel adapter.Relationship) error {
	add := func(collection, key string) string {
		return "ALTER TABLE " + a.table(collection) + " ADD COLUMN " + quote(key) + " VARCHAR(255) DEFAULT NULL"
	}
	var stmts []string
	switch rel.Type {
	case schema.OneToOne:
		stmts = append(stmts, add(rel.Collection, rel.Key))
		if rel.TwoWay {
			stmts = append(stmts, add(rel.RelatedCollection, rel.TwoWayKey))
		}
	case schema.OneToMany:
		stmts = append(stmts, add(rel.RelatedCollection, rel.TwoWayKey))
	case schema.ManyToOne:
		stmts = append(stmts, add(rel.Collection, rel.Key))
	case schema.ManyToMany:
		return nil
	default:
		return &adapter.Error{Op: adapter.OpCreateRelation, Err: fmt.Errorf("invalid relation type %q", rel.Type)}
	}
	return a.execAll(ctx, adapter.OpCreateRelation, stmts)
}

// UpdateRelationship renames the key columns of a relationship.
func (a *Adapter) UpdateRelationship(ctx context.Context, rel adapter.Relationship, newKey, newTwoWayKey string) error {
	rename := func(collection, from, to string) string {
		return "ALTER TABLE " + a.table(collection) + " RENAME COLUMN " + quote(from) + " TO " + quote(to)
	}
	renameKey := newKey != "" && newKey != rel.Key
	renameTwoWay := newTwoWayKey != "" && newTwoWayKey != rel.TwoWayKey
	var stmts []string
	switch rel.Type {
	case schema.OneToOne:
		if renameKey {
			stmts = append(stmts, rename(rel.Collection, rel.Key, newKey))
		}
		if rel.TwoWay && renameTwoWay {
			stmts = append(stmts, rename(rel.RelatedCollection, rel.TwoWayKey, newTwoWayKey))
		}
	case schema.OneToMany:
		if renameTwoWay {
			stmts = append(stmts, rename(rel.RelatedCollection, rel.TwoWayKey, newTwoWayKey))
		}
	case schema.ManyToOne:
		if renameKey {
			stmts = append(stmts, rename(rel.Collection, rel.Key, newKey))
		}
	}
	return a.execAll(ctx, adapter.OpUpdateRelation, stmts)
}

// DeleteRelationship drops the key columns of a relationship.
func (a *Adapter) DeleteRelationship(ctx context.Context, rel adapter.Relationship) error {
	drop := func(collection, key string) string {
		return "ALTER TABLE " + a.table(collection) + " DROP COLUMN " + quote(key)
	}
	var stmts []string
	switch rel.Type {
	case schema.OneToOne:
		stmts = append(stmts, drop(rel.Collection, rel.Key))
		if rel.TwoWay {
			stmts = append(stmts, drop(rel.RelatedCollection, rel.TwoWayKey))
		}
	case schema.OneToMany:
		stmts = append(stmts, drop(rel.RelatedCollection, rel.TwoWayKey))
	case schema.ManyToOne:
		stmts = append(stmts, drop(rel.Collection, rel.Key))
	}
	return a.execAll(ctx, adapter.OpDeleteRelation, stmts)
}

// CreateIndex creates an index. attributes describe the indexed columns.
func (a *Adapter) CreateIndex(
	ctx context.Context, collection string, index schema.Index, attributes []schema.Attribute,
) error {
	byKey := make(map[string]schema.Attribute, len(attributes))
	for _, attr := range attributes {
		byKey[attr.Key] = attr
	}
	_, err := a.exec(ctx, adapter.OpCreateIndex, a.indexStatement(collection, index, byKey))
	return err
}

// DeleteIndex drops an index.
func (a *Adapter) DeleteIndex(ctx context.Context, collection, key string) error {
	stmt := "DROP INDEX " + quote(a.scope.Database()) + "." + quote(a.indexName(collection, key))
	_, err := a.exec(ctx, adapter.OpDeleteIndex, stmt)
	return err
}

// RenameIndex renames an index.
func (a *Adapter) RenameIndex(ctx context.Context, collection, oldKey, newKey string) error {
	stmt := "ALTER INDEX " + quote(a.scope.Database()) + "." + quote(a.indexName(collection, oldKey)) +
		" RENAME TO " + quote(a.indexName(collection, newKey))
	_, err := a.exec(ctx, adapter.OpRenameIndex, stmt)
	return err
}

func (a *Adapter) execAll(ctx context.Context, op string, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := a.exec(ctx, op, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) indexStatement(collection string, idx schema.Index, attrs map[string]schema.Attribute) string {
	name := quote(a.indexName(collection, idx.Key))
	table := a.table(collection)

	if idx.Type == schema.IndexFulltext {
		parts := make([]string, len(idx.Attributes))
		for i, key := range idx.Attributes {
			parts[i] = "coalesce(" + column(key) + ", '')"
		}
		return "CREATE INDEX " + name + " ON " + table +
			" USING GIN (to_tsvector('simple', " + strings.Join(parts, " || ' ' || ") + "))"
	}

	for _, key := range idx.Attributes {
		if attrs[key].Array {
			return "CREATE INDEX " + name + " ON " + table + " USING GIN (" + column(key) + ")"
		}
	}

	cols := make([]string, 0, len(idx.Attributes)+1)
	if a.scope.SharedTables() {
		cols = append(cols, `"_tenant"`)
	}
	for i, key := range idx.Attributes {
		c := column(key)
		if i < len(idx.Orders) && strings.EqualFold(idx.Orders[i], "DESC") {
			c += " DESC"
		}
		cols = append(cols, c)
	}
	kind := "INDEX"
	if idx.Type == schema.IndexUnique {
		kind = "UNIQUE INDEX"
	}
	return "CREATE " + kind + " " + name + " ON " + table + " (" + strings.Join(cols, ", ") + ")"
}

// columnType maps an attribute to its column type. Lists are JSONB.
// Encrypted strings outgrow their declared size and are always TEXT.
func isCharacterType(typ string) bool {
	return typ == "TEXT" || strings.HasPrefix(typ, "VARCHAR(")
}

func columnType(attr schema.Attribute) string {
	if attr.Array {
		return "JSONB"
	}
	switch attr.Type {
	case schema.TypeString:
		if attr.Size > adapter.SQLMaxVarcharLength || attr.HasFilter(schema.FilterEncrypt) {
			return "TEXT"
		}
		return fmt.Sprintf("VARCHAR(%d)", attr.Size)
	case schema.TypeInteger:
		if attr.Size >= 8 || !attr.Signed {
			return "BIGINT"
		}
		return "INTEGER"
	case schema.TypeFloat:
		return "DOUBLE PRECISION"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDatetime:
		return "TIMESTAMP(3)"
	case schema.TypeRelationship:
		return "VARCHAR(255)"
	}
	return "TEXT"
}
