package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/domain/datetime"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/permission"
)

// GetDocument reads one row by $id. A missing row is an empty Document.
func (a *Adapter) GetDocument(
	ctx context.Context, collection, id string, selections []string, forUpdate bool,
) (document.Document, error) {
	w := &where{}
	w.add(`"_uid" = ?`, id)
	a.tenantCondition(w)
	stmt := "SELECT " + projection(selections) + " FROM " + a.table(collection) + " WHERE " + w.sql() + " LIMIT 1"
	if forUpdate {
		stmt += " FOR UPDATE"
	}
	var docs []document.Document
	err := a.query(ctx, adapter.OpGetDocument, stmt, func(rows *sql.Rows) error {
		var err error
		docs, err = scanDocuments(rows)
		return err
	}, w.args...)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return document.Document{}, nil
	}
	return docs[0], nil
}

// CreateDocument inserts a row and its permissions.
func (a *Adapter) CreateDocument(ctx context.Context, collection string, doc document.Document) (document.Document, error) {
	out, err := a.CreateDocuments(ctx, collection, []document.Document{doc}, 1)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// CreateDocuments inserts rows in multi-row statements of batchSize.
func (a *Adapter) CreateDocuments(
	ctx context.Context, collection string, docs []document.Document, batchSize int,
) ([]document.Document, error) {
	if batchSize <= 0 {
		batchSize = len(docs)
	}
	out := make([]document.Document, 0, len(docs))
	for batch := range slices.Chunk(docs, max(batchSize, 1)) {
		created, err := a.insertBatch(ctx, collection, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, created...)
	}
	return out, nil
}

func (a *Adapter) insertBatch(ctx context.Context, collection string, docs []document.Document) ([]document.Document, error) {
	tenant, shared := a.scope.TenantFilter()
	keys := attributeKeys(docs)

	cols := []string{`"_uid"`, `"_createdAt"`, `"_updatedAt"`, `"_permissions"`}
	if shared {
		cols = append(cols, `"_tenant"`)
	}
	for _, k := range keys {
		cols = append(cols, quote(k))
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	rowsSQL := make([]string, len(docs))
	args := make([]any, 0, len(docs)*len(cols))
	for i, doc := range docs {
		perms, err := permissionsJSON(doc.Permissions())
		if err != nil {
			return nil, &adapter.Error{Op: adapter.OpCreateDocument, Err: err}
		}
		args = append(args, doc.ID(), nullString(doc.CreatedAt()), nullString(doc.UpdatedAt()), perms)
		if shared {
			args = append(args, tenant)
		}
		for _, k := range keys {
			v, err := toColumnValue(doc.Get(k))
			if err != nil {
				return nil, &adapter.Error{Op: adapter.OpCreateDocument, Err: fmt.Errorf("attribute %q: %w", k, err)}
			}
			args = append(args, v)
		}
		rowsSQL[i] = placeholders
	}

	stmt := "INSERT INTO " + a.table(collection) + " (" + strings.Join(cols, ", ") + ") VALUES " +
		strings.Join(rowsSQL, ", ") + ` RETURNING "_uid", "_id"`
	ids := make(map[string]int64, len(docs))
	err := a.query(ctx, adapter.OpCreateDocument, stmt, func(rows *sql.Rows) error {
		for rows.Next() {
			var uid string
			var id int64
			if err := rows.Scan(&uid, &id); err != nil {
				return err
			}
			ids[uid] = id
		}
		return nil
	}, args...)
	if err != nil {
		return nil, err
	}

	if err := a.insertPermissions(ctx, collection, docs); err != nil {
		return nil, err
	}

	out := make([]document.Document, len(docs))
	for i, doc := range docs {
		d := doc.Clone()
		d[document.KeyInternalID] = formatInternalID(ids[doc.ID()])
		if shared {
			d[document.KeyTenant] = tenant
		}
		out[i] = d
	}
	return out, nil
}

func (a *Adapter) insertPermissions(ctx context.Context, collection string, docs []document.Document) error {
	tenant, shared := a.scope.TenantFilter()
	var values []string
	var args []any
	for _, doc := range docs {
		for _, p := range permissionRows(doc.Permissions()) {
			if shared {
				values = append(values, "(?, ?, ?, ?)")
				args = append(args, string(p.Action), p.Role.String(), doc.ID(), tenant)
				continue
			}
			values = append(values, "(?, ?, ?)")
			args = append(args, string(p.Action), p.Role.String(), doc.ID())
		}
	}
	if len(values) == 0 {
		return nil
	}
	cols := `"_type", "_permission", "_document"`
	if shared {
		cols += `, "_tenant"`
	}
	stmt := "INSERT INTO " + a.permsTable(collection) + " (" + cols + ") VALUES " + strings.Join(values, ", ")
	_, err := a.exec(ctx, adapter.OpCreateDocument, stmt, args...)
	return err
}

func (a *Adapter) deletePermissions(ctx context.Context, op, collection, id string) error {
	w := &where{}
	w.add(`"_document" = ?`, id)
	a.tenantCondition(w)
	_, err := a.exec(ctx, op, "DELETE FROM "+a.permsTable(collection)+" WHERE "+w.sql(), w.args...)
	return err
}

// UpdateDocument rewrites the columns present in doc. doc may carry a new $id.
func (a *Adapter) UpdateDocument(
	ctx context.Context, collection, id string, doc document.Document,
) (document.Document, error) {
	var sets []string
	var args []any
	newID := doc.ID()
	if newID != "" && newID != id {
		sets = append(sets, `"_uid" = ?`)
		args = append(args, newID)
	} else {
		newID = id
	}
	if v := doc.CreatedAt(); v != "" {
		sets = append(sets, `"_createdAt" = ?`)
		args = append(args, v)
	}
	if v := doc.UpdatedAt(); v != "" {
		sets = append(sets, `"_updatedAt" = ?`)
		args = append(args, v)
	}
	hasPerms := doc.Has(document.KeyPermissions)
	if hasPerms {
		perms, err := permissionsJSON(doc.Permissions())
		if err != nil {
			return nil, &adapter.Error{Op: adapter.OpUpdateDocument, Err: err}
		}
		sets = append(sets, `"_permissions" = ?`)
		args = append(args, perms)
	}
	for _, k := range doc.Keys() {
		if strings.HasPrefix(k, "$") {
			continue
		}
		v, err := toColumnValue(doc.Get(k))
		if err != nil {
			return nil, &adapter.Error{Op: adapter.OpUpdateDocument, Err: fmt.Errorf("attribute %q: %w", k, err)}
		}
		sets = append(sets, quote(k)+" = ?")
		args = append(args, v)
	}

	if len(sets) > 0 {
		w := &where{args: args}
		w.add(`"_uid" = ?`, id)
		a.tenantCondition(w)
		stmt := "UPDATE " + a.table(collection) + " SET " + strings.Join(sets, ", ") + " WHERE " + w.sql()
		n, err := a.exec(ctx, adapter.OpUpdateDocument, stmt, w.args...)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, &adapter.Error{Op: adapter.OpUpdateDocument,
				Err: fmt.Errorf("document %q: %w", id, adapter.ErrNotFound)}
		}
	}

	switch {
	case hasPerms:
		if err := a.deletePermissions(ctx, adapter.OpUpdateDocument, collection, id); err != nil {
			return nil, err
		}
		d := doc.Clone()
		d[document.KeyID] = newID
		if err := a.insertPermissions(ctx, collection, []document.Document{d}); err != nil {
			return nil, err
		}
	case newID != id:
		w := &where{args: []any{newID}}
		w.add(`"_document" = ?`, id)
		a.tenantCondition(w)
		stmt := "UPDATE " + a.permsTable(collection) + ` SET "_document" = ? WHERE ` + w.sql()
		if _, err := a.exec(ctx, adapter.OpUpdateDocument, stmt, w.args...); err != nil {
			return nil, err
		}
	}

	return a.GetDocument(ctx, collection, newID, nil, false)
}

// UpdateDocuments updates each document by its $id.
func (a *Adapter) UpdateDocuments(
	ctx context.Context, collection string, docs []document.Document, _ int,
) ([]document.Document, error) {
	out := make([]document.Document, 0, len(docs))
	for _, doc := range docs {
		d, err := a.UpdateDocument(ctx, collection, doc.ID(), doc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// DeleteDocument removes a row and its permissions.
func (a *Adapter) DeleteDocument(ctx context.Context, collection, id string) (bool, error) {
	w := &where{}
	w.add(`"_uid" = ?`, id)
	a.tenantCondition(w)
	n, err := a.exec(ctx, adapter.OpDeleteDocument, "DELETE FROM "+a.table(collection)+" WHERE "+w.sql(), w.args...)
	if err != nil {
		return false, err
	}
	if err := a.deletePermissions(ctx, adapter.OpDeleteDocument, collection, id); err != nil {
		return false, err
	}
	return n > 0, nil
}

// IncreaseDocumentAttribute adds Value to a numeric column in one
// statement, guarded by Min and Max.
func (a *Adapter) IncreaseDocumentAttribute(ctx context.Context, req adapter.Increase) error {
	col := quote(req.Attribute)
	sets := col + " = " + col + " + ?"
	w := &where{args: []any{req.Value}}
	if req.UpdatedAt != "" {
		sets += `, "_updatedAt" = ?`
		w.args = append(w.args, req.UpdatedAt)
	}
	w.add(`"_uid" = ?`, req.ID)
	a.tenantCondition(w)
	if req.Min != nil {
		w.add(col+" >= ?", *req.Min)
	}
	if req.Max != nil {
		w.add(col+" <= ?", *req.Max)
	}
	stmt := "UPDATE " + a.table(req.Collection) + " SET " + sets + " WHERE " + w.sql()
	n, err := a.exec(ctx, adapter.OpIncrease, stmt, w.args...)
	if err != nil {
		return err
	}
	if n == 0 {
		if req.Min != nil || req.Max != nil {
			return &adapter.Error{Op: adapter.OpIncrease, Err: adapter.ErrConditionFail}
		}
		return &adapter.Error{Op: adapter.OpIncrease, Err: fmt.Errorf("document %q: %w", req.ID, adapter.ErrNotFound)}
	}
	return nil
}

// tenantCondition restricts w to the active tenant in shared-tables mode.
func (a *Adapter) tenantCondition(w *where) {
	if tenant, ok := a.scope.TenantFilter(); ok {
		w.add(`"_tenant" = ?`, tenant)
	}
}

func attributeKeys(docs []document.Document) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, d := range docs {
		for k := range d {
			if strings.HasPrefix(k, "$") || seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func permissionRows(perms []string) []permission.Permission {
	var out []permission.Permission
	for _, s := range perms {
		p, err := permission.Parse(s)
		if err != nil {
			continue
		}
		for _, action := range p.Action.Expand() {
			row := permission.Permission{Action: action, Role: p.Role}
			if !slices.Contains(out, row) {
				out = append(out, row)
			}
		}
	}
	return out
}

func permissionsJSON(perms []string) (string, error) {
	if perms == nil {
		perms = []string{}
	}
	b, err := json.Marshal(perms)
	if err != nil {
		return "", fmt.Errorf("encode permissions: %w", err)
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// toColumnValue converts a document value to a driver value. Lists and
// objects are stored as JSON text.
func toColumnValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, int64, float64:
		return t, nil
	case int:
		return int64(t), nil
	case []any, document.Document, map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// scanDocuments maps rows to documents, renaming internal columns.
func scanDocuments(rows *sql.Rows) ([]document.Document, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []document.Document
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		doc := make(document.Document, len(cols))
		for i, col := range cols {
			setColumn(doc, col, values[i])
		}
		out = append(out, doc)
	}
	return out, nil
}

func setColumn(doc document.Document, col string, v any) {
	switch x := v.(type) {
	case []byte:
		v = string(x)
	case time.Time:
		v = x.UTC().Format(datetime.StorageLayout)
	case int32:
		v = int64(x)
	case float32:
		v = float64(x)
	}
	switch col {
	case "_id":
		switch id := v.(type) {
		case int64:
			doc[document.KeyInternalID] = formatInternalID(id)
		case string:
			doc[document.KeyInternalID] = id
		}
	case "_uid":
		doc[document.KeyID] = v
	case "_tenant":
		if v != nil {
			doc[document.KeyTenant] = v
		}
	case "_createdAt":
		doc[document.KeyCreatedAt] = v
	case "_updatedAt":
		doc[document.KeyUpdatedAt] = v
	case "_permissions":
		var perms []any
		if s, ok := v.(string); ok && s != "" {
			_ = json.Unmarshal([]byte(s), &perms)
		}
		if perms == nil {
			perms = []any{}
		}
		doc[document.KeyPermissions] = perms
	default:
		doc[col] = v
	}
}

// projection selects internal columns plus the requested attributes.
func projection(selections []string) string {
	if len(selections) == 0 || slices.Contains(selections, "*") {
		return "*"
	}
	cols := []string{`"_id"`, `"_uid"`, `"_tenant"`, `"_createdAt"`, `"_updatedAt"`, `"_permissions"`}
	for _, s := range selections {
		if strings.HasPrefix(s, "$") {
			continue
		}
		cols = append(cols, quote(s))
	}
	return strings.Join(cols, ", ")
}
