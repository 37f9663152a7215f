package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/query"
)

// where accumulates AND-ed conditions and their arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return "TRUE"
	}
	return strings.Join(w.conds, " AND ")
}

// column maps an attribute key to its quoted column.
func column(key string) string {
	switch key {
	case document.KeyID:
		return `"_uid"`
	case document.KeyInternalID:
		return `"_id"`
	case document.KeyCreatedAt:
		return `"_createdAt"`
	case document.KeyUpdatedAt:
		return `"_updatedAt"`
	case document.KeyTenant:
		return `"_tenant"`
	}
	return quote(key)
}

// Find returns matching rows ordered, paginated and projected.
func (a *Adapter) Find(ctx context.Context, collection string, req adapter.FindRequest) ([]document.Document, error) {
	w, err := a.filters(collection, req.Filters, req.ArrayAttributes, req.Roles)
	if err != nil {
		return nil, &adapter.Error{Op: adapter.OpFind, Err: err}
	}

	before := req.CursorDirection == query.DirectionBefore
	orders := make([]string, 0, len(req.OrderAttributes)+1)
	var first string
	firstDesc := false
	for i, attr := range req.OrderAttributes {
		desc := i < len(req.OrderTypes) && req.OrderTypes[i] == query.Desc
		if before {
			desc = !desc
		}
		if i == 0 {
			first, firstDesc = attr, desc
		}
		orders = append(orders, column(attr)+" "+direction(desc))
	}
	orders = append(orders, `"_id" `+direction(before))

	if !req.Cursor.IsEmpty() {
		id, _ := strconv.ParseInt(req.Cursor.InternalID(), 10, 64)
		idOp := comparison(before)
		if first == "" {
			w.add(`"_id" `+idOp+" ?", id)
		} else {
			col := column(first)
			v := req.Cursor.Get(first)
			w.add("("+col+" "+comparison(firstDesc)+" ? OR ("+col+" = ? AND \"_id\" "+idOp+" ?))", v, v, id)
		}
	}

	stmt := "SELECT " + projection(req.Selections) + " FROM " + a.table(collection) +
		" WHERE " + w.sql() + " ORDER BY " + strings.Join(orders, ", ")
	if req.Limit > 0 {
		stmt += " LIMIT ?"
		w.args = append(w.args, req.Limit)
	}
	if req.Offset > 0 {
		stmt += " OFFSET ?"
		w.args = append(w.args, req.Offset)
	}
	if req.ForUpdate {
		stmt += " FOR UPDATE"
	}

	var docs []document.Document
	err = a.query(ctx, adapter.OpFind, stmt, func(rows *sql.Rows) error {
		var err error
		docs, err = scanDocuments(rows)
		return err
	}, w.args...)
	if err != nil {
		return nil, err
	}
	if before {
		slices.Reverse(docs)
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return docs, nil
}

// Count returns the number of matching rows, capped by Max.
func (a *Adapter) Count(ctx context.Context, collection string, req adapter.CountRequest) (int, error) {
	w, err := a.filters(collection, req.Filters, req.ArrayAttributes, req.Roles)
	if err != nil {
		return 0, &adapter.Error{Op: adapter.OpCount, Err: err}
	}
	inner := "SELECT 1 FROM " + a.table(collection) + " WHERE " + w.sql()
	if req.Max > 0 {
		inner += " LIMIT ?"
		w.args = append(w.args, req.Max)
	}
	var n int64
	err = a.query(ctx, adapter.OpCount, "SELECT COUNT(1) FROM ("+inner+") AS sub", func(rows *sql.Rows) error {
		if rows.Next() {
			return rows.Scan(&n)
		}
		return nil
	}, w.args...)
	return int(n), err
}

// Sum adds attribute over matching rows, scanning at most Max rows.
func (a *Adapter) Sum(ctx context.Context, collection, attribute string, req adapter.CountRequest) (float64, error) {
	w, err := a.filters(collection, req.Filters, req.ArrayAttributes, req.Roles)
	if err != nil {
		return 0, &adapter.Error{Op: adapter.OpSum, Err: err}
	}
	col := column(attribute)
	inner := "SELECT " + col + " FROM " + a.table(collection) + " WHERE " + w.sql()
	if req.Max > 0 {
		inner += " LIMIT ?"
		w.args = append(w.args, req.Max)
	}
	var sum float64
	stmt := "SELECT COALESCE(SUM(" + col + "), 0)::DOUBLE PRECISION FROM (" + inner + ") AS sub"
	err = a.query(ctx, adapter.OpSum, stmt, func(rows *sql.Rows) error {
		if rows.Next() {
			return rows.Scan(&sum)
		}
		return nil
	}, w.args...)
	return sum, err
}

// filters builds the WHERE clause for queries, tenant and read permissions.
func (a *Adapter) filters(collection string, filters []query.Query, arrays []string, roles []string) (*where, error) {
	w := &where{}
	for _, q := range filters {
		cond, args, err := condition(q, arrays)
		if err != nil {
			return nil, err
		}
		w.add(cond, args...)
	}
	a.tenantCondition(w)
	if roles != nil {
		if len(roles) == 0 {
			w.add("FALSE")
			return w, nil
		}
		sub := `"_uid" IN (SELECT "_document" FROM ` + a.permsTable(collection) +
			` WHERE "_permission" IN (` + placeholders(len(roles)) + `) AND "_type" = 'read'`
		args := make([]any, 0, len(roles)+1)
		for _, r := range roles {
			args = append(args, r)
		}
		if tenant, ok := a.scope.TenantFilter(); ok {
			sub += ` AND "_tenant" = ?`
			args = append(args, tenant)
		}
		w.add(sub+")", args...)
	}
	return w, nil
}

// condition renders one filter query.
func condition(q query.Query, arrays []string) (string, []any, error) {
	switch q.Method {
	case query.And, query.Or:
		nested := q.Queries()
		parts := make([]string, 0, len(nested))
		var args []any
		for _, n := range nested {
			cond, a, err := condition(n, arrays)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, cond)
			args = append(args, a...)
		}
		sep := " AND "
		if q.Method == query.Or {
			sep = " OR "
		}
		return "(" + strings.Join(parts, sep) + ")", args, nil
	}

	col := column(q.Attribute)
	switch q.Method {
	case query.IsNull:
		return col + " IS NULL", nil, nil
	case query.IsNotNull:
		return col + " IS NOT NULL", nil, nil
	}
	if slices.Contains(arrays, q.Attribute) {
		return arrayCondition(col, q)
	}

	switch q.Method {
	case query.Equal:
		return col + " IN (" + placeholders(len(q.Values)) + ")", q.Values, nil
	case query.NotEqual:
		return "(" + col + " IS NULL OR " + col + " NOT IN (" + placeholders(len(q.Values)) + "))", q.Values, nil
	case query.LessThan:
		return col + " < ?", []any{q.Value()}, nil
	case query.LessThanEqual:
		return col + " <= ?", []any{q.Value()}, nil
	case query.GreaterThan:
		return col + " > ?", []any{q.Value()}, nil
	case query.GreaterThanEqual:
		return col + " >= ?", []any{q.Value()}, nil
	case query.Between:
		if len(q.Values) != 2 {
			return "", nil, fmt.Errorf("between needs two values")
		}
		return col + " BETWEEN ? AND ?", []any{q.Values[0], q.Values[1]}, nil
	case query.StartsWith:
		return col + " LIKE ?", []any{escapeLike(fmt.Sprint(q.Value())) + "%"}, nil
	case query.EndsWith:
		return col + " LIKE ?", []any{"%" + escapeLike(fmt.Sprint(q.Value()))}, nil
	case query.Contains:
		parts := make([]string, len(q.Values))
		args := make([]any, len(q.Values))
		for i, v := range q.Values {
			parts[i] = col + " LIKE ?"
			args[i] = "%" + escapeLike(fmt.Sprint(v)) + "%"
		}
		return "(" + strings.Join(parts, " OR ") + ")", args, nil
	case query.Search:
		term := strings.Join(strings.Fields(fmt.Sprint(q.Value())), " or ")
		return "to_tsvector('simple', coalesce(" + col + ", '')) @@ websearch_to_tsquery('simple', ?)", []any{term}, nil
	}
	return "", nil, fmt.Errorf("unsupported query method %q", q.Method)
}

// arrayCondition matches any element of a JSONB list column.
func arrayCondition(col string, q query.Query) (string, []any, error) {
	exists := "EXISTS (SELECT 1 FROM jsonb_array_elements_text(" + col + ") AS e(v) WHERE "
	texts := make([]any, len(q.Values))
	for i, v := range q.Values {
		texts[i] = fmt.Sprint(v)
	}
	switch q.Method {
	case query.Equal, query.Contains:
		return exists + "e.v IN (" + placeholders(len(texts)) + "))", texts, nil
	case query.NotEqual:
		return "NOT " + exists + "e.v IN (" + placeholders(len(texts)) + "))", texts, nil
	case query.StartsWith:
		return exists + "e.v LIKE ?)", []any{escapeLike(fmt.Sprint(q.Value())) + "%"}, nil
	case query.EndsWith:
		return exists + "e.v LIKE ?)", []any{"%" + escapeLike(fmt.Sprint(q.Value()))}, nil
	case query.LessThan:
		return exists + "e.v < ?)", texts[:1], nil
	case query.LessThanEqual:
		return exists + "e.v <= ?)", texts[:1], nil
	case query.GreaterThan:
		return exists + "e.v > ?)", texts[:1], nil
	case query.GreaterThanEqual:
		return exists + "e.v >= ?)", texts[:1], nil
	}
	return "", nil, fmt.Errorf("unsupported query method %q on list attribute", q.Method)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func direction(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}

func comparison(desc bool) string {
	if desc {
		return "<"
	}
	return ">"
}
