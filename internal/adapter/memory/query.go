package memory

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/query"
)

// Find returns matching rows ordered, paginated and projected.
func (a *Adapter) Find(ctx context.Context, collection string, req adapter.FindRequest) ([]document.Document, error) {
	done, err := a.begin(ctx, adapter.OpFind, "SELECT FROM "+a.tableName(collection))
	if err != nil {
		return nil, err
	}
	defer done()

	a.mu.RLock()
	defer a.mu.RUnlock()
	t, err := a.table(adapter.OpFind, collection)
	if err != nil {
		return nil, err
	}

	rows, err := a.filter(t, req.Filters, req.Roles)
	if err != nil {
		return nil, err
	}

	orders := make([]order, 0, len(req.OrderAttributes))
	for i, attr := range req.OrderAttributes {
		desc := i < len(req.OrderTypes) && req.OrderTypes[i] == query.Desc
		orders = append(orders, order{attr: attr, desc: desc})
	}
	before := req.CursorDirection == query.DirectionBefore
	if before {
		for i := range orders {
			orders[i].desc = !orders[i].desc
		}
	}
	tieDesc := before

	slices.SortStableFunc(rows, func(x, y *row) int {
		for _, o := range orders {
			c := compareNullable(x.value(o.attr), y.value(o.attr))
			if o.desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		c := compareInt(x.internalID, y.internalID)
		if tieDesc {
			c = -c
		}
		return c
	})

	if !req.Cursor.IsEmpty() {
		rows = afterCursor(rows, req.Cursor, orders, tieDesc)
	}

	if req.Offset > 0 {
		if req.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[req.Offset:]
		}
	}
	if req.Limit > 0 && len(rows) > req.Limit {
		rows = rows[:req.Limit]
	}
	if before {
		slices.Reverse(rows)
	}

	out := make([]document.Document, len(rows))
	for i, r := range rows {
		out[i] = r.toDocument(req.Selections)
	}
	return out, nil
}

// Count returns the number of matching rows, capped by Max.
func (a *Adapter) Count(ctx context.Context, collection string, req adapter.CountRequest) (int, error) {
	done, err := a.begin(ctx, adapter.OpCount, "SELECT COUNT FROM "+a.tableName(collection))
	if err != nil {
		return 0, err
	}
	defer done()

	a.mu.RLock()
	defer a.mu.RUnlock()
	t, err := a.table(adapter.OpCount, collection)
	if err != nil {
		return 0, err
	}
	rows, err := a.filter(t, req.Filters, req.Roles)
	if err != nil {
		return 0, err
	}
	if req.Max > 0 && len(rows) > req.Max {
		return req.Max, nil
	}
	return len(rows), nil
}

// Sum adds the numeric values of attribute over matching rows, scanning
// at most Max rows.
func (a *Adapter) Sum(ctx context.Context, collection, attribute string, req adapter.CountRequest) (float64, error) {
	done, err := a.begin(ctx, adapter.OpSum, "SELECT SUM FROM "+a.tableName(collection))
	if err != nil {
		return 0, err
	}
	defer done()

	a.mu.RLock()
	defer a.mu.RUnlock()
	t, err := a.table(adapter.OpSum, collection)
	if err != nil {
		return 0, err
	}
	rows, err := a.filter(t, req.Filters, req.Roles)
	if err != nil {
		return 0, err
	}
	if req.Max > 0 && len(rows) > req.Max {
		rows = rows[:req.Max]
	}
	var sum float64
	for _, r := range rows {
		if f, ok := toFloat(r.value(attribute)); ok {
			sum += f
		}
	}
	return sum, nil
}

type order struct {
	attr string
	desc bool
}

func (a *Adapter) filter(t *table, filters []query.Query, roles []string) ([]*row, error) {
	tenant := a.tenant()
	out := make([]*row, 0, len(t.rows))
	for _, r := range t.rows {
		if !sameTenant(r.tenant, tenant) || !readable(r, roles) {
			continue
		}
		ok, err := matchAll(r, filters)
		if err != nil {
			return nil, &adapter.Error{Op: adapter.OpFind, Err: err}
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func afterCursor(rows []*row, cursor document.Document, orders []order, tieDesc bool) []*row {
	cursorID, _ := cursorInternalID(cursor)
	out := rows[:0:0]
	for _, r := range rows {
		if len(orders) == 0 {
			c := compareInt(r.internalID, cursorID)
			if (tieDesc && c < 0) || (!tieDesc && c > 0) {
				out = append(out, r)
			}
			continue
		}
		o := orders[0]
		c := compareNullable(r.value(o.attr), cursorValue(cursor, o.attr))
		if o.desc {
			c = -c
		}
		if c > 0 {
			out = append(out, r)
			continue
		}
		if c == 0 {
			t := compareInt(r.internalID, cursorID)
			if (tieDesc && t < 0) || (!tieDesc && t > 0) {
				out = append(out, r)
			}
		}
	}
	return out
}

func cursorValue(cursor document.Document, attr string) any {
	switch attr {
	case "_uid":
		return cursor.ID()
	case "_createdAt":
		return cursor.CreatedAt()
	case "_updatedAt":
		return cursor.UpdatedAt()
	case document.KeyInternalID, "_id":
		id, _ := cursorInternalID(cursor)
		return id
	}
	return cursor.Get(attr)
}

func cursorInternalID(cursor document.Document) (int64, bool) {
	id, err := strconv.ParseInt(cursor.InternalID(), 10, 64)
	return id, err == nil
}

func matchAll(r *row, filters []query.Query) (bool, error) {
	for _, q := range filters {
		ok, err := match(r, q)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(r *row, q query.Query) (bool, error) {
	switch q.Method {
	case query.And:
		return matchAll(r, q.Queries())
	case query.Or:
		for _, nested := range q.Queries() {
			ok, err := match(r, nested)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	v := r.value(q.Attribute)
	switch q.Method {
	case query.IsNull:
		return v == nil, nil
	case query.IsNotNull:
		return v != nil, nil
	}
	if v == nil {
		return q.Method == query.NotEqual, nil
	}

	if list, ok := v.([]any); ok {
		for _, item := range list {
			ok, err := matchScalar(item, q)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
	return matchScalar(v, q)
}

func matchScalar(v any, q query.Query) (bool, error) {
	switch q.Method {
	case query.Equal:
		return slices.ContainsFunc(q.Values, func(w any) bool { return valuesEqual(v, w) }), nil
	case query.NotEqual:
		return !slices.ContainsFunc(q.Values, func(w any) bool { return valuesEqual(v, w) }), nil
	case query.LessThan:
		c, ok := compare(v, q.Value())
		return ok && c < 0, nil
	case query.LessThanEqual:
		c, ok := compare(v, q.Value())
		return ok && c <= 0, nil
	case query.GreaterThan:
		c, ok := compare(v, q.Value())
		return ok && c > 0, nil
	case query.GreaterThanEqual:
		c, ok := compare(v, q.Value())
		return ok && c >= 0, nil
	case query.Between:
		lo, okLo := compare(v, q.Values[0])
		hi, okHi := compare(v, q.Values[1])
		return okLo && okHi && lo >= 0 && hi <= 0, nil
	case query.Contains:
		s, isString := v.(string)
		for _, w := range q.Values {
			if isString {
				if ws, ok := w.(string); ok && strings.Contains(s, ws) {
					return true, nil
				}
				continue
			}
			if valuesEqual(v, w) {
				return true, nil
			}
		}
		return false, nil
	case query.StartsWith:
		s, _ := v.(string)
		p, _ := q.Value().(string)
		return strings.HasPrefix(s, p), nil
	case query.EndsWith:
		s, _ := v.(string)
		p, _ := q.Value().(string)
		return strings.HasSuffix(s, p), nil
	case query.Search:
		s, _ := v.(string)
		term, _ := q.Value().(string)
		return fulltext(s, term), nil
	}
	return false, fmt.Errorf("unsupported query method %q", q.Method)
}

func fulltext(value, term string) bool {
	words := strings.Fields(strings.ToLower(value))
	for _, t := range strings.Fields(strings.ToLower(term)) {
		t = strings.Trim(t, `"+-*`)
		if slices.Contains(words, t) {
			return true
		}
	}
	return false
}

func valuesEqual(a, b any) bool {
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			ia, aInt := a.(int64)
			ib, bInt := b.(int64)
			if aInt && bInt {
				return compareInt(ia, ib), true
			}
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}

func compareNullable(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	c, _ := compare(a, b)
	return c
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
