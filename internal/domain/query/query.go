package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/document"
)

// Method is a query operator.
type Method string

// Filter methods.
const (
	Equal            Method = "equal"
	NotEqual         Method = "notEqual"
	LessThan         Method = "lessThan"
	LessThanEqual    Method = "lessThanEqual"
	GreaterThan      Method = "greaterThan"
	GreaterThanEqual Method = "greaterThanEqual"
	Contains         Method = "contains"
	Search           Method = "search"
	IsNull           Method = "isNull"
	IsNotNull        Method = "isNotNull"
	Between          Method = "between"
	StartsWith       Method = "startsWith"
	EndsWith         Method = "endsWith"
	And              Method = "and"
	Or               Method = "or"
)

// Non-filter methods.
const (
	Select       Method = "select"
	OrderAsc     Method = "orderAsc"
	OrderDesc    Method = "orderDesc"
	Limit        Method = "limit"
	Offset       Method = "offset"
	CursorAfter  Method = "cursorAfter"
	CursorBefore Method = "cursorBefore"
)

// Order directions.
const (
	Asc  = "ASC"
	Desc = "DESC"
)

// Cursor directions.
const (
	DirectionAfter  = "after"
	DirectionBefore = "before"
)

var filterMethods = []Method{
	Equal, NotEqual, LessThan, LessThanEqual, GreaterThan, GreaterThanEqual,
	Contains, Search, IsNull, IsNotNull, Between, StartsWith, EndsWith, And, Or,
}

// IsFilter reports whether m narrows the result set.
func (m Method) IsFilter() bool { return slices.Contains(filterMethods, m) }

// IsValid reports whether m is a known method.
func (m Method) IsValid() bool {
	if m.IsFilter() {
		return true
	}
	switch m {
	case Select, OrderAsc, OrderDesc, Limit, Offset, CursorAfter, CursorBefore:
		return true
	}
	return false
}

// Query is a typed operator with an attribute and values.
// For And/Or the nested queries live in Values as Query items.
type Query struct {
	Method    Method
	Attribute string
	Values    []any
}

// New creates a query with normalized values.
func New(method Method, attribute string, values ...any) Query {
	vs := make([]any, len(values))
	for i, v := range values {
		if q, ok := v.(Query); ok {
			vs[i] = q
			continue
		}
		vs[i] = document.Normalize(v)
	}
	return Query{Method: method, Attribute: attribute, Values: vs}
}

// Value returns the first value or nil.
func (q Query) Value() any {
	if len(q.Values) == 0 {
		return nil
	}
	return q.Values[0]
}

// Queries returns nested queries of an And/Or query.
func (q Query) Queries() []Query {
	out := make([]Query, 0, len(q.Values))
	for _, v := range q.Values {
		if nested, ok := v.(Query); ok {
			out = append(out, nested)
		}
	}
	return out
}

// EqualTo matches attribute values equal to any of values.
func EqualTo(attribute string, values ...any) Query { return New(Equal, attribute, values...) }

// NotEqualTo matches attribute values different from value.
func NotEqualTo(attribute string, value any) Query { return New(NotEqual, attribute, value) }

// Less matches attribute < value.
func Less(attribute string, value any) Query { return New(LessThan, attribute, value) }

// LessEqual matches attribute <= value.
func LessEqual(attribute string, value any) Query { return New(LessThanEqual, attribute, value) }

// Greater matches attribute > value.
func Greater(attribute string, value any) Query { return New(GreaterThan, attribute, value) }

// GreaterEqual matches attribute >= value.
func GreaterEqual(attribute string, value any) Query { return New(GreaterThanEqual, attribute, value) }

// ContainsAny matches arrays containing any value, or strings containing any substring.
func ContainsAny(attribute string, values ...any) Query { return New(Contains, attribute, values...) }

// FullText matches a fulltext-indexed attribute.
func FullText(attribute, value string) Query { return New(Search, attribute, value) }

// Null matches a null attribute.
func Null(attribute string) Query { return New(IsNull, attribute) }

// NotNull matches a non-null attribute.
func NotNull(attribute string) Query { return New(IsNotNull, attribute) }

// InRange matches start <= attribute <= end.
func InRange(attribute string, start, end any) Query { return New(Between, attribute, start, end) }

// Prefix matches strings starting with value.
func Prefix(attribute, value string) Query { return New(StartsWith, attribute, value) }

// Suffix matches strings ending with value.
func Suffix(attribute, value string) Query { return New(EndsWith, attribute, value) }

// AllOf matches when every nested query matches.
func AllOf(queries ...Query) Query { return newLogical(And, queries) }

// AnyOf matches when any nested query matches.
func AnyOf(queries ...Query) Query { return newLogical(Or, queries) }

func newLogical(m Method, queries []Query) Query {
	vs := make([]any, len(queries))
	for i, q := range queries {
		vs[i] = q
	}
	return Query{Method: m, Values: vs}
}

// Selection restricts the returned attributes.
func Selection(attributes ...string) Query {
	vs := make([]any, len(attributes))
	for i, a := range attributes {
		vs[i] = a
	}
	return Query{Method: Select, Values: vs}
}

// Ascending orders by attribute ascending.
func Ascending(attribute string) Query { return Query{Method: OrderAsc, Attribute: attribute} }

// Descending orders by attribute descending.
func Descending(attribute string) Query { return Query{Method: OrderDesc, Attribute: attribute} }

// WithLimit caps the number of results.
func WithLimit(n int) Query { return New(Limit, "", n) }

// WithOffset skips n results.
func WithOffset(n int) Query { return New(Offset, "", n) }

// After pages after the cursor document (or its id).
func After(cursor any) Query { return New(CursorAfter, "", cursor) }

// Before pages before the cursor document (or its id).
func Before(cursor any) Query { return New(CursorBefore, "", cursor) }

// Grouped is a query list split by purpose.
type Grouped struct {
	Filters         []Query
	Selections      []string
	Limit           int
	HasLimit        bool
	Offset          int
	OrderAttributes []string
	OrderTypes      []string
	Cursor          any
	CursorDirection string
}

// Group splits queries by type. The last limit, offset and cursor win.
func Group(queries []Query) Grouped {
	var g Grouped
	for _, q := range queries {
		switch q.Method {
		case OrderAsc, OrderDesc:
			dir := Asc
			if q.Method == OrderDesc {
				dir = Desc
			}
			g.OrderAttributes = append(g.OrderAttributes, q.Attribute)
			g.OrderTypes = append(g.OrderTypes, dir)
		case Limit:
			if n, ok := intValue(q.Value()); ok {
				g.Limit = n
				g.HasLimit = true
			}
		case Offset:
			if n, ok := intValue(q.Value()); ok {
				g.Offset = n
			}
		case CursorAfter, CursorBefore:
			g.Cursor = q.Value()
			g.CursorDirection = DirectionAfter
			if q.Method == CursorBefore {
				g.CursorDirection = DirectionBefore
			}
		case Select:
			for _, v := range q.Values {
				if s, ok := v.(string); ok {
					g.Selections = append(g.Selections, s)
				}
			}
		default:
			g.Filters = append(g.Filters, q)
		}
	}
	return g
}

// Validate checks the query shape: known method, attribute where required,
// value arity.
func (q Query) Validate() error {
	if !q.Method.IsValid() {
		return domain.QueryInvalid("unknown method %q", q.Method)
	}
	switch q.Method {
	case And, Or:
		nested := q.Queries()
		if len(nested) < 2 {
			return domain.QueryInvalid("%s requires at least two queries", q.Method)
		}
		for _, n := range nested {
			if !n.Method.IsFilter() {
				return domain.QueryInvalid("%s accepts only filter queries", q.Method)
			}
			if err := n.Validate(); err != nil {
				return err
			}
		}
	case IsNull, IsNotNull:
		if q.Attribute == "" {
			return domain.QueryInvalid("%s requires an attribute", q.Method)
		}
	case Between:
		if q.Attribute == "" || len(q.Values) != 2 {
			return domain.QueryInvalid("between requires an attribute and two values")
		}
	case Select:
		if len(q.Values) == 0 {
			return domain.QueryInvalid("select requires at least one attribute")
		}
	case OrderAsc, OrderDesc:
	case Limit, Offset:
		n, ok := intValue(q.Value())
		if !ok || n < 0 {
			return domain.QueryInvalid("%s requires a non-negative integer", q.Method)
		}
	case CursorAfter, CursorBefore:
		if q.Value() == nil {
			return domain.QueryInvalid("%s requires a cursor", q.Method)
		}
	default:
		if q.Attribute == "" {
			return domain.QueryInvalid("%s requires an attribute", q.Method)
		}
		if len(q.Values) == 0 {
			return domain.QueryInvalid("%s requires at least one value", q.Method)
		}
	}
	return nil
}

type wireQuery struct {
	Method    Method            `json:"method"`
	Attribute string            `json:"attribute,omitempty"`
	Values    []json.RawMessage `json:"values,omitempty"`
}

// MarshalJSON encodes the query as {"method","attribute","values"}.
func (q Query) MarshalJSON() ([]byte, error) {
	w := wireQuery{Method: q.Method, Attribute: q.Attribute}
	for _, v := range q.Values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal query value: %w", err)
		}
		w.Values = append(w.Values, raw)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form, recursing into and/or values.
func (q *Query) UnmarshalJSON(data []byte) error {
	var w wireQuery
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.QueryInvalid("%v", err)
	}
	parsed := Query{Method: w.Method, Attribute: w.Attribute}
	for _, raw := range w.Values {
		if w.Method == And || w.Method == Or {
			var nested Query
			if err := json.Unmarshal(raw, &nested); err != nil {
				return err
			}
			parsed.Values = append(parsed.Values, nested)
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return domain.QueryInvalid("value: %v", err)
		}
		parsed.Values = append(parsed.Values, fromJSON(v))
	}
	*q = parsed
	return nil
}

// Parse decodes and validates a JSON-encoded query.
func Parse(s string) (Query, error) {
	var q Query
	if err := json.Unmarshal([]byte(s), &q); err != nil {
		return Query{}, err
	}
	if err := q.Validate(); err != nil {
		return Query{}, err
	}
	return q, nil
}

// ParseAll decodes a list of JSON-encoded queries.
func ParseAll(items []string) ([]Query, error) {
	out := make([]Query, 0, len(items))
	for _, s := range items {
		q, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func fromJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = fromJSON(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = fromJSON(t[k])
		}
		return document.Document(t)
	}
	return v
}

func intValue(v any) (int, bool) {
	switch t := v.(type) {
	case int64:
		return int(t), true
	case int:
		return t, true
	case float64:
		if t == float64(int(t)) {
			return int(t), true
		}
	}
	return 0, false
}
