package query

import (
	"errors"
	"reflect"
	"testing"

	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/document"
)

func TestNew_NormalizesValues(t *testing.T) {
	q := EqualTo("year", 1965, int32(1922))
	if !reflect.DeepEqual(q.Values, []any{int64(1965), int64(1922)}) {
		t.Errorf("Values = %#v", q.Values)
	}
	if q.Value() != int64(1965) {
		t.Errorf("Value() = %#v", q.Value())
	}
	if (Query{Method: IsNull}).Value() != nil {
		t.Error("Value() of an empty query must be nil")
	}
}

func TestMethod_Kinds(t *testing.T) {
	if !Equal.IsFilter() || !Or.IsFilter() {
		t.Error("expected filter methods")
	}
	if Limit.IsFilter() || OrderAsc.IsFilter() {
		t.Error("limit and order are not filters")
	}
	if !CursorBefore.IsValid() || Method("near").IsValid() {
		t.Error("IsValid mismatch")
	}
}

func TestGroup(t *testing.T) {
	g := Group([]Query{
		EqualTo("title", "Dune"),
		Selection("title", "year"),
		Ascending("year"),
		Descending("price"),
		WithLimit(10),
		WithLimit(5),
		WithOffset(2),
		After("dune"),
		Null("deleted"),
	})

	if len(g.Filters) != 2 {
		t.Errorf("Filters = %v", g.Filters)
	}
	if !reflect.DeepEqual(g.Selections, []string{"title", "year"}) {
		t.Errorf("Selections = %v", g.Selections)
	}
	if !reflect.DeepEqual(g.OrderAttributes, []string{"year", "price"}) ||
		!reflect.DeepEqual(g.OrderTypes, []string{Asc, Desc}) {
		t.Errorf("order = %v %v", g.OrderAttributes, g.OrderTypes)
	}
	if !g.HasLimit || g.Limit != 5 {
		t.Errorf("limit = %d (set=%v), want last limit 5", g.Limit, g.HasLimit)
	}
	if g.Offset != 2 {
		t.Errorf("Offset = %d", g.Offset)
	}
	if g.Cursor != "dune" || g.CursorDirection != DirectionAfter {
		t.Errorf("cursor = %v %s", g.Cursor, g.CursorDirection)
	}

	g = Group([]Query{Before("emma")})
	if g.CursorDirection != DirectionBefore || g.HasLimit {
		t.Errorf("unexpected group %+v", g)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		q       Query
		wantErr bool
	}{
		{"equal", EqualTo("title", "Dune"), false},
		{"between", InRange("year", 1900, 2000), false},
		{"null", Null("deleted"), false},
		{"and", AllOf(EqualTo("a", 1), EqualTo("b", 2)), false},
		{"nested or", AnyOf(EqualTo("a", 1), AllOf(EqualTo("b", 2), EqualTo("c", 3))), false},
		{"limit", WithLimit(0), false},
		{"cursor", After("id"), false},
		{"select", Selection("a"), false},
		{"unknown method", Query{Method: "near", Attribute: "a"}, true},
		{"equal without value", New(Equal, "title"), true},
		{"equal without attribute", New(Equal, "", 1), true},
		{"between one value", New(Between, "year", 1), true},
		{"null without attribute", Null(""), true},
		{"single and", AllOf(EqualTo("a", 1)), true},
		{"and with order", AllOf(EqualTo("a", 1), Ascending("a")), true},
		{"and with invalid nested", AllOf(EqualTo("a", 1), New(Equal, "b")), true},
		{"negative limit", WithLimit(-1), true},
		{"string offset", New(Offset, "", "two"), true},
		{"empty select", Selection(), true},
		{"nil cursor", After(nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if tt.wantErr {
				if !errors.Is(err, domain.ErrQueryInvalid) {
					t.Errorf("expected ErrQueryInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestParse(t *testing.T) {
	q, err := Parse(`{"method":"and","values":[
		{"method":"greaterThan","attribute":"year","values":[1900]},
		{"method":"equal","attribute":"price","values":[9.5]}]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	nested := q.Queries()
	if q.Method != And || len(nested) != 2 {
		t.Fatalf("unexpected query %+v", q)
	}
	if nested[0].Value() != int64(1900) {
		t.Errorf("integer value = %#v, want int64", nested[0].Value())
	}
	if nested[1].Value() != 9.5 {
		t.Errorf("float value = %#v", nested[1].Value())
	}

	q, err = Parse(`{"method":"cursorAfter","values":[{"$id":"dune"}]}`)
	if err != nil {
		t.Fatalf("parse cursor: %v", err)
	}
	if doc, ok := q.Value().(document.Document); !ok || doc.ID() != "dune" {
		t.Errorf("cursor = %#v, want document", q.Value())
	}

	if _, err := Parse(`{"method":`); err == nil {
		t.Error("expected error for broken json")
	}
	if _, err := Parse(`{"method":"equal","attribute":"a"}`); !errors.Is(err, domain.ErrQueryInvalid) {
		t.Errorf("expected ErrQueryInvalid for missing values, got %v", err)
	}
}

func TestParseAll(t *testing.T) {
	qs, err := ParseAll([]string{
		`{"method":"limit","values":[5]}`,
		`{"method":"orderDesc","attribute":"year"}`,
	})
	if err != nil {
		t.Fatalf("parse all: %v", err)
	}
	if len(qs) != 2 || qs[1].Method != OrderDesc {
		t.Errorf("unexpected queries %+v", qs)
	}
	if _, err := ParseAll([]string{`{"method":"limit","values":[-1]}`}); err == nil {
		t.Error("expected error")
	}
}

func TestMarshalJSON_RoundTrip(t *testing.T) {
	orig := AnyOf(EqualTo("title", "Dune", "Emma"), InRange("year", 1800, 1900))
	data, err := orig.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Parse(string(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(got, orig) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", got, orig)
	}
}
