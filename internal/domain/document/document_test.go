package document

import (
	"reflect"
	"strings"
	"testing"

	"github.com/kailas-cloud/docbase/internal/domain/permission"
)

func TestNew_Normalizes(t *testing.T) {
	doc := New(map[string]any{
		"count":  3,
		"ratio":  float32(0.5),
		"tags":   []string{"a", "b"},
		"nested": map[string]any{"n": int32(1)},
		"raw":    []byte("bytes"),
	})

	if _, ok := doc["count"].(int64); !ok {
		t.Errorf("count = %T, want int64", doc["count"])
	}
	if _, ok := doc["ratio"].(float64); !ok {
		t.Errorf("ratio = %T, want float64", doc["ratio"])
	}
	if !reflect.DeepEqual(doc["tags"], []any{"a", "b"}) {
		t.Errorf("tags = %#v", doc["tags"])
	}
	nested, ok := AsDocument(doc["nested"])
	if !ok {
		t.Fatalf("nested = %T, want Document", doc["nested"])
	}
	if n, _ := nested.GetInt("n"); n != 1 {
		t.Errorf("nested.n = %v", nested["n"])
	}
	if doc.GetString("raw") != "bytes" {
		t.Errorf("raw = %v", doc["raw"])
	}
}

func TestUniqueID(t *testing.T) {
	a, b := UniqueID(), UniqueID()
	if a == b {
		t.Fatal("expected distinct ids")
	}
	if len(a) != 32 || strings.Contains(a, "-") {
		t.Errorf("unexpected id format %q", a)
	}
}

func TestAccessors(t *testing.T) {
	doc := Document{
		KeyID:          "doc-1",
		KeyInternalID:  int64(42),
		KeyCollection:  "books",
		KeyTenant:      int64(7),
		KeyCreatedAt:   "2024-01-01T00:00:00.000+00:00",
		KeyPermissions: []any{`read("any")`, `write("user:1")`},
		"title":        "Dune",
		"draft":        true,
	}

	if doc.ID() != "doc-1" {
		t.Errorf("ID() = %q", doc.ID())
	}
	if doc.InternalID() != "42" {
		t.Errorf("InternalID() = %q", doc.InternalID())
	}
	if doc.Collection() != "books" {
		t.Errorf("Collection() = %q", doc.Collection())
	}
	if tenant, ok := doc.Tenant(); !ok || tenant != 7 {
		t.Errorf("Tenant() = %d, %v", tenant, ok)
	}
	if doc.CreatedAt() == "" || doc.UpdatedAt() != "" {
		t.Errorf("timestamps = %q, %q", doc.CreatedAt(), doc.UpdatedAt())
	}
	if !doc.GetBool("draft") || doc.GetBool("title") {
		t.Error("GetBool mismatch")
	}
	if got := doc.Permissions(); len(got) != 2 {
		t.Errorf("Permissions() = %v", got)
	}
	if got := doc.PermissionsFor(permission.ActionUpdate); !reflect.DeepEqual(got, []string{"user:1"}) {
		t.Errorf("PermissionsFor(update) = %v", got)
	}
	if got := doc.PermissionsFor(permission.ActionRead); !reflect.DeepEqual(got, []string{"any"}) {
		t.Errorf("PermissionsFor(read) = %v", got)
	}
}

func TestAttributes_SkipsInternal(t *testing.T) {
	doc := Document{KeyID: "x", KeyCreatedAt: "now", "title": "Dune"}
	attrs := doc.Attributes()
	if len(attrs) != 1 || attrs["title"] != "Dune" {
		t.Errorf("Attributes() = %v", attrs)
	}
}

func TestMutators(t *testing.T) {
	doc := Document{}
	doc.Set("n", 5).Append("list", "a").Append("list", 2)
	if _, ok := doc["n"].(int64); !ok {
		t.Errorf("Set must normalize, got %T", doc["n"])
	}
	if !reflect.DeepEqual(doc["list"], []any{"a", int64(2)}) {
		t.Errorf("list = %#v", doc["list"])
	}
	doc.Remove("n")
	if doc.Has("n") {
		t.Error("expected n removed")
	}
	if !reflect.DeepEqual(doc.Keys(), []string{"list"}) {
		t.Errorf("Keys() = %v", doc.Keys())
	}
}

func TestClone_Deep(t *testing.T) {
	orig := Document{
		"nested": Document{"a": int64(1)},
		"list":   []any{Document{"b": int64(2)}},
		"tags":   []string{"x"},
	}
	c := orig.Clone()
	c["nested"].(Document)["a"] = int64(9)
	c["list"].([]any)[0].(Document)["b"] = int64(9)
	c["tags"].([]string)[0] = "y"

	if n, _ := orig["nested"].(Document).GetInt("a"); n != 1 {
		t.Error("nested document shared with clone")
	}
	if n, _ := orig["list"].([]any)[0].(Document).GetInt("b"); n != 2 {
		t.Error("list element shared with clone")
	}
	if orig["tags"].([]string)[0] != "x" {
		t.Error("string slice shared with clone")
	}
	if Document(nil).Clone() != nil {
		t.Error("nil clone must stay nil")
	}
}

func TestFind(t *testing.T) {
	doc := Document{"attributes": []any{
		Document{"key": "title", "size": int64(128)},
		map[string]any{"key": "year"},
	}}
	found, ok := doc.Find("key", "year", "attributes")
	if !ok || found["key"] != "year" {
		t.Errorf("Find(year) = %v, %v", found, ok)
	}
	if _, ok := doc.Find("key", "missing", "attributes"); ok {
		t.Error("expected no match")
	}
}

func TestStrings(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  []string
	}{
		{"string slice", []string{"a"}, []string{"a"}},
		{"any slice skips non-strings", []any{"a", 1, "b"}, []string{"a", "b"}},
		{"scalar", "a", nil},
		{"missing", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := Document{"v": tt.value}
			if got := doc.Strings("v"); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Strings() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestGetInt(t *testing.T) {
	tests := []struct {
		value  any
		want   int64
		wantOK bool
	}{
		{int64(3), 3, true},
		{4, 4, true},
		{float64(5), 5, true},
		{5.5, 0, false},
		{"6", 0, false},
	}
	for _, tt := range tests {
		got, ok := Document{"v": tt.value}.GetInt("v")
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("GetInt(%#v) = %d, %v; want %d, %v", tt.value, got, ok, tt.want, tt.wantOK)
		}
	}
}
