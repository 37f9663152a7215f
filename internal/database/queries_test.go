package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/query"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

// --- Helpers ---

func seedBooks(t *testing.T, d *Database) {
	t.Helper()
	createBooks(t, d)
	docs := []document.Document{
		{document.KeyID: "dune", "title": "Dune", "year": 1965, "price": 9.5,
			"tags": []string{"scifi", "classic"}, "published": "1965-08-01T00:00:00.000Z"},
		{document.KeyID: "emma", "title": "Emma", "year": 1815, "price": 5.0,
			"tags": []string{"classic"}, "published": "1815-12-23T00:00:00.000Z"},
		{document.KeyID: "ulysses", "title": "Ulysses", "year": 1922, "price": 12.0,
			"tags": []string{"modernist"}, "published": "1922-02-02T00:00:00.000Z"},
	}
	if _, err := d.CreateDocuments(context.Background(), "books", docs, 0); err != nil {
		t.Fatalf("seed books: %v", err)
	}
}

func ids(docs []document.Document) []string {
	out := make([]string, len(docs))
	for i, doc := range docs {
		out[i] = doc.ID()
	}
	return out
}

func sameIDs(got []document.Document, want ...string) bool {
	g := ids(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

// --- queries.go tests ---

func TestFind_Filters(t *testing.T) {
	d := newTestDatabase(t)
	seedBooks(t, d)
	ctx := context.Background()

	tests := []struct {
		name    string
		queries []query.Query
		want    []string
	}{
		{"equal", []query.Query{query.EqualTo("title", "Emma")}, []string{"emma"}},
		{"equal any of", []query.Query{query.EqualTo("title", "Emma", "Dune")}, []string{"dune", "emma"}},
		{"not equal", []query.Query{query.NotEqualTo("title", "Emma")}, []string{"dune", "ulysses"}},
		{"greater", []query.Query{query.Greater("year", 1900)}, []string{"dune", "ulysses"}},
		{"less equal", []query.Query{query.LessEqual("price", 9.5)}, []string{"dune", "emma"}},
		{"between", []query.Query{query.InRange("year", 1800, 1930)}, []string{"emma", "ulysses"}},
		{"array contains", []query.Query{query.ContainsAny("tags", "classic")}, []string{"dune", "emma"}},
		{"prefix", []query.Query{query.Prefix("title", "Ul")}, []string{"ulysses"}},
		{"suffix", []query.Query{query.Suffix("title", "ma")}, []string{"emma"}},
		{"datetime", []query.Query{query.Greater("published", "1900-01-01T00:00:00.000Z")}, []string{"dune", "ulysses"}},
		{"by id", []query.Query{query.EqualTo(document.KeyID, "dune")}, []string{"dune"}},
		{"and", []query.Query{query.AllOf(query.Greater("year", 1900), query.Less("price", 10))}, []string{"dune"}},
		{"or", []query.Query{query.AnyOf(query.EqualTo("title", "Emma"), query.Greater("price", 10))}, []string{"emma", "ulysses"}},
		{"not null", []query.Query{query.NotNull("published")}, []string{"dune", "emma", "ulysses"}},
		{"null", []query.Query{query.Null("published")}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := d.Find(ctx, "books", append(tt.queries, query.Ascending(document.KeyID)))
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if !sameIDs(docs, tt.want...) {
				t.Errorf("expected %v, got %v", tt.want, ids(docs))
			}
		})
	}
}

func TestFind_OrderLimitOffset(t *testing.T) {
	d := newTestDatabase(t)
	seedBooks(t, d)
	ctx := context.Background()

	docs, err := d.Find(ctx, "books", []query.Query{query.Descending("year")})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !sameIDs(docs, "dune", "ulysses", "emma") {
		t.Errorf("unexpected order %v", ids(docs))
	}

	docs, err = d.Find(ctx, "books", []query.Query{query.Ascending("year"), query.WithLimit(2), query.WithOffset(1)})
	if err != nil {
		t.Fatalf("find page: %v", err)
	}
	if !sameIDs(docs, "ulysses", "dune") {
		t.Errorf("unexpected page %v", ids(docs))
	}

	docs, err = d.Find(ctx, "books", []query.Query{query.WithLimit(0)})
	if err != nil {
		t.Fatalf("find limit 0: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("limit 0 must return nothing, got %v", ids(docs))
	}
}

func TestFind_Cursor(t *testing.T) {
	d := newTestDatabase(t)
	seedBooks(t, d)
	ctx := context.Background()

	docs, err := d.Find(ctx, "books", []query.Query{query.Ascending("year"), query.After("emma"), query.WithLimit(1)})
	if err != nil {
		t.Fatalf("find after: %v", err)
	}
	if !sameIDs(docs, "ulysses") {
		t.Errorf("expected [ulysses], got %v", ids(docs))
	}

	emma, err := d.GetDocument(ctx, "books", "emma")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	docs, err = d.Find(ctx, "books", []query.Query{query.Ascending("year"), query.After(emma)})
	if err != nil {
		t.Fatalf("find after document: %v", err)
	}
	if !sameIDs(docs, "ulysses", "dune") {
		t.Errorf("expected [ulysses dune], got %v", ids(docs))
	}

	if _, err := d.Find(ctx, "books", []query.Query{query.After("missing")}); !errors.Is(err, domain.ErrQueryInvalid) {
		t.Errorf("expected ErrQueryInvalid for an unknown cursor, got %v", err)
	}
}

func TestFind_DefaultLimit(t *testing.T) {
	d := newTestDatabase(t)
	createBooks(t, d)
	ctx := context.Background()

	docs := make([]document.Document, DefaultFindLimit+5)
	for i := range docs {
		docs[i] = document.Document{document.KeyID: fmt.Sprintf("b%02d", i), "title": "Untitled"}
	}
	if _, err := d.CreateDocuments(ctx, "books", docs, 10); err != nil {
		t.Fatalf("create documents: %v", err)
	}

	found, err := d.Find(ctx, "books", nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != DefaultFindLimit {
		t.Errorf("expected %d documents, got %d", DefaultFindLimit, len(found))
	}
}

func TestFind_Selection(t *testing.T) {
	d := newTestDatabase(t)
	seedBooks(t, d)

	docs, err := d.Find(context.Background(), "books", []query.Query{query.Selection("title"), query.EqualTo("title", "Dune")})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one document, got %d", len(docs))
	}
	if docs[0].Has("year") || docs[0].GetString("title") != "Dune" {
		t.Errorf("unexpected projection %v", docs[0])
	}
}

func TestFind_Invalid(t *testing.T) {
	d := newTestDatabase(t)
	seedBooks(t, d)
	ctx := context.Background()

	tests := []struct {
		name    string
		queries []query.Query
	}{
		{"unknown attribute", []query.Query{query.EqualTo("pages", 1)}},
		{"unknown order attribute", []query.Query{query.Ascending("pages")}},
		{"missing value", []query.Query{query.New(query.Equal, "title")}},
		{"negative limit", []query.Query{query.WithLimit(-1)}},
		{"single nested query", []query.Query{query.AllOf(query.EqualTo("title", "Dune"))}},
		{"search without fulltext index", []query.Query{query.FullText("title", "dune")}},
		{"bad datetime", []query.Query{query.Greater("published", "soon")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Find(ctx, "books", tt.queries); !errors.Is(err, domain.ErrQueryInvalid) {
				t.Errorf("expected ErrQueryInvalid, got %v", err)
			}
		})
	}
	if _, err := d.Find(ctx, "shelves", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFind_FullText(t *testing.T) {
	d := newTestDatabase(t)
	seedBooks(t, d)
	ctx := context.Background()
	if _, err := d.CreateIndex(ctx, "books", "ft_title", schema.IndexFulltext, []string{"title"}, nil, nil); err != nil {
		t.Fatalf("create index: %v", err)
	}

	docs, err := d.Find(ctx, "books", []query.Query{query.FullText("title", "ulysses")})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !sameIDs(docs, "ulysses") {
		t.Errorf("expected [ulysses], got %v", ids(docs))
	}
}

func TestFindOne(t *testing.T) {
	d := newTestDatabase(t)
	seedBooks(t, d)
	ctx := context.Background()

	doc, err := d.FindOne(ctx, "books", []query.Query{query.Descending("price")})
	if err != nil {
		t.Fatalf("find one: %v", err)
	}
	if doc.ID() != "ulysses" {
		t.Errorf("expected ulysses, got %q", doc.ID())
	}
	doc, err = d.FindOne(ctx, "books", []query.Query{query.EqualTo("title", "Middlemarch")})
	if err != nil {
		t.Fatalf("find one without match: %v", err)
	}
	if !doc.IsEmpty() {
		t.Errorf("expected empty document, got %v", doc)
	}
}

func TestCount(t *testing.T) {
	d := newTestDatabase(t)
	seedBooks(t, d)
	ctx := context.Background()

	tests := []struct {
		name    string
		queries []query.Query
		max     int
		want    int
	}{
		{"all", nil, 0, 3},
		{"filtered", []query.Query{query.ContainsAny("tags", "classic")}, 0, 2},
		{"capped", nil, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := d.Count(ctx, "books", tt.queries, tt.max)
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			if n != tt.want {
				t.Errorf("expected %d, got %d", tt.want, n)
			}
		})
	}
}

func TestSum(t *testing.T) {
	d := newTestDatabase(t)
	seedBooks(t, d)
	ctx := context.Background()

	sum, err := d.Sum(ctx, "books", "price", nil, 0)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if sum != 26.5 {
		t.Errorf("expected 26.5, got %v", sum)
	}
	sum, err = d.Sum(ctx, "books", "year", []query.Query{query.Greater("year", 1900)}, 0)
	if err != nil {
		t.Fatalf("sum filtered: %v", err)
	}
	if sum != 1965+1922 {
		t.Errorf("expected %d, got %v", 1965+1922, sum)
	}
	if _, err := d.Sum(ctx, "books", "title", nil, 0); !errors.Is(err, domain.ErrQueryInvalid) {
		t.Errorf("expected ErrQueryInvalid for a string attribute, got %v", err)
	}
	if _, err := d.Sum(ctx, "books", "pages", nil, 0); !errors.Is(err, domain.ErrQueryInvalid) {
		t.Errorf("expected ErrQueryInvalid for an unknown attribute, got %v", err)
	}
}
