package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/docbase/internal/adapter"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/query"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

func newTestAdapter(t *testing.T, opts ...Option) *Adapter {
	t.Helper()
	a := New(append([]Option{WithNamespace("test"), WithDatabase("db")}, opts...)...)
	if err := a.Create(context.Background(), "db"); err != nil {
		t.Fatalf("create database: %v", err)
	}
	return a
}

func createBooks(t *testing.T, a *Adapter) {
	t.Helper()
	attrs := []schema.Attribute{
		{Key: "title", Type: schema.TypeString, Size: 128},
		{Key: "year", Type: schema.TypeInteger, Size: 4},
		{Key: "price", Type: schema.TypeFloat},
		{Key: "tags", Type: schema.TypeString, Size: 32, Array: true},
	}
	if err := a.CreateCollection(context.Background(), "books", attrs, nil); err != nil {
		t.Fatalf("create collection: %v", err)
	}
}

func book(id, title string, year int64, price float64, tags ...any) document.Document {
	return document.Document{
		document.KeyID:          id,
		document.KeyPermissions: []any{`read("any")`},
		"title":                 title,
		"year":                  year,
		"price":                 price,
		"tags":                  tags,
	}
}

func seedBooks(t *testing.T, a *Adapter) {
	t.Helper()
	docs := []document.Document{
		book("b1", "Dune", 1965, 9.5, "scifi"),
		book("b2", "Emma", 1815, 4.0, "classic", "romance"),
		book("b3", "Neuromancer", 1984, 7.25, "scifi", "cyberpunk"),
		book("b4", "Ulysses", 1922, 12.0, "classic"),
	}
	if _, err := a.CreateDocuments(context.Background(), "books", docs, 100); err != nil {
		t.Fatalf("create documents: %v", err)
	}
}

func ids(docs []document.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}

func equalIDs(got []document.Document, want ...string) bool {
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

// --- schema.go tests ---

func TestCreateCollection_Duplicate(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	err := a.CreateCollection(context.Background(), "books", nil, nil)
	if !errors.Is(err, adapter.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	ok, err := a.Exists(context.Background(), "db", "books")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
}

func TestDeleteCollection_NotFound(t *testing.T) {
	a := newTestAdapter(t)
	err := a.DeleteCollection(context.Background(), "missing")
	if !errors.Is(err, adapter.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAttribute_DropsCoveringIndexes(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	ctx := context.Background()
	idx := schema.Index{Key: "title_year", Type: schema.IndexKey, Attributes: []string{"title", "year"}}
	if err := a.CreateIndex(ctx, "books", idx, nil); err != nil {
		t.Fatalf("create index: %v", err)
	}
	if err := a.DeleteAttribute(ctx, "books", "year", false); err != nil {
		t.Fatalf("delete attribute: %v", err)
	}
	if err := a.DeleteIndex(ctx, "books", "title_year"); !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("expected index gone, got %v", err)
	}
}

func TestRenameAttribute_MovesData(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	seedBooks(t, a)
	ctx := context.Background()
	if err := a.RenameAttribute(ctx, "books", "title", "name"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	doc, err := a.GetDocument(ctx, "books", "b1", nil, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.GetString("name") != "Dune" || doc.Has("title") {
		t.Errorf("unexpected document %v", doc)
	}
}

func TestCreateIndex_UniqueRejectsExistingDuplicates(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	ctx := context.Background()
	_, _ = a.CreateDocument(ctx, "books", book("x1", "Same", 2000, 1))
	_, _ = a.CreateDocument(ctx, "books", book("x2", "Same", 2001, 1))
	idx := schema.Index{Key: "uq_title", Type: schema.IndexUnique, Attributes: []string{"title"}}
	if err := a.CreateIndex(ctx, "books", idx, nil); !errors.Is(err, adapter.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestRelationshipColumns(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	_ = a.CreateCollection(ctx, "authors", nil, nil)
	_ = a.CreateCollection(ctx, "posts", nil, nil)

	rel := adapter.Relationship{
		Collection: "authors", RelatedCollection: "posts",
		Type: schema.OneToMany, TwoWay: true, Key: "posts", TwoWayKey: "author",
	}
	if err := a.CreateRelationship(ctx, rel); err != nil {
		t.Fatalf("create relationship: %v", err)
	}
	if _, err := a.CreateDocument(ctx, "posts", document.Document{document.KeyID: "p1", "author": "a1"}); err != nil {
		t.Fatalf("write relationship column: %v", err)
	}
	if _, err := a.CreateDocument(ctx, "authors", document.Document{document.KeyID: "a1", "posts": "x"}); err == nil {
		t.Fatal("one-to-many parent must not have a column")
	}
	if err := a.UpdateRelationship(ctx, rel, "", "writer"); err != nil {
		t.Fatalf("update relationship: %v", err)
	}
	doc, _ := a.GetDocument(ctx, "posts", "p1", nil, false)
	if doc.GetString("writer") != "a1" {
		t.Errorf("expected renamed column, got %v", doc)
	}
	rel.TwoWayKey = "writer"
	if err := a.DeleteRelationship(ctx, rel); err != nil {
		t.Fatalf("delete relationship: %v", err)
	}
}

// --- documents.go tests ---

func TestCreateDocument_AssignsInternalID(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	ctx := context.Background()
	d1, err := a.CreateDocument(ctx, "books", book("b1", "Dune", 1965, 9.5))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d2, _ := a.CreateDocument(ctx, "books", book("b2", "Emma", 1815, 4))
	if d1.InternalID() != "1" || d2.InternalID() != "2" {
		t.Errorf("internal ids = %q, %q", d1.InternalID(), d2.InternalID())
	}
}

func TestCreateDocument_Duplicate(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	ctx := context.Background()
	_, _ = a.CreateDocument(ctx, "books", book("b1", "Dune", 1965, 9.5))
	_, err := a.CreateDocument(ctx, "books", book("b1", "Other", 1, 1))
	if !errors.Is(err, adapter.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestCreateDocuments_AllOrNothing(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	ctx := context.Background()
	docs := []document.Document{book("b1", "Dune", 1965, 9.5), book("b1", "Dup", 1, 1)}
	if _, err := a.CreateDocuments(ctx, "books", docs, 100); !errors.Is(err, adapter.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	n, _ := a.Count(ctx, "books", adapter.CountRequest{})
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestCreateDocument_UniqueIndex(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	ctx := context.Background()
	idx := schema.Index{Key: "uq_title", Type: schema.IndexUnique, Attributes: []string{"title"}}
	_ = a.CreateIndex(ctx, "books", idx, nil)
	_, _ = a.CreateDocument(ctx, "books", book("b1", "Dune", 1965, 9.5))
	if _, err := a.CreateDocument(ctx, "books", book("b2", "Dune", 1966, 1)); !errors.Is(err, adapter.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	n, _ := a.Count(ctx, "books", adapter.CountRequest{})
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestGetDocument_Missing(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	doc, err := a.GetDocument(context.Background(), "books", "nope", nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !doc.IsEmpty() {
		t.Errorf("expected empty document, got %v", doc)
	}
}

func TestUpdateDocument_ChangesID(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	seedBooks(t, a)
	ctx := context.Background()
	upd := document.Document{document.KeyID: "b9", "title": "Dune Messiah"}
	out, err := a.UpdateDocument(ctx, "books", "b1", upd)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if out.ID() != "b9" || out.GetString("title") != "Dune Messiah" {
		t.Errorf("unexpected %v", out)
	}
	old, _ := a.GetDocument(ctx, "books", "b1", nil, false)
	if !old.IsEmpty() {
		t.Error("old id must be gone")
	}
	if _, err := a.UpdateDocument(ctx, "books", "b9", document.Document{document.KeyID: "b2"}); !errors.Is(err, adapter.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestDeleteDocument(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	seedBooks(t, a)
	ctx := context.Background()
	ok, err := a.DeleteDocument(ctx, "books", "b1")
	if err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	ok, _ = a.DeleteDocument(ctx, "books", "b1")
	if ok {
		t.Error("second delete must report false")
	}
}

func TestIncreaseDocumentAttribute(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	seedBooks(t, a)
	ctx := context.Background()

	if err := a.IncreaseDocumentAttribute(ctx, adapter.Increase{
		Collection: "books", ID: "b1", Attribute: "year", Value: 10,
	}); err != nil {
		t.Fatalf("increase: %v", err)
	}
	doc, _ := a.GetDocument(ctx, "books", "b1", nil, false)
	if v, _ := doc.Get("year").(int64); v != 1975 {
		t.Errorf("year = %v, want 1975", doc.Get("year"))
	}

	lim := 1970.0
	err := a.IncreaseDocumentAttribute(ctx, adapter.Increase{
		Collection: "books", ID: "b1", Attribute: "year", Value: 1, Max: &lim,
	})
	if !errors.Is(err, adapter.ErrConditionFail) {
		t.Errorf("expected ErrConditionFail, got %v", err)
	}
}

// --- query.go tests ---

func TestFind_Filters(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	seedBooks(t, a)

	tests := []struct {
		name    string
		filters []query.Query
		want    []string
	}{
		{"equal", []query.Query{query.EqualTo("title", "Dune", "Emma")}, []string{"b1", "b2"}},
		{"not equal", []query.Query{query.NotEqualTo("title", "Dune")}, []string{"b2", "b3", "b4"}},
		{"greater", []query.Query{query.Greater("year", int64(1950))}, []string{"b1", "b3"}},
		{"between", []query.Query{query.InRange("price", 5, 10)}, []string{"b1", "b3"}},
		{"array contains", []query.Query{query.ContainsAny("tags", "classic")}, []string{"b2", "b4"}},
		{"array equal", []query.Query{query.EqualTo("tags", "cyberpunk")}, []string{"b3"}},
		{"starts with", []query.Query{query.Prefix("title", "Ne")}, []string{"b3"}},
		{"ends with", []query.Query{query.Suffix("title", "ma")}, []string{"b2"}},
		{"search", []query.Query{query.FullText("title", "dune")}, []string{"b1"}},
		{"or", []query.Query{query.AnyOf(query.EqualTo("year", 1965), query.EqualTo("year", 1922))}, []string{"b1", "b4"}},
		{"and", []query.Query{query.AllOf(query.ContainsAny("tags", "scifi"), query.Less("price", 8))}, []string{"b3"}},
		{"id", []query.Query{query.EqualTo(document.KeyID, "b2")}, []string{"b2"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := a.Find(context.Background(), "books", adapter.FindRequest{Filters: tc.filters})
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if !equalIDs(got, tc.want...) {
				t.Errorf("got %v, want %v", ids(got), tc.want)
			}
		})
	}
}

func TestFind_NullFilters(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	ctx := context.Background()
	_, _ = a.CreateDocument(ctx, "books", document.Document{document.KeyID: "n1", "title": "x"})
	_, _ = a.CreateDocument(ctx, "books", book("n2", "y", 2000, 1))

	got, _ := a.Find(ctx, "books", adapter.FindRequest{Filters: []query.Query{query.Null("year")}})
	if !equalIDs(got, "n1") {
		t.Errorf("isNull = %v", ids(got))
	}
	got, _ = a.Find(ctx, "books", adapter.FindRequest{Filters: []query.Query{query.NotNull("year")}})
	if !equalIDs(got, "n2") {
		t.Errorf("isNotNull = %v", ids(got))
	}
}

func TestFind_OrderAndPaging(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	seedBooks(t, a)
	ctx := context.Background()

	got, _ := a.Find(ctx, "books", adapter.FindRequest{
		OrderAttributes: []string{"year"}, OrderTypes: []string{query.Desc}, Limit: 2, Offset: 1,
	})
	if !equalIDs(got, "b1", "b4") {
		t.Errorf("got %v, want [b1 b4]", ids(got))
	}
}

func TestFind_Cursor(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	seedBooks(t, a)
	ctx := context.Background()
	order := adapter.FindRequest{OrderAttributes: []string{"year"}, OrderTypes: []string{query.Asc}}

	all, _ := a.Find(ctx, "books", order)
	if !equalIDs(all, "b2", "b4", "b1", "b3") {
		t.Fatalf("ordered = %v", ids(all))
	}

	after := order
	after.Cursor = all[1]
	after.CursorDirection = query.DirectionAfter
	after.Limit = 1
	got, _ := a.Find(ctx, "books", after)
	if !equalIDs(got, "b1") {
		t.Errorf("after = %v, want [b1]", ids(got))
	}

	before := order
	before.Cursor = all[3]
	before.CursorDirection = query.DirectionBefore
	before.Limit = 2
	got, _ = a.Find(ctx, "books", before)
	if !equalIDs(got, "b4", "b1") {
		t.Errorf("before = %v, want [b4 b1]", ids(got))
	}
}

func TestFind_Selections(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	seedBooks(t, a)
	got, _ := a.Find(context.Background(), "books", adapter.FindRequest{Selections: []string{"title"}, Limit: 1})
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	if !got[0].Has("title") || got[0].Has("year") || got[0].ID() == "" {
		t.Errorf("unexpected projection %v", got[0])
	}
}

func TestFind_Roles(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	ctx := context.Background()
	_, _ = a.CreateDocument(ctx, "books", book("pub", "Public", 1, 1))
	_, _ = a.CreateDocument(ctx, "books", document.Document{
		document.KeyID: "priv", document.KeyPermissions: []any{`read("user:alice")`}, "title": "Private",
	})

	got, _ := a.Find(ctx, "books", adapter.FindRequest{Roles: []string{"any"}})
	if !equalIDs(got, "pub") {
		t.Errorf("anonymous = %v", ids(got))
	}
	got, _ = a.Find(ctx, "books", adapter.FindRequest{Roles: []string{"any", "user:alice"}})
	if len(got) != 2 {
		t.Errorf("alice = %v", ids(got))
	}
	n, _ := a.Count(ctx, "books", adapter.CountRequest{Roles: []string{"any"}})
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestCountAndSum(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	seedBooks(t, a)
	ctx := context.Background()

	n, _ := a.Count(ctx, "books", adapter.CountRequest{Max: 3})
	if n != 3 {
		t.Errorf("capped count = %d, want 3", n)
	}
	sum, _ := a.Sum(ctx, "books", "price", adapter.CountRequest{
		Filters: []query.Query{query.ContainsAny("tags", "classic")},
	})
	if sum != 16 {
		t.Errorf("sum = %v, want 16", sum)
	}
}

// --- tenancy ---

func TestSharedTables_TenantIsolation(t *testing.T) {
	a := newTestAdapter(t, WithSharedTables(true))
	createBooks(t, a)
	ctx := context.Background()

	a.Scope().SetTenant(1)
	if _, err := a.CreateDocument(ctx, "books", book("b1", "One", 1, 1)); err != nil {
		t.Fatalf("tenant 1 create: %v", err)
	}
	a.Scope().SetTenant(2)
	if _, err := a.CreateDocument(ctx, "books", book("b1", "Two", 2, 2)); err != nil {
		t.Fatalf("tenant 2 create with same id: %v", err)
	}
	doc, _ := a.GetDocument(ctx, "books", "b1", nil, false)
	if doc.GetString("title") != "Two" {
		t.Errorf("tenant 2 sees %v", doc)
	}
	if tn, ok := doc.Tenant(); !ok || tn != 2 {
		t.Errorf("tenant = %d, %v", tn, ok)
	}
	n, _ := a.Count(ctx, "books", adapter.CountRequest{})
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

// --- transactions ---

func TestTransaction_RollbackRestores(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	ctx := context.Background()

	err := adapter.WithTransaction(ctx, a, func(ctx context.Context) error {
		if _, err := a.CreateDocument(ctx, "books", book("b1", "Dune", 1965, 9.5)); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	doc, _ := a.GetDocument(ctx, "books", "b1", nil, false)
	if !doc.IsEmpty() {
		t.Error("rollback must discard the write")
	}
}

func TestTransaction_NestedRollbackOnly(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	ctx := context.Background()

	err := adapter.WithTransaction(ctx, a, func(ctx context.Context) error {
		_, _ = a.CreateDocument(ctx, "books", book("b1", "Dune", 1965, 9.5))
		_ = adapter.WithTransaction(ctx, a, func(context.Context) error { return errors.New("inner") })
		return nil
	})
	if !errors.Is(err, adapter.ErrRollbackOnly) {
		t.Fatalf("expected ErrRollbackOnly, got %v", err)
	}
	n, _ := a.Count(ctx, "books", adapter.CountRequest{})
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestTransaction_SerializesOutsideWrites(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	ctx := context.Background()

	txCtx, err := a.StartTransaction(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	done := make(chan struct{})
	go func() {
		defer wg.Done()
		_, _ = a.CreateDocument(ctx, "books", book("outside", "x", 1, 1))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("outside write must wait for the transaction")
	case <-time.After(50 * time.Millisecond):
	}
	if _, err := a.CreateDocument(txCtx, "books", book("inside", "y", 1, 1)); err != nil {
		t.Fatalf("inside write: %v", err)
	}
	if err := a.RollbackTransaction(txCtx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	wg.Wait()

	got, _ := a.Find(ctx, "books", adapter.FindRequest{})
	if !equalIDs(got, "outside") {
		t.Errorf("got %v, want [outside]", ids(got))
	}
}

// --- hooks and timeouts ---

func TestHooksSeeStatements(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	var seen []string
	a.Hooks().Before(adapter.OpFind, "spy", func(s string) string {
		seen = append(seen, s)
		return s
	})
	a.SetMetadata("request", "r1")
	_, _ = a.Find(context.Background(), "books", adapter.FindRequest{})
	if len(seen) != 1 || seen[0] != "SELECT FROM test_books" {
		t.Errorf("seen = %q", seen)
	}
}

func TestCanceledContextTimesOut(t *testing.T) {
	a := newTestAdapter(t)
	createBooks(t, a)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Find(ctx, "books", adapter.FindRequest{})
	if !errors.Is(err, adapter.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
