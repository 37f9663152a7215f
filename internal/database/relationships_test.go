package database

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/docbase/internal/adapter/memory"
	"github.com/kailas-cloud/docbase/internal/domain"
	"github.com/kailas-cloud/docbase/internal/domain/document"
	"github.com/kailas-cloud/docbase/internal/domain/query"
	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

// --- Mocks ---

// failingMetadata fails metadata writes for one collection.
type failingMetadata struct {
	*memory.Adapter
	collection string
}

func (f *failingMetadata) UpdateDocument(
	ctx context.Context, collection, id string, doc document.Document,
) (document.Document, error) {
	if collection == schema.MetadataCollection && id == f.collection {
		return nil, errors.New("disk full")
	}
	return f.Adapter.UpdateDocument(ctx, collection, id, doc)
}

// --- Helpers ---

func createAuthorsAndPosts(t *testing.T, d *Database, onDelete schema.OnDelete) {
	t.Helper()
	ctx := context.Background()
	if _, err := d.CreateCollection(ctx, "authors",
		[]schema.Attribute{{Key: "name", Type: schema.TypeString, Size: 64, Required: true}},
		nil, openPermissions, false); err != nil {
		t.Fatalf("create authors: %v", err)
	}
	if _, err := d.CreateCollection(ctx, "posts",
		[]schema.Attribute{{Key: "title", Type: schema.TypeString, Size: 64, Required: true}},
		nil, openPermissions, false); err != nil {
		t.Fatalf("create posts: %v", err)
	}
	if _, err := d.CreateRelationship(ctx, Relationship{
		Collection:        "posts",
		RelatedCollection: "authors",
		Type:              schema.ManyToOne,
		TwoWay:            true,
		Key:               "author",
		TwoWayKey:         "posts",
		OnDelete:          onDelete,
	}); err != nil {
		t.Fatalf("create relationship: %v", err)
	}
}

func seedAuthorWithPost(t *testing.T, d *Database) {
	t.Helper()
	ctx := context.Background()
	if _, err := d.CreateDocument(ctx, "authors", document.Document{document.KeyID: "a1", "name": "Ann"}); err != nil {
		t.Fatalf("create author: %v", err)
	}
	if _, err := d.CreateDocument(ctx, "posts", document.Document{document.KeyID: "p1", "title": "Hello", "author": "a1"}); err != nil {
		t.Fatalf("create post: %v", err)
	}
}

// --- relationships.go tests ---

func TestCreateRelationship_Schema(t *testing.T) {
	d := newTestDatabase(t)
	createAuthorsAndPosts(t, d, schema.OnDeleteRestrict)
	ctx := context.Background()

	posts, err := d.GetCollection(ctx, "posts")
	if err != nil {
		t.Fatalf("get posts: %v", err)
	}
	author, ok := posts.Attribute("author")
	if !ok || !author.IsRelationship() {
		t.Fatalf("expected author relationship, got %+v", author)
	}
	if author.Options.Side != schema.SideParent || author.Options.RelatedCollection != "authors" {
		t.Errorf("unexpected parent options: %+v", author.Options)
	}
	if _, ok := posts.Index(schema.RelationshipIndexKey("author")); !ok {
		t.Error("expected an index on the key column")
	}

	authors, err := d.GetCollection(ctx, "authors")
	if err != nil {
		t.Fatalf("get authors: %v", err)
	}
	mirrored, ok := authors.Attribute("posts")
	if !ok || mirrored.Options.Side != schema.SideChild || mirrored.Options.TwoWayKey != "author" {
		t.Errorf("unexpected mirror: %+v", mirrored)
	}
}

func TestCreateRelationship_Invalid(t *testing.T) {
	d := newTestDatabase(t)
	createAuthorsAndPosts(t, d, schema.OnDeleteRestrict)
	ctx := context.Background()

	tests := []struct {
		name string
		rel  Relationship
		want error
	}{
		{"unknown type", Relationship{Collection: "posts", RelatedCollection: "authors", Type: "oneToFew", Key: "editor", TwoWayKey: "edited"}, domain.ErrRelationshipInvalid},
		{"unknown policy", Relationship{Collection: "posts", RelatedCollection: "authors", Type: schema.OneToOne, Key: "editor", TwoWayKey: "edited", OnDelete: "archive"}, domain.ErrRelationshipInvalid},
		{"existing key", Relationship{Collection: "posts", RelatedCollection: "authors", Type: schema.OneToOne, Key: "Title", TwoWayKey: "edited"}, domain.ErrDuplicate},
		{"existing mirror key", Relationship{Collection: "posts", RelatedCollection: "authors", Type: schema.OneToOne, Key: "editor", TwoWayKey: "name"}, domain.ErrDuplicate},
		{"missing related collection", Relationship{Collection: "posts", RelatedCollection: "editors", Type: schema.OneToOne}, domain.ErrNotFound},
		{"self collision", Relationship{Collection: "posts", RelatedCollection: "posts", Type: schema.OneToOne, Key: "next", TwoWayKey: "next"}, domain.ErrDuplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.CreateRelationship(ctx, tt.rel); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateRelationship_RollsBackMetadata(t *testing.T) {
	a := &failingMetadata{Adapter: memory.New(memory.WithNamespace("test"), memory.WithDatabase("db")), collection: "authors"}
	d := New(a)
	ctx := context.Background()
	if err := d.Create(ctx); err != nil {
		t.Fatalf("create database: %v", err)
	}
	for _, id := range []string{"authors", "posts"} {
		if _, err := d.CreateCollection(ctx, id, nil, nil, openPermissions, false); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	_, err := d.CreateRelationship(ctx, Relationship{
		Collection: "posts", RelatedCollection: "authors", Type: schema.ManyToOne, TwoWay: true, Key: "author", TwoWayKey: "posts",
	})
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}

	posts, err := d.GetCollection(ctx, "posts")
	if err != nil {
		t.Fatalf("get posts: %v", err)
	}
	if _, ok := posts.Attribute("author"); ok {
		t.Error("parent attribute must be rolled back")
	}
	authors, err := d.GetCollection(ctx, "authors")
	if err != nil {
		t.Fatalf("get authors: %v", err)
	}
	if _, ok := authors.Attribute("posts"); ok {
		t.Error("child attribute must not be recorded")
	}

	a.collection = ""
	if _, err := d.CreateRelationship(ctx, Relationship{
		Collection: "posts", RelatedCollection: "authors", Type: schema.ManyToOne, TwoWay: true, Key: "author", TwoWayKey: "posts",
	}); err != nil {
		t.Fatalf("retry after rollback: %v", err)
	}
}

func TestRelationship_ReadBothSides(t *testing.T) {
	d := newTestDatabase(t)
	createAuthorsAndPosts(t, d, schema.OnDeleteRestrict)
	seedAuthorWithPost(t, d)
	ctx := context.Background()

	post, err := d.GetDocument(ctx, "posts", "p1")
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	author, ok := post["author"].(document.Document)
	if !ok {
		t.Fatalf("expected resolved author, got %#v", post["author"])
	}
	if author.GetString("name") != "Ann" {
		t.Errorf("expected Ann, got %q", author.GetString("name"))
	}
	if author.Has("posts") {
		t.Error("resolved author must not carry the back reference")
	}

	a1, err := d.GetDocument(ctx, "authors", "a1")
	if err != nil {
		t.Fatalf("get author: %v", err)
	}
	posts, ok := a1["posts"].([]any)
	if !ok || len(posts) != 1 {
		t.Fatalf("expected one post, got %#v", a1["posts"])
	}
	if p, _ := posts[0].(document.Document); p.GetString("title") != "Hello" {
		t.Errorf("unexpected post %v", posts[0])
	}

	plain, err := d.GetDocument(SkipRelationships(ctx), "posts", "p1")
	if err != nil {
		t.Fatalf("get without relationships: %v", err)
	}
	if plain.GetString("author") != "a1" {
		t.Errorf("expected raw key, got %#v", plain["author"])
	}
}

func TestRelationship_NestedWrites(t *testing.T) {
	d := newTestDatabase(t)
	createAuthorsAndPosts(t, d, schema.OnDeleteRestrict)
	ctx := context.Background()

	if _, err := d.CreateDocument(ctx, "posts", document.Document{
		document.KeyID: "p1", "title": "Hello",
		"author": document.Document{document.KeyID: "a1", "name": "Ann"},
	}); err != nil {
		t.Fatalf("create post with nested author: %v", err)
	}
	a1, err := d.GetDocument(ctx, "authors", "a1")
	if err != nil {
		t.Fatalf("get author: %v", err)
	}
	if a1.GetString("name") != "Ann" {
		t.Fatalf("nested author not created: %v", a1)
	}

	if _, err := d.CreateDocument(ctx, "authors", document.Document{
		document.KeyID: "a2", "name": "Bob",
		"posts": []any{document.Document{document.KeyID: "p2", "title": "From Bob"}, "p1"},
	}); err != nil {
		t.Fatalf("create author with posts: %v", err)
	}
	for _, id := range []string{"p1", "p2"} {
		p, err := d.GetDocument(SkipRelationships(ctx), "posts", id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if p.GetString("author") != "a2" {
			t.Errorf("post %s must point at a2, got %#v", id, p["author"])
		}
	}

	if _, err := d.CreateDocument(ctx, "posts", document.Document{document.KeyID: "p3", "title": "Lost", "author": "ghost"}); !errors.Is(err, domain.ErrRelationshipInvalid) {
		t.Errorf("expected ErrRelationshipInvalid for a missing author, got %v", err)
	}
	if _, err := d.CreateDocument(ctx, "posts", document.Document{document.KeyID: "p4", "title": "Many", "author": []any{"a1"}}); !errors.Is(err, domain.ErrRelationshipInvalid) {
		t.Errorf("expected ErrRelationshipInvalid for a list on a single relationship, got %v", err)
	}
	if p, _ := d.GetDocument(ctx, "posts", "p3"); !p.IsEmpty() {
		t.Error("post with a dangling reference must be rolled back")
	}
}

func TestRelationship_Reassign(t *testing.T) {
	d := newTestDatabase(t)
	createAuthorsAndPosts(t, d, schema.OnDeleteRestrict)
	seedAuthorWithPost(t, d)
	ctx := context.Background()
	if _, err := d.CreateDocument(ctx, "authors", document.Document{document.KeyID: "a2", "name": "Bob"}); err != nil {
		t.Fatalf("create a2: %v", err)
	}

	if _, err := d.UpdateDocument(ctx, "authors", "a2", document.Document{"posts": []any{"p1"}}); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	a1, err := d.GetDocument(ctx, "authors", "a1")
	if err != nil {
		t.Fatalf("get a1: %v", err)
	}
	if posts, _ := a1["posts"].([]any); len(posts) != 0 {
		t.Errorf("a1 must have no posts, got %v", posts)
	}
	a2, err := d.GetDocument(ctx, "authors", "a2")
	if err != nil {
		t.Fatalf("get a2: %v", err)
	}
	if posts, _ := a2["posts"].([]any); len(posts) != 1 {
		t.Errorf("a2 must have one post, got %v", a2["posts"])
	}

	if _, err := d.UpdateDocument(ctx, "authors", "a2", document.Document{"posts": []any{}}); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	p1, err := d.GetDocument(SkipRelationships(ctx), "posts", "p1")
	if err != nil {
		t.Fatalf("get p1: %v", err)
	}
	if p1["author"] != nil {
		t.Errorf("p1 must be unlinked, got %#v", p1["author"])
	}
}

func TestOnDelete(t *testing.T) {
	tests := []struct {
		name     string
		policy   schema.OnDelete
		wantErr  error
		postGone bool
	}{
		{"restrict", schema.OnDeleteRestrict, domain.ErrRestricted, false},
		{"cascade", schema.OnDeleteCascade, nil, true},
		{"setNull", schema.OnDeleteSetNull, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDatabase(t)
			createAuthorsAndPosts(t, d, tt.policy)
			seedAuthorWithPost(t, d)
			ctx := context.Background()

			_, err := d.DeleteDocument(ctx, "authors", "a1")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			a1, _ := d.GetDocument(ctx, "authors", "a1")
			if (tt.wantErr != nil) == a1.IsEmpty() {
				t.Errorf("author presence mismatch: %v", a1)
			}

			p1, err := d.GetDocument(SkipRelationships(ctx), "posts", "p1")
			if err != nil {
				t.Fatalf("get post: %v", err)
			}
			if p1.IsEmpty() != tt.postGone {
				t.Fatalf("expected post gone=%v, got %v", tt.postGone, p1)
			}
			if tt.policy == schema.OnDeleteSetNull && p1["author"] != nil {
				t.Errorf("expected author to be cleared, got %#v", p1["author"])
			}
		})
	}
}

func TestOnDelete_ManySideIsFree(t *testing.T) {
	d := newTestDatabase(t)
	createAuthorsAndPosts(t, d, schema.OnDeleteRestrict)
	seedAuthorWithPost(t, d)
	ctx := context.Background()

	deleted, err := d.DeleteDocument(ctx, "posts", "p1")
	if err != nil {
		t.Fatalf("delete post: %v", err)
	}
	if !deleted {
		t.Error("expected the post to be deleted")
	}
	if _, err := d.DeleteDocument(ctx, "authors", "a1"); err != nil {
		t.Errorf("author without posts must be deletable, got %v", err)
	}
}

func TestManyToMany(t *testing.T) {
	d := newTestDatabase(t)
	ctx := context.Background()
	for _, id := range []string{"posts", "labels"} {
		if _, err := d.CreateCollection(ctx, id,
			[]schema.Attribute{{Key: "name", Type: schema.TypeString, Size: 64}}, nil, openPermissions, false); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, err := d.CreateRelationship(ctx, Relationship{
		Collection: "posts", RelatedCollection: "labels", Type: schema.ManyToMany, TwoWay: true,
		Key: "labels", TwoWayKey: "posts", OnDelete: schema.OnDeleteSetNull,
	}); err != nil {
		t.Fatalf("create relationship: %v", err)
	}
	posts, _ := d.GetCollection(ctx, "posts")
	labels, _ := d.GetCollection(ctx, "labels")
	junction := schema.JunctionID(posts.InternalID(), labels.InternalID())
	if ok, err := d.Exists(ctx, junction); err != nil || !ok {
		t.Fatalf("expected junction %s, got %v %v", junction, ok, err)
	}

	for _, id := range []string{"go", "db"} {
		if _, err := d.CreateDocument(ctx, "labels", document.Document{document.KeyID: id, "name": id}); err != nil {
			t.Fatalf("create label %s: %v", id, err)
		}
	}
	if _, err := d.CreateDocument(ctx, "posts", document.Document{document.KeyID: "p1", "name": "intro", "labels": []any{"go", "db"}}); err != nil {
		t.Fatalf("create post: %v", err)
	}

	p1, err := d.GetDocument(ctx, "posts", "p1")
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if got, _ := p1["labels"].([]any); len(got) != 2 {
		t.Fatalf("expected 2 labels, got %#v", p1["labels"])
	}
	goLabel, err := d.GetDocument(ctx, "labels", "go")
	if err != nil {
		t.Fatalf("get label: %v", err)
	}
	if got, _ := goLabel["posts"].([]any); len(got) != 1 {
		t.Errorf("expected label to list the post, got %#v", goLabel["posts"])
	}

	if _, err := d.UpdateDocument(ctx, "posts", "p1", document.Document{"labels": []any{"db"}}); err != nil {
		t.Fatalf("update labels: %v", err)
	}
	goLabel, _ = d.GetDocument(ctx, "labels", "go")
	if got, _ := goLabel["posts"].([]any); len(got) != 0 {
		t.Errorf("go label must be unlinked, got %#v", goLabel["posts"])
	}

	if _, err := d.DeleteDocument(ctx, "posts", "p1"); err != nil {
		t.Fatalf("delete post: %v", err)
	}
	dbLabel, _ := d.GetDocument(ctx, "labels", "db")
	if got, _ := dbLabel["posts"].([]any); len(got) != 0 {
		t.Errorf("junction rows must go with the post, got %#v", dbLabel["posts"])
	}

	if err := d.DeleteRelationship(ctx, "labels", "posts"); err != nil {
		t.Fatalf("delete relationship: %v", err)
	}
	if ok, _ := d.Exists(ctx, junction); ok {
		t.Error("junction must be dropped with the relationship")
	}
	posts, _ = d.GetCollection(ctx, "posts")
	if _, ok := posts.Attribute("labels"); ok {
		t.Error("parent attribute must be removed")
	}
}

func TestUpdateRelationship_Rename(t *testing.T) {
	d := newTestDatabase(t)
	createAuthorsAndPosts(t, d, schema.OnDeleteRestrict)
	seedAuthorWithPost(t, d)
	ctx := context.Background()

	attr, err := d.UpdateRelationship(ctx, "posts", "author", RelationshipUpdate{
		NewKey:   schema.Some("writer"),
		OnDelete: schema.Some(schema.OnDeleteCascade),
	})
	if err != nil {
		t.Fatalf("update relationship: %v", err)
	}
	if attr.Key != "writer" || attr.Options.OnDelete != schema.OnDeleteCascade {
		t.Errorf("unexpected attribute: %+v", attr)
	}

	posts, _ := d.GetCollection(ctx, "posts")
	if _, ok := posts.Index(schema.RelationshipIndexKey("writer")); !ok {
		t.Error("relationship index must follow the key")
	}
	authors, _ := d.GetCollection(ctx, "authors")
	if m, ok := authors.Attribute("posts"); !ok || m.Options.TwoWayKey != "writer" {
		t.Errorf("mirror must point at the new key, got %+v", m)
	}

	p1, err := d.GetDocument(ctx, "posts", "p1")
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if w, ok := p1["writer"].(document.Document); !ok || w.ID() != "a1" {
		t.Errorf("expected renamed relationship to resolve, got %#v", p1["writer"])
	}

	if _, err := d.UpdateRelationship(ctx, "posts", "writer", RelationshipUpdate{NewKey: schema.Some("title")}); !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	if _, err := d.UpdateRelationship(ctx, "posts", "title", RelationshipUpdate{}); !errors.Is(err, domain.ErrRelationshipInvalid) {
		t.Errorf("expected ErrRelationshipInvalid for a plain attribute, got %v", err)
	}
}

func TestDeleteRelationship(t *testing.T) {
	d := newTestDatabase(t)
	createAuthorsAndPosts(t, d, schema.OnDeleteRestrict)
	seedAuthorWithPost(t, d)
	ctx := context.Background()

	if err := d.DeleteRelationship(ctx, "posts", "author"); err != nil {
		t.Fatalf("delete relationship: %v", err)
	}
	posts, _ := d.GetCollection(ctx, "posts")
	if _, ok := posts.Attribute("author"); ok {
		t.Error("author must be removed")
	}
	if _, ok := posts.Index(schema.RelationshipIndexKey("author")); ok {
		t.Error("relationship index must be removed")
	}
	authors, _ := d.GetCollection(ctx, "authors")
	if _, ok := authors.Attribute("posts"); ok {
		t.Error("mirror must be removed")
	}
	if _, err := d.DeleteDocument(ctx, "authors", "a1"); err != nil {
		t.Errorf("author must be free of the restrict policy, got %v", err)
	}
	if _, err := d.CreateDocument(ctx, "posts", document.Document{"title": "x", "author": "a1"}); !errors.Is(err, domain.ErrStructureInvalid) {
		t.Errorf("expected ErrStructureInvalid for the removed key, got %v", err)
	}
	if err := d.DeleteRelationship(ctx, "posts", "author"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteCollection_AppliesPolicies(t *testing.T) {
	d := newTestDatabase(t)
	createAuthorsAndPosts(t, d, schema.OnDeleteCascade)
	seedAuthorWithPost(t, d)
	ctx := context.Background()

	if err := d.DeleteCollection(ctx, "authors"); err != nil {
		t.Fatalf("delete collection: %v", err)
	}
	posts, err := d.GetCollection(ctx, "posts")
	if err != nil {
		t.Fatalf("get posts: %v", err)
	}
	if _, ok := posts.Attribute("author"); ok {
		t.Error("relationship must be removed from the surviving collection")
	}
	if p1, _ := d.GetDocument(ctx, "posts", "p1"); !p1.IsEmpty() {
		t.Error("cascade must remove the posts of deleted authors")
	}
}

func TestFind_VirtualRelationship(t *testing.T) {
	d := newTestDatabase(t)
	createAuthorsAndPosts(t, d, schema.OnDeleteRestrict)
	seedAuthorWithPost(t, d)
	ctx := context.Background()

	if _, err := d.Find(ctx, "authors", []query.Query{query.EqualTo("posts", "p1")}); !errors.Is(err, domain.ErrQueryInvalid) {
		t.Errorf("expected ErrQueryInvalid, got %v", err)
	}
	docs, err := d.Find(ctx, "posts", []query.Query{query.EqualTo("author", "a1")})
	if err != nil {
		t.Fatalf("find by key column: %v", err)
	}
	if len(docs) != 1 || docs[0].ID() != "p1" {
		t.Errorf("expected p1, got %v", docs)
	}
}

// createChain links each collection of names to the next one through a
// one-way "next" relationship and stores a document "n" in every one.
func createChain(t *testing.T, d *Database, names []string) {
	t.Helper()
	ctx := context.Background()
	for _, name := range names {
		if _, err := d.CreateCollection(ctx, name,
			[]schema.Attribute{{Key: "name", Type: schema.TypeString, Size: 32}},
			nil, openPermissions, false); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	for i := 0; i < len(names)-1; i++ {
		if _, err := d.CreateRelationship(ctx, Relationship{
			Collection:        names[i],
			RelatedCollection: names[i+1],
			Type:              schema.ManyToOne,
			Key:               "next",
			TwoWayKey:         "prev",
			OnDelete:          schema.OnDeleteSetNull,
		}); err != nil {
			t.Fatalf("link %s: %v", names[i], err)
		}
	}
	for i := len(names) - 1; i >= 0; i-- {
		doc := document.Document{document.KeyID: "n", "name": names[i]}
		if i < len(names)-1 {
			doc["next"] = "n"
		}
		if _, err := d.CreateDocument(ctx, names[i], doc); err != nil {
			t.Fatalf("create document in %s: %v", names[i], err)
		}
	}
}

// follow walks the resolved "next" values of doc, returning the levels
// resolved into documents and the value found past the last one.
func follow(doc document.Document) (int, any) {
	levels := 0
	for {
		next, ok := doc["next"].(document.Document)
		if !ok {
			return levels, doc["next"]
		}
		levels++
		doc = next
	}
}

func TestGetDocument_RelationDepthCap(t *testing.T) {
	d := newTestDatabase(t)
	createChain(t, d, []string{"l1", "l2", "l3", "l4", "l5"})

	doc, err := d.GetDocument(context.Background(), "l1", "n")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	levels, rest := follow(doc)
	if levels != schema.RelationMaxDepth {
		t.Errorf("expected %d resolved levels, got %d", schema.RelationMaxDepth, levels)
	}
	if rest != "n" {
		t.Errorf("expected the raw id past the cap, got %v", rest)
	}
}

func TestWithMaxDepth(t *testing.T) {
	a := memory.New(memory.WithNamespace("test"), memory.WithDatabase("db"))
	d := New(a, WithMaxDepth(1))
	if err := d.Create(context.Background()); err != nil {
		t.Fatalf("create database: %v", err)
	}
	createChain(t, d, []string{"l1", "l2", "l3"})

	doc, err := d.GetDocument(context.Background(), "l1", "n")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if levels, rest := follow(doc); levels != 1 || rest != "n" {
		t.Errorf("expected one resolved level then the raw id, got %d and %v", levels, rest)
	}

	if New(a, WithMaxDepth(0)).maxDepth != schema.RelationMaxDepth {
		t.Error("a non-positive depth must keep the default")
	}
}
