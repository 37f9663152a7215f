package docbase

import (
	"context"
	"fmt"
)

// FindBuilder is a fluent builder for typed queries.
type FindBuilder[T any] struct {
	col     *TypedCollection[T]
	queries []Query
}

// Where adds filter queries. Multiple filters are combined with AND.
func (b *FindBuilder[T]) Where(filters ...Query) *FindBuilder[T] {
	b.queries = append(b.queries, filters...)
	return b
}

// Equal adds an equality filter on key.
func (b *FindBuilder[T]) Equal(key string, values ...any) *FindBuilder[T] {
	b.queries = append(b.queries, EqualTo(key, values...))
	return b
}

// Order sorts by key, descending when desc is set.
func (b *FindBuilder[T]) Order(key string, desc bool) *FindBuilder[T] {
	if desc {
		b.queries = append(b.queries, Descending(key))
	} else {
		b.queries = append(b.queries, Ascending(key))
	}
	return b
}

// Limit sets the maximum number of results.
func (b *FindBuilder[T]) Limit(n int) *FindBuilder[T] {
	b.queries = append(b.queries, WithLimit(n))
	return b
}

// Offset skips the first n results.
func (b *FindBuilder[T]) Offset(n int) *FindBuilder[T] {
	b.queries = append(b.queries, WithOffset(n))
	return b
}

// After continues after the item with the given id.
func (b *FindBuilder[T]) After(id string) *FindBuilder[T] {
	b.queries = append(b.queries, After(id))
	return b
}

// Queries returns the accumulated queries.
func (b *FindBuilder[T]) Queries() []Query { return b.queries }

// All executes the query and returns typed results.
func (b *FindBuilder[T]) All(ctx context.Context) ([]T, error) {
	docs, err := b.col.client.Find(ctx, b.col.name, b.queries)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	return b.col.decodeAll(docs)
}

// First executes the query and returns the first match. ok is false when
// nothing matched.
func (b *FindBuilder[T]) First(ctx context.Context) (item T, ok bool, err error) {
	doc, err := b.col.client.FindOne(ctx, b.col.name, b.queries)
	if err != nil {
		return item, false, fmt.Errorf("find one: %w", err)
	}
	if doc.IsEmpty() {
		return item, false, nil
	}
	item, err = b.col.decode(doc)
	return item, err == nil, err
}
