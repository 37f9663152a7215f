package database

import (
	"context"
	"time"

	"github.com/kailas-cloud/docbase/internal/auth"
)

type (
	skipRelationshipsKey struct{}
	skipValidationKey    struct{}
	timestampKey         struct{}
	silentKey            struct{}
)

type silence struct {
	all   bool
	names []string
}

// SkipAuthorization returns a context in which permission checks are
// bypassed. Reserved for trusted internal callers.
func SkipAuthorization(ctx context.Context) context.Context { return auth.Skip(ctx) }

// SkipRelationships returns a context in which relationship attributes are
// neither resolved on read nor written through on write.
func SkipRelationships(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipRelationshipsKey{}, true)
}

func relationshipsSkipped(ctx context.Context) bool {
	v, _ := ctx.Value(skipRelationshipsKey{}).(bool)
	return v
}

// SkipValidation returns a context in which document structure validation
// is bypassed.
func SkipValidation(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipValidationKey{}, true)
}

func validationSkipped(ctx context.Context) bool {
	v, _ := ctx.Value(skipValidationKey{}).(bool)
	return v
}

// WithRequestTimestamp pins the timestamp used for $createdAt and
// $updatedAt. Writes of documents updated after t fail with a conflict.
func WithRequestTimestamp(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, timestampKey{}, t)
}

func requestTimestamp(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(timestampKey{}).(time.Time)
	return t, ok
}

// Silent returns a context in which the named listeners are not called.
// With no names every listener is silenced.
func Silent(ctx context.Context, names ...string) context.Context {
	prev, _ := ctx.Value(silentKey{}).(silence)
	if len(names) == 0 {
		return context.WithValue(ctx, silentKey{}, silence{all: true})
	}
	next := silence{all: prev.all, names: append(append([]string(nil), prev.names...), names...)}
	return context.WithValue(ctx, silentKey{}, next)
}

func silencedListeners(ctx context.Context) ([]string, bool) {
	s, _ := ctx.Value(silentKey{}).(silence)
	return s.names, s.all
}
