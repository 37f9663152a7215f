// Package auth carries the caller's roles and the authorization bypass
// switch through a context.
package auth

import (
	"context"
	"slices"

	"github.com/kailas-cloud/docbase/internal/domain/permission"
)

type rolesKey struct{}

type skipKey struct{}

// WithRoles returns a context carrying roles. The "any" role is always
// implied and need not be listed.
func WithRoles(ctx context.Context, roles ...string) context.Context {
	return context.WithValue(ctx, rolesKey{}, slices.Clone(roles))
}

// AddRole returns a context with role appended to the roles in ctx.
func AddRole(ctx context.Context, role string) context.Context {
	roles := rolesFrom(ctx)
	if slices.Contains(roles, role) {
		return ctx
	}
	return context.WithValue(ctx, rolesKey{}, append(roles, role))
}

// RemoveRole returns a context without role.
func RemoveRole(ctx context.Context, role string) context.Context {
	roles := slices.DeleteFunc(rolesFrom(ctx), func(r string) bool { return r == role })
	return context.WithValue(ctx, rolesKey{}, roles)
}

func rolesFrom(ctx context.Context) []string {
	roles, _ := ctx.Value(rolesKey{}).([]string)
	return slices.Clone(roles)
}

// Skip returns a context in which permission checks are bypassed.
// Reserved for trusted internal callers.
func Skip(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipKey{}, true)
}

// Enforce returns a context that re-enables permission checks below a
// Skip.
func Enforce(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipKey{}, false)
}

// Authorizer answers permission questions for the caller in a context.
type Authorizer struct{}

// New creates an authorizer.
func New() *Authorizer { return &Authorizer{} }

// Roles returns the caller's roles, "any" included.
func (a *Authorizer) Roles(ctx context.Context) []string {
	roles := rolesFrom(ctx)
	anyRole := permission.Any().String()
	if !slices.Contains(roles, anyRole) {
		roles = append(roles, anyRole)
	}
	return roles
}

// Skipped reports whether checks are bypassed in ctx.
func (a *Authorizer) Skipped(ctx context.Context) bool {
	skip, _ := ctx.Value(skipKey{}).(bool)
	return skip
}

// Allowed reports whether the caller may perform action under perms.
func (a *Authorizer) Allowed(ctx context.Context, action permission.Action, perms []string) bool {
	if a.Skipped(ctx) {
		return true
	}
	return permission.Allowed(a.Roles(ctx), perms, action)
}
