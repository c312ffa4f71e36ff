package authz

import "context"

type operationContextKey struct{}

type permissionContextKey struct{}

// NewOperation installs a fresh operation-scoped cache in the context. Every
// inbound unit of work (HTTP request, job run) gets its own cache so resolved
// sets never leak between concurrent operations.
func NewOperation(ctx context.Context) context.Context {
	return context.WithValue(ctx, operationContextKey{}, newOpCache())
}

// OperationCache extracts the operation cache, or nil when the caller never
// called NewOperation.
func OperationCache(ctx context.Context) *OpCache {
	cache, _ := ctx.Value(operationContextKey{}).(*OpCache)
	return cache
}

// WithCurrentPermission establishes the permission-in-effect for the current
// operation so automatic scope filtering knows which permission to resolve
// scopes for.
func WithCurrentPermission(ctx context.Context, slug string) context.Context {
	return context.WithValue(ctx, permissionContextKey{}, slug)
}

// CurrentPermission reads the permission-in-effect. The empty string means no
// permission context was set; scope resolution then applies no filtering.
func CurrentPermission(ctx context.Context) string {
	slug, _ := ctx.Value(permissionContextKey{}).(string)
	return slug
}
