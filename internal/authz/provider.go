package authz

import "context"

// SubjectProvider resolves a subject reference into the snapshot the engine
// decides from. Implementations own consistency of the snapshot for the
// duration of one operation.
type SubjectProvider interface {
	Subject(ctx context.Context, subjectID int64) (Subject, error)
}

// Store exposes the administrative data the engine reads. It owns all
// persistent state; the engine keeps only operation-scoped caches.
type Store interface {
	Role(ctx context.Context, roleID int64) (Role, error)
	RolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	RoleScopes(ctx context.Context, roleID int64) ([]DataScope, error)
	Permissions(ctx context.Context, ids []int64) ([]Permission, error)
	Scopes(ctx context.Context, ids []int64) ([]DataScope, error)
	PermissionBySlug(ctx context.Context, slug string) (Permission, error)
}

// Invalidator receives assignment-mutation notifications so store-side
// caches can drop stale entries. The gate calls it from its hooks.
type Invalidator interface {
	InvalidateSubject(ctx context.Context, subjectID int64) error
	InvalidateRole(ctx context.Context, roleID int64) error
}
