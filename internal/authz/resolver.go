package authz

import (
	"context"
	"errors"
	"log/slog"
	"sort"
)

// PermissionResolver computes the effective, deduplicated permission set a
// subject holds from direct grants and enabled-role memberships.
type PermissionResolver struct {
	provider SubjectProvider
	store    Store
	logger   *slog.Logger
}

// NewPermissionResolver constructs a resolver.
func NewPermissionResolver(provider SubjectProvider, store Store, logger *slog.Logger) *PermissionResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionResolver{provider: provider, store: store, logger: logger}
}

// EffectivePermissions returns the union of the subject's direct permissions
// and the permissions of its enabled roles, deduplicated by permission ID.
// An unknown subject yields an empty set, not an error. Results are cached in
// the operation cache when one is installed.
func (r *PermissionResolver) EffectivePermissions(ctx context.Context, subjectID int64) ([]Permission, error) {
	cache := OperationCache(ctx)
	if cache != nil {
		if perms, ok := cache.permissions(subjectID); ok {
			return perms, nil
		}
	}

	subject, err := r.provider.Subject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	byID := make(map[int64]Permission)

	if len(subject.PermissionIDs) > 0 {
		direct, err := r.store.Permissions(ctx, subject.PermissionIDs)
		if err != nil {
			return nil, err
		}
		for _, p := range direct {
			byID[p.ID] = p
		}
	}

	for _, roleID := range subject.RoleIDs {
		role, err := r.store.Role(ctx, roleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				r.logger.Warn("role assignment points at missing role",
					slog.Int64("subject_id", subjectID), slog.Int64("role_id", roleID))
				continue
			}
			return nil, err
		}
		if !role.Enabled {
			continue
		}
		perms, err := r.store.RolePermissions(ctx, roleID)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			byID[p.ID] = p
		}
	}

	effective := make([]Permission, 0, len(byID))
	for _, p := range byID {
		effective = append(effective, p)
	}
	sort.Slice(effective, func(i, j int) bool { return effective[i].ID < effective[j].ID })

	if cache != nil {
		cache.setPermissions(subjectID, effective)
	}
	return effective, nil
}

// HasPermission reports whether the subject holds the permission slug.
// Administrators short-circuit to true without touching the store.
func (r *PermissionResolver) HasPermission(ctx context.Context, subjectID int64, slug string) (bool, error) {
	subject, err := r.provider.Subject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if subject.Admin {
		return true, nil
	}
	effective, err := r.EffectivePermissions(ctx, subjectID)
	if err != nil {
		return false, err
	}
	for _, p := range effective {
		if p.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

// HasAny reports whether the subject holds at least one of the slugs. An
// empty slug list is false.
func (r *PermissionResolver) HasAny(ctx context.Context, subjectID int64, slugs []string) (bool, error) {
	if len(slugs) == 0 {
		return false, nil
	}
	held, err := r.heldSlugs(ctx, subjectID)
	if err != nil {
		return false, err
	}
	if held == nil {
		// Administrator: every slug is held.
		return true, nil
	}
	for _, slug := range slugs {
		if _, ok := held[slug]; ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAll reports whether the subject holds every slug. An empty slug list is
// vacuously true.
func (r *PermissionResolver) HasAll(ctx context.Context, subjectID int64, slugs []string) (bool, error) {
	if len(slugs) == 0 {
		return true, nil
	}
	held, err := r.heldSlugs(ctx, subjectID)
	if err != nil {
		return false, err
	}
	if held == nil {
		return true, nil
	}
	for _, slug := range slugs {
		if _, ok := held[slug]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// heldSlugs returns the set of slugs the subject holds, or nil for
// administrators who hold everything.
func (r *PermissionResolver) heldSlugs(ctx context.Context, subjectID int64) (map[string]struct{}, error) {
	subject, err := r.provider.Subject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return map[string]struct{}{}, nil
		}
		return nil, err
	}
	if subject.Admin {
		return nil, nil
	}
	effective, err := r.EffectivePermissions(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	held := make(map[string]struct{}, len(effective))
	for _, p := range effective {
		held[p.Slug] = struct{}{}
	}
	return held, nil
}
