package authz

import (
	"context"
	"errors"
	"log/slog"
	"sort"
)

// ScopeSet is the outcome of scope resolution for one subject and permission.
// Bypass means the caller must apply no filtering at all (administrator, or
// no permission context supplied).
type ScopeSet struct {
	Scopes []DataScope
	Bypass bool
}

// ScopeResolver computes the effective data-scope set for a subject and
// permission pair from direct grants and enabled-role memberships.
type ScopeResolver struct {
	provider SubjectProvider
	store    Store
	logger   *slog.Logger
}

// NewScopeResolver constructs a resolver.
func NewScopeResolver(provider SubjectProvider, store Store, logger *slog.Logger) *ScopeResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScopeResolver{provider: provider, store: store, logger: logger}
}

// EffectiveScopes returns the union of the subject's direct scopes and the
// scopes of its enabled roles, deduplicated by scope ID. Administrators
// bypass scope computation entirely. A missing permission slug means the
// caller supplied no permission context; the resolver does not guess and
// reports a bypass so no filtering is applied upstream.
//
// Results are cached per (subject, slug) in the operation cache only; scope
// grants can change between operations, so nothing outlives the operation.
func (r *ScopeResolver) EffectiveScopes(ctx context.Context, subjectID int64, permissionSlug string) (ScopeSet, error) {
	if permissionSlug == "" {
		return ScopeSet{Bypass: true}, nil
	}

	subject, err := r.provider.Subject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ScopeSet{}, nil
		}
		return ScopeSet{}, err
	}
	if subject.Admin {
		return ScopeSet{Bypass: true}, nil
	}

	cache := OperationCache(ctx)
	if cache != nil {
		if scopes, ok := cache.scopeSet(subjectID, permissionSlug); ok {
			return ScopeSet{Scopes: scopes}, nil
		}
	}

	byID := make(map[int64]DataScope)

	if len(subject.ScopeIDs) > 0 {
		direct, err := r.store.Scopes(ctx, subject.ScopeIDs)
		if err != nil {
			return ScopeSet{}, err
		}
		for _, s := range direct {
			byID[s.ID] = s
		}
	}

	for _, roleID := range subject.RoleIDs {
		role, err := r.store.Role(ctx, roleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				r.logger.Warn("scope resolution skipping missing role",
					slog.Int64("subject_id", subjectID), slog.Int64("role_id", roleID))
				continue
			}
			return ScopeSet{}, err
		}
		if !role.Enabled {
			continue
		}
		scopes, err := r.store.RoleScopes(ctx, roleID)
		if err != nil {
			return ScopeSet{}, err
		}
		for _, s := range scopes {
			byID[s.ID] = s
		}
	}

	effective := make([]DataScope, 0, len(byID))
	for _, s := range byID {
		effective = append(effective, s)
	}
	sort.Slice(effective, func(i, j int) bool { return effective[i].ID < effective[j].ID })

	if cache != nil {
		cache.setScopeSet(subjectID, permissionSlug, effective)
	}
	return ScopeSet{Scopes: effective}, nil
}
