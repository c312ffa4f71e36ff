package authz_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scopeguard/scopeguard/internal/authz"
	"github.com/scopeguard/scopeguard/internal/store/memory"
)

func seedScopes(store *memory.Store) {
	store.PutScope(authz.DataScope{ID: 1, Name: "own rows", Type: authz.ScopePersonal})
	store.PutScope(authz.DataScope{ID: 2, Name: "own org", Type: authz.ScopeOrganization})
	store.PutScope(authz.DataScope{ID: 3, Name: "own dept", Type: authz.ScopeDepartment})
	store.PutScope(authz.DataScope{ID: 4, Name: "everything", Type: authz.ScopeAll})

	store.PutRole(authz.Role{ID: 10, Slug: "clerk", Enabled: true})
	store.PutRole(authz.Role{ID: 12, Slug: "archived", Enabled: false})
	store.AttachScopeToRole(10, 2)
	store.AttachScopeToRole(12, 4)
}

func TestEffectiveScopesUnionAndDedup(t *testing.T) {
	store := memory.New()
	seedScopes(store)
	// Scope 2 arrives both directly and through the clerk role.
	store.PutSubject(authz.Subject{ID: 100, RoleIDs: []int64{10}, ScopeIDs: []int64{1, 2}})

	resolver := authz.NewScopeResolver(store, store, nil)
	set, err := resolver.EffectiveScopes(context.Background(), 100, "order:view")
	require.NoError(t, err)
	require.False(t, set.Bypass)
	require.Len(t, set.Scopes, 2)
	require.Equal(t, int64(1), set.Scopes[0].ID)
	require.Equal(t, int64(2), set.Scopes[1].ID)
}

func TestEffectiveScopesSkipsDisabledRole(t *testing.T) {
	store := memory.New()
	seedScopes(store)
	store.PutSubject(authz.Subject{ID: 100, RoleIDs: []int64{12}})

	resolver := authz.NewScopeResolver(store, store, nil)
	set, err := resolver.EffectiveScopes(context.Background(), 100, "order:view")
	require.NoError(t, err)
	require.Empty(t, set.Scopes)
}

func TestEffectiveScopesAdminBypass(t *testing.T) {
	store := memory.New()
	seedScopes(store)
	store.PutSubject(authz.Subject{ID: 1, Admin: true, ScopeIDs: []int64{1}})

	resolver := authz.NewScopeResolver(store, store, nil)
	set, err := resolver.EffectiveScopes(context.Background(), 1, "order:view")
	require.NoError(t, err)
	require.True(t, set.Bypass)
	require.Empty(t, set.Scopes)
}

func TestEffectiveScopesMissingPermissionContext(t *testing.T) {
	store := memory.New()
	seedScopes(store)
	store.PutSubject(authz.Subject{ID: 100, ScopeIDs: []int64{1}})

	resolver := authz.NewScopeResolver(store, store, nil)
	// No permission context: the resolver must not guess, which upstream
	// translates to "apply no filtering".
	set, err := resolver.EffectiveScopes(context.Background(), 100, "")
	require.NoError(t, err)
	require.True(t, set.Bypass)
}

func TestEffectiveScopesUnknownSubject(t *testing.T) {
	store := memory.New()
	seedScopes(store)

	resolver := authz.NewScopeResolver(store, store, nil)
	set, err := resolver.EffectiveScopes(context.Background(), 999, "order:view")
	require.NoError(t, err)
	require.False(t, set.Bypass)
	require.Empty(t, set.Scopes)
}

type countingScopeStore struct {
	*memory.Store
	roleScopeCalls int
}

func (c *countingScopeStore) RoleScopes(ctx context.Context, roleID int64) ([]authz.DataScope, error) {
	c.roleScopeCalls++
	return c.Store.RoleScopes(ctx, roleID)
}

func TestEffectiveScopesCachedPerOperationOnly(t *testing.T) {
	store := memory.New()
	seedScopes(store)
	store.PutSubject(authz.Subject{ID: 100, RoleIDs: []int64{10}})

	counting := &countingScopeStore{Store: store}
	resolver := authz.NewScopeResolver(store, counting, nil)

	ctx := authz.NewOperation(context.Background())
	_, err := resolver.EffectiveScopes(ctx, 100, "order:view")
	require.NoError(t, err)
	_, err = resolver.EffectiveScopes(ctx, 100, "order:view")
	require.NoError(t, err)
	require.Equal(t, 1, counting.roleScopeCalls)

	// A different permission slug is a different cache entry.
	_, err = resolver.EffectiveScopes(ctx, 100, "order:update")
	require.NoError(t, err)
	require.Equal(t, 2, counting.roleScopeCalls)

	// Scope grants can change between operations; nothing is reused.
	_, err = resolver.EffectiveScopes(authz.NewOperation(context.Background()), 100, "order:view")
	require.NoError(t, err)
	require.Equal(t, 3, counting.roleScopeCalls)
}

func fieldConfig(t *testing.T, field string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"field": field})
	require.NoError(t, err)
	return raw
}
