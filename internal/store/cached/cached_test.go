package cached_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/scopeguard/scopeguard/internal/authz"
	"github.com/scopeguard/scopeguard/internal/store/cached"
	"github.com/scopeguard/scopeguard/internal/store/memory"
)

type countingStore struct {
	*memory.Store
	mu    sync.Mutex
	calls int
}

func (c *countingStore) RolePermissions(ctx context.Context, roleID int64) ([]authz.Permission, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Store.RolePermissions(ctx, roleID)
}

func newCached(t *testing.T) (*cached.Store, *countingStore, *memory.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	base := memory.New()
	base.PutRole(authz.Role{ID: 10, Slug: "editor", Enabled: true})
	base.PutPermission(authz.Permission{ID: 1, Slug: "post:update", Action: authz.ActionUpdate})
	base.AttachPermissionToRole(10, 1)
	base.PutScope(authz.DataScope{ID: 2, Name: "own org", Type: authz.ScopeOrganization})
	base.AttachScopeToRole(10, 2)

	counting := &countingStore{Store: base}
	return cached.New(counting, client, time.Minute, nil), counting, base
}

func TestRolePermissionsReadThrough(t *testing.T) {
	store, counting, _ := newCached(t)
	ctx := context.Background()

	perms, err := store.RolePermissions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	require.Equal(t, "post:update", perms[0].Slug)

	// Second read must come from Redis.
	perms, err = store.RolePermissions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	require.Equal(t, 1, counting.calls)
}

func TestInvalidateRoleDropsCachedSets(t *testing.T) {
	store, counting, base := newCached(t)
	ctx := context.Background()

	_, err := store.RolePermissions(ctx, 10)
	require.NoError(t, err)
	_, err = store.RoleScopes(ctx, 10)
	require.NoError(t, err)

	base.PutPermission(authz.Permission{ID: 3, Slug: "post:delete", Action: authz.ActionDelete})
	base.AttachPermissionToRole(10, 3)

	// Stale until invalidated.
	perms, err := store.RolePermissions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, perms, 1)

	require.NoError(t, store.InvalidateRole(ctx, 10))
	perms, err = store.RolePermissions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, perms, 2)
	require.Equal(t, 2, counting.calls)
}

func TestRoleScopesReadThrough(t *testing.T) {
	store, _, _ := newCached(t)
	ctx := context.Background()

	scopes, err := store.RoleScopes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, scopes, 1)
	require.Equal(t, authz.ScopeOrganization, scopes[0].Type)

	scopes, err = store.RoleScopes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, scopes, 1)
}

func TestGateOverCachedStore(t *testing.T) {
	store, _, base := newCached(t)
	base.PutSubject(authz.Subject{ID: 100, RoleIDs: []int64{10}})

	gate, err := authz.New(authz.Config{
		Provider:    base,
		Store:       store,
		Options:     authz.DefaultOptions(),
		Invalidator: store,
	})
	require.NoError(t, err)

	decision, err := gate.Authorize(authz.NewOperation(context.Background()), 100, "post:update")
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// Role permission set changes upstream; the OnRoleChanged hook flushes
	// the role cache so a new operation sees it.
	base.PutPermission(authz.Permission{ID: 3, Slug: "post:delete", Action: authz.ActionDelete})
	base.AttachPermissionToRole(10, 3)
	require.NoError(t, gate.OnRoleChanged(context.Background(), 10))

	decision, err = gate.Authorize(authz.NewOperation(context.Background()), 100, "post:delete")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}
