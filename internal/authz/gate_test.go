package authz_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scopeguard/scopeguard/internal/authz"
	"github.com/scopeguard/scopeguard/internal/store/memory"
)

type recordingObserver struct {
	mu            sync.Mutex
	decisions     []authz.Reason
	misconfigured int
	ambiguous     int
}

func (o *recordingObserver) DecisionMade(allowed bool, reason authz.Reason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, reason)
}

func (o *recordingObserver) ScopeMisconfigured(authz.ScopeType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.misconfigured++
}

func (o *recordingObserver) AmbiguousContext() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ambiguous++
}

func newGate(t *testing.T, store *memory.Store, opts authz.Options) (*authz.Gate, *recordingObserver) {
	t.Helper()
	observer := &recordingObserver{}
	gate, err := authz.New(authz.Config{
		Provider: store,
		Store:    store,
		Options:  opts,
		Observer: observer,
	})
	require.NoError(t, err)
	return gate, observer
}

func TestAuthorizeAdminBypassesGrants(t *testing.T) {
	store := memory.New()
	seedCatalog(store)
	store.PutSubject(authz.Subject{ID: 1, Admin: true})

	gate, _ := newGate(t, store, authz.DefaultOptions())
	decision, err := gate.Authorize(context.Background(), 1, "anything:configure")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, authz.ReasonAdmin, decision.Reason)
	require.NotEmpty(t, decision.ID)
}

func TestAuthorizeRoleDisableReenable(t *testing.T) {
	store := memory.New()
	seedCatalog(store)
	store.PutSubject(authz.Subject{ID: 100, RoleIDs: []int64{10}})

	gate, _ := newGate(t, store, authz.DefaultOptions())

	decision, err := gate.Authorize(authz.NewOperation(context.Background()), 100, "post:update")
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	require.NoError(t, store.SetRoleEnabled(10, false))
	decision, err = gate.Authorize(authz.NewOperation(context.Background()), 100, "post:update")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, authz.ReasonNotGranted, decision.Reason)

	require.NoError(t, store.SetRoleEnabled(10, true))
	decision, err = gate.Authorize(authz.NewOperation(context.Background()), 100, "post:update")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestAuthorizeUnknownSlugReason(t *testing.T) {
	store := memory.New()
	seedCatalog(store)
	store.PutSubject(authz.Subject{ID: 100})

	gate, _ := newGate(t, store, authz.DefaultOptions())
	decision, err := gate.Authorize(context.Background(), 100, "ghost:delete")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, authz.ReasonUnknownSlug, decision.Reason)
}

func TestRevokeRoleInvalidatesCachedPermissions(t *testing.T) {
	store := memory.New()
	seedCatalog(store)
	store.PutSubject(authz.Subject{ID: 100, RoleIDs: []int64{10}})

	gate, _ := newGate(t, store, authz.DefaultOptions())

	op1 := authz.NewOperation(context.Background())
	decision, err := gate.Authorize(op1, 100, "post:update")
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	require.NoError(t, store.RevokeRole(100, 10))
	require.NoError(t, gate.OnRoleRevoked(op1, 100))

	// The hook cleared the operation cache, so even the same operation
	// refetches; a new operation must reflect the revocation regardless.
	decision, err = gate.Authorize(authz.NewOperation(context.Background()), 100, "post:update")
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	decision, err = gate.Authorize(op1, 100, "post:update")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestFilterQueryDenialWinsOverScopes(t *testing.T) {
	store := memory.New()
	seedCatalog(store)
	seedScopes(store)
	// Subject holds scopes but not the permission.
	store.PutSubject(authz.Subject{ID: 100, ScopeIDs: []int64{4}})

	opts := authz.DefaultOptions()
	opts.EmptyStrategy = authz.EmptyIgnore
	gate, _ := newGate(t, store, opts)

	q := authz.NewSQLQuery()
	require.NoError(t, gate.FilterQuery(context.Background(), 100, "post:update", q))

	clause, _ := q.Build()
	require.Equal(t, "WHERE 1 = 0", clause)
}

func TestFilterQueryPersonalScope(t *testing.T) {
	store := memory.New()
	seedCatalog(store)
	seedScopes(store)
	store.PutSubject(authz.Subject{ID: 200, RoleIDs: []int64{11}, ScopeIDs: []int64{1}})

	gate, _ := newGate(t, store, authz.DefaultOptions())

	q := authz.NewSQLQuery()
	require.NoError(t, gate.FilterQuery(authz.NewOperation(context.Background()), 200, "post:view", q))

	clause, args := q.Build()
	require.Equal(t, "WHERE created_by = $1", clause)
	require.Equal(t, []any{int64(200)}, args)
}

func TestFilterQueryAdminUntouched(t *testing.T) {
	store := memory.New()
	seedCatalog(store)
	store.PutSubject(authz.Subject{ID: 1, Admin: true})

	gate, _ := newGate(t, store, authz.DefaultOptions())

	q := authz.NewSQLQuery()
	require.NoError(t, gate.FilterQuery(context.Background(), 1, "post:view", q))
	require.True(t, q.Empty())
}

func TestFilterQueryEmptyScopesDeny(t *testing.T) {
	store := memory.New()
	seedCatalog(store)
	store.PutSubject(authz.Subject{ID: 100, RoleIDs: []int64{11}})

	gate, _ := newGate(t, store, authz.DefaultOptions())

	q := authz.NewSQLQuery()
	require.NoError(t, gate.FilterQuery(authz.NewOperation(context.Background()), 100, "post:view", q))

	clause, _ := q.Build()
	require.Equal(t, "WHERE 1 = 0", clause, "permission held but no scopes granted must deny by default")
}

func TestFilterQueryEmptyScopesIgnore(t *testing.T) {
	store := memory.New()
	seedCatalog(store)
	store.PutSubject(authz.Subject{ID: 100, RoleIDs: []int64{11}})

	opts := authz.DefaultOptions()
	opts.EmptyStrategy = authz.EmptyIgnore
	gate, _ := newGate(t, store, opts)

	q := authz.NewSQLQuery()
	require.NoError(t, gate.FilterQuery(authz.NewOperation(context.Background()), 100, "post:view", q))
	require.True(t, q.Empty())
}

func TestFilterQueryFromContext(t *testing.T) {
	store := memory.New()
	seedCatalog(store)
	seedScopes(store)
	store.PutSubject(authz.Subject{ID: 200, RoleIDs: []int64{11}, ScopeIDs: []int64{1}})

	gate, observer := newGate(t, store, authz.DefaultOptions())

	// Without a current permission the engine fails open and counts the gap.
	q := authz.NewSQLQuery()
	require.NoError(t, gate.FilterQueryFromContext(context.Background(), 200, q))
	require.True(t, q.Empty())
	require.Equal(t, 1, observer.ambiguous)

	ctx := gate.RequireCurrentPermission(authz.NewOperation(context.Background()), "post:view")
	q = authz.NewSQLQuery()
	require.NoError(t, gate.FilterQueryFromContext(ctx, 200, q))
	clause, _ := q.Build()
	require.Equal(t, "WHERE created_by = $1", clause)
}

type failingStore struct {
	*memory.Store
}

var errStoreDown = errors.New("store down")

func (f *failingStore) RolePermissions(ctx context.Context, roleID int64) ([]authz.Permission, error) {
	return nil, errStoreDown
}

func TestPersistenceFailureFailsClosed(t *testing.T) {
	store := memory.New()
	seedCatalog(store)
	store.PutSubject(authz.Subject{ID: 100, RoleIDs: []int64{10}})

	observer := &recordingObserver{}
	gate, err := authz.New(authz.Config{
		Provider: store,
		Store:    &failingStore{Store: store},
		Options:  authz.DefaultOptions(),
		Observer: observer,
	})
	require.NoError(t, err)

	decision, err := gate.Authorize(context.Background(), 100, "post:update")
	require.ErrorIs(t, err, errStoreDown)
	require.False(t, decision.Allowed)
	require.Equal(t, authz.ReasonStoreFailure, decision.Reason)

	q := authz.NewSQLQuery()
	err = gate.FilterQuery(context.Background(), 100, "post:update", q)
	require.ErrorIs(t, err, errStoreDown)
	clause, _ := q.Build()
	require.Equal(t, "WHERE 1 = 0", clause)
}

func TestCanAccessPointCheck(t *testing.T) {
	store := memory.New()
	seedCatalog(store)
	seedScopes(store)
	store.PutSubject(authz.Subject{ID: 200, RoleIDs: []int64{11}, ScopeIDs: []int64{1}})
	store.PutSubject(authz.Subject{ID: 1, Admin: true})

	gate, _ := newGate(t, store, authz.DefaultOptions())
	ctx := authz.NewOperation(context.Background())

	ok, err := gate.CanAccess(ctx, 200, "post:view", authz.ResourceRef{OwnerID: 200})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = gate.CanAccess(ctx, 200, "post:view", authz.ResourceRef{OwnerID: 300})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = gate.CanAccess(ctx, 1, "post:view", authz.ResourceRef{OwnerID: 300})
	require.NoError(t, err)
	require.True(t, ok)

	// Denied permission always loses, scopes never rescue it.
	ok, err = gate.CanAccess(ctx, 200, "post:update", authz.ResourceRef{OwnerID: 200})
	require.NoError(t, err)
	require.False(t, ok)
}
