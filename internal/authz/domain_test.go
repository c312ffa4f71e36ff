package authz_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scopeguard/scopeguard/internal/authz"
)

func TestParseSlug(t *testing.T) {
	resource, action, err := authz.ParseSlug("order:view")
	require.NoError(t, err)
	require.Equal(t, "order", resource)
	require.Equal(t, authz.ActionView, action)

	_, _, err = authz.ParseSlug("order")
	require.Error(t, err)
	_, _, err = authz.ParseSlug(":view")
	require.Error(t, err)
}

func TestPermissionPredicates(t *testing.T) {
	update := authz.Permission{Slug: "post:update", Action: authz.ActionUpdate}
	require.True(t, update.IsWrite())
	require.True(t, update.IsGeneral())
	require.False(t, update.IsInstance())

	view := authz.Permission{Slug: "post:view", Action: authz.ActionView}
	require.False(t, view.IsWrite())

	instance := authz.Permission{Slug: "post:update:42", Action: authz.ActionUpdate}
	require.True(t, instance.IsInstance())
	require.False(t, instance.IsGeneral())

	for _, action := range []authz.Action{authz.ActionCreate, authz.ActionDelete, authz.ActionImport, authz.ActionApprove, authz.ActionReject} {
		require.True(t, action.IsWrite(), string(action))
	}
	for _, action := range []authz.Action{authz.ActionView, authz.ActionExport, authz.ActionManage, authz.ActionConfigure} {
		require.False(t, action.IsWrite(), string(action))
	}
}
