package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAssignmentStore(t *testing.T) {
	store := NewMemoryAssignmentStore()
	ctx := context.Background()

	roles, err := store.Roles(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, roles)

	require.NoError(t, store.Assign(ctx, "u1", RoleOperator))
	require.NoError(t, store.Assign(ctx, "u1", RoleDeveloper))
	require.NoError(t, store.Assign(ctx, "u1", RoleOperator)) // idempotent

	roles, err = store.Roles(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{RoleDeveloper, RoleOperator}, roles)

	held, err := store.HasRole(ctx, "u1", RoleOperator)
	require.NoError(t, err)
	assert.True(t, held)

	held, err = store.HasRole(ctx, "u1", RoleAdmin)
	require.NoError(t, err)
	assert.False(t, held)

	require.NoError(t, store.Revoke(ctx, "u1", RoleOperator))
	require.NoError(t, store.Revoke(ctx, "u1", RoleAdmin)) // no-op

	roles, err = store.Roles(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{RoleDeveloper}, roles)
}

func TestMemoryAssignmentStoreIsolatesUsers(t *testing.T) {
	store := NewMemoryAssignmentStore()
	ctx := context.Background()

	require.NoError(t, store.Assign(ctx, "u1", RoleViewer))
	require.NoError(t, store.Assign(ctx, "u2", RoleAdmin))

	roles, err := store.Roles(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{RoleViewer}, roles)

	require.NoError(t, store.Revoke(ctx, "u2", RoleAdmin))
	roles, err = store.Roles(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{RoleViewer}, roles)
}
