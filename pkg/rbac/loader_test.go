package rbac

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRoleFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRegisterRoleFile(t *testing.T) {
	path := writeRoleFile(t, `
roles:
  - name: deploy_bot
    description: CI deployment automation
    field_permissions:
      - field_pattern: "^(feature_flags_.*|deploy_.*)$"
        permissions: [read, write]
        environments: [staging, production]
    global_permissions: [validate]
  - name: support
    description: Support staff
    inherits_from: [viewer]
    field_permissions:
      - field_pattern: "^support_"
        permissions: [read, write]
`)

	registry := NewRegistry()
	count, err := RegisterRoleFile(registry, path)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	role, ok := registry.Get("deploy_bot")
	require.True(t, ok)
	assert.Equal(t, []Permission{PermissionValidate}, role.GlobalPermissions)
	require.Len(t, role.FieldPermissions, 1)
	assert.True(t, role.FieldPermissions[0].Grants("deploy_target", PermissionWrite, "staging"))
	assert.False(t, role.FieldPermissions[0].Grants("deploy_target", PermissionWrite, "development"))

	// Inheritance from a built-in role resolves.
	effective := registry.EffectivePermissions("support")
	assert.Greater(t, len(effective), 1)
}

func TestRegisterRoleFileRejectsBadPattern(t *testing.T) {
	path := writeRoleFile(t, `
roles:
  - name: good
    field_permissions:
      - field_pattern: "^ok_"
        permissions: [read]
  - name: broken
    field_permissions:
      - field_pattern: "(unclosed"
        permissions: [read]
`)

	registry := NewRegistry()
	count, err := RegisterRoleFile(registry, path)
	require.Error(t, err)
	assert.Equal(t, 1, count)

	_, ok := registry.Get("good")
	assert.True(t, ok)
	_, ok = registry.Get("broken")
	assert.False(t, ok)
}

func TestLoadRoleFileErrors(t *testing.T) {
	_, err := LoadRoleFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeRoleFile(t, "roles: [nope")
	_, err = LoadRoleFile(path)
	assert.Error(t, err)

	path = writeRoleFile(t, `
roles:
  - description: nameless
    field_permissions: []
`)
	_, err = LoadRoleFile(path)
	assert.Error(t, err)
}
