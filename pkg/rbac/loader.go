package rbac

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RoleFile is the on-disk shape of a custom role definition file.
type RoleFile struct {
	Roles []*RoleDefinition `yaml:"roles"`
}

// LoadRoleFile parses a YAML role definition file.
func LoadRoleFile(path string) (*RoleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role file: %w", err)
	}
	var file RoleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse role file %s: %w", path, err)
	}
	for _, role := range file.Roles {
		if role.Name == "" {
			return nil, fmt.Errorf("role file %s: role with empty name", path)
		}
	}
	return &file, nil
}

// RegisterRoleFile loads a role file and registers every definition,
// stopping at the first invalid one. Patterns are compiled (and rejected)
// during registration, so a bad regex fails the whole load.
func RegisterRoleFile(registry *Registry, path string) (int, error) {
	file, err := LoadRoleFile(path)
	if err != nil {
		return 0, err
	}
	for i, role := range file.Roles {
		if err := registry.Register(role); err != nil {
			return i, fmt.Errorf("failed to register role %q: %w", role.Name, err)
		}
	}
	return len(file.Roles), nil
}
