package rbac

import (
	"fmt"
	"sort"
	"sync"
)

// Registry stores named role definitions. Definitions are immutable once
// registered; replacing a role by name overwrites the previous definition.
// Inheritance is resolved lazily on every EffectivePermissions call, so
// re-registering a parent changes what its children resolve to.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]*RoleDefinition
}

// NewRegistry creates a registry seeded with the built-in roles.
func NewRegistry() *Registry {
	r := &Registry{
		roles: make(map[string]*RoleDefinition),
	}
	for _, role := range BuiltInRoles() {
		// Built-in definitions are authored in this package; a compile
		// failure here is a programming error.
		if err := r.Register(role); err != nil {
			panic(fmt.Sprintf("rbac: built-in role %q: %v", role.Name, err))
		}
	}
	return r
}

// Register inserts or overwrites a role definition by name. All field
// patterns are compiled here so malformed regexes fail fast, and inheritance
// chains reachable through already-registered roles are checked for cycles.
func (r *Registry) Register(role *RoleDefinition) error {
	if role == nil || role.Name == "" {
		return fmt.Errorf("role name is required")
	}

	for i := range role.FieldPermissions {
		if err := role.FieldPermissions[i].compile(); err != nil {
			return fmt.Errorf("role %q: %w", role.Name, err)
		}
	}

	for _, parent := range role.InheritsFrom {
		if parent == role.Name {
			return fmt.Errorf("role %q inherits from itself", role.Name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkCycleLocked(role); err != nil {
		return err
	}

	r.roles[role.Name] = role
	return nil
}

// checkCycleLocked walks the inheritance graph as it would exist after
// inserting role, rejecting any path that leads back to role.Name.
// Unregistered parents are skipped; they cannot be traversed yet.
func (r *Registry) checkCycleLocked(role *RoleDefinition) error {
	var walk func(name string, visited map[string]bool) error
	walk = func(name string, visited map[string]bool) error {
		if visited[name] {
			return fmt.Errorf("role %q: inheritance cycle through %q", role.Name, name)
		}
		visited[name] = true

		def := r.roles[name]
		if name == role.Name {
			def = role
		}
		if def == nil {
			return nil
		}
		for _, parent := range def.InheritsFrom {
			if err := walk(parent, visited); err != nil {
				return err
			}
		}
		delete(visited, name)
		return nil
	}
	return walk(role.Name, make(map[string]bool))
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (*RoleDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[name]
	return role, ok
}

// Names returns all registered role names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EffectivePermissions resolves a role's full field-permission list: its own
// rules followed by all ancestors', depth-first. Duplicates are preserved;
// every rule is checked independently during access evaluation, so later
// entries never override earlier ones. Unknown role names resolve to nil.
func (r *Registry) EffectivePermissions(name string) []FieldPermission {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var perms []FieldPermission
	r.collectFieldPermissionsLocked(name, make(map[string]bool), &perms)
	return perms
}

func (r *Registry) collectFieldPermissionsLocked(name string, visited map[string]bool, out *[]FieldPermission) {
	if visited[name] {
		return
	}
	visited[name] = true

	role, ok := r.roles[name]
	if !ok {
		return
	}
	*out = append(*out, role.FieldPermissions...)
	for _, parent := range role.InheritsFrom {
		r.collectFieldPermissionsLocked(parent, visited, out)
	}
}

// EffectiveGlobalPermissions resolves a role's global permissions including
// those of all ancestors.
func (r *Registry) EffectiveGlobalPermissions(name string) []Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var perms []Permission
	r.collectGlobalPermissionsLocked(name, make(map[string]bool), &perms)
	return perms
}

func (r *Registry) collectGlobalPermissionsLocked(name string, visited map[string]bool, out *[]Permission) {
	if visited[name] {
		return
	}
	visited[name] = true

	role, ok := r.roles[name]
	if !ok {
		return
	}
	*out = append(*out, role.GlobalPermissions...)
	for _, parent := range role.InheritsFrom {
		r.collectGlobalPermissionsLocked(parent, visited, out)
	}
}
