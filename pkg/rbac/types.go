package rbac

import (
	"regexp"
)

// Permission represents a capability on configuration fields
type Permission string

const (
	PermissionRead        Permission = "read"
	PermissionWrite       Permission = "write"
	PermissionDelete      Permission = "delete"
	PermissionExport      Permission = "export"
	PermissionRotate      Permission = "rotate"
	PermissionValidate    Permission = "validate"
	PermissionAuditView   Permission = "audit_view"
	PermissionAuditExport Permission = "audit_export"

	// PermissionAll is a wildcard that satisfies every permission check
	PermissionAll Permission = "*"
)

// Satisfies reports whether holding p satisfies a check for required.
func (p Permission) Satisfies(required Permission) bool {
	return p == required || p == PermissionAll
}

// containsPermission reports whether any permission in the set satisfies required.
func containsPermission(perms []Permission, required Permission) bool {
	for _, p := range perms {
		if p.Satisfies(required) {
			return true
		}
	}
	return false
}

// FieldPermission grants a set of permissions on configuration fields whose
// names match FieldPattern. The pattern is a regular expression evaluated with
// match-from-start semantics: it matches if it matches a prefix of the field
// name, not necessarily the whole name. Pattern ".*" therefore matches every
// field and "^log_.*" matches any field starting with "log_".
//
// ExcludePattern, when set, is searched (not anchored) against the field name;
// a hit makes the rule not apply. Go's RE2 engine has no negative lookahead,
// so exclusions are a separate pattern rather than embedded in FieldPattern.
//
// An empty Environments list means the rule applies in all environments.
type FieldPermission struct {
	FieldPattern   string       `json:"field_pattern" yaml:"field_pattern"`
	ExcludePattern string       `json:"exclude_pattern,omitempty" yaml:"exclude_pattern,omitempty"`
	Permissions    []Permission `json:"permissions" yaml:"permissions"`
	Environments   []string     `json:"environments,omitempty" yaml:"environments,omitempty"`

	// Compiled at registration time; nil until the rule passes through
	// Registry.Register or compile().
	re        *regexp.Regexp
	excludeRe *regexp.Regexp
}

// compile validates and compiles the rule's patterns. Malformed patterns fail
// here, at role-registration time, never during a match.
func (fp *FieldPermission) compile() error {
	re, err := compilePrefixPattern(fp.FieldPattern)
	if err != nil {
		return err
	}
	fp.re = re

	if fp.ExcludePattern != "" {
		excludeRe, err := regexp.Compile(fp.ExcludePattern)
		if err != nil {
			return err
		}
		fp.excludeRe = excludeRe
	}
	return nil
}

// Matches reports whether this rule applies to the given field in the given
// environment.
func (fp *FieldPermission) Matches(fieldName, environment string) bool {
	return MatchField(fp.re, fp.excludeRe, fieldName) && fp.environmentMatches(environment)
}

func (fp *FieldPermission) environmentMatches(environment string) bool {
	if len(fp.Environments) == 0 {
		return true
	}
	for _, env := range fp.Environments {
		if env == environment {
			return true
		}
	}
	return false
}

// Grants reports whether this rule applies to field/environment and carries
// the required permission (or the wildcard).
func (fp *FieldPermission) Grants(fieldName string, required Permission, environment string) bool {
	return fp.Matches(fieldName, environment) && containsPermission(fp.Permissions, required)
}

// RoleDefinition is an immutable named set of field-permission rules plus
// role-wide global permissions. Roles form a DAG through InheritsFrom;
// effective permissions are resolved lazily by the Registry so re-registering
// a parent is reflected in all children on the next resolution.
type RoleDefinition struct {
	Name              string            `json:"name" yaml:"name"`
	Description       string            `json:"description" yaml:"description"`
	FieldPermissions  []FieldPermission `json:"field_permissions" yaml:"field_permissions"`
	GlobalPermissions []Permission      `json:"global_permissions,omitempty" yaml:"global_permissions,omitempty"`
	InheritsFrom      []string          `json:"inherits_from,omitempty" yaml:"inherits_from,omitempty"`
}

// Built-in role names seeded at registry construction
const (
	RoleViewer        = "viewer"
	RoleOperator      = "operator"
	RoleDeveloper     = "developer"
	RoleAdmin         = "admin"
	RoleSecurityAdmin = "security_admin"
	RoleSuperAdmin    = "super_admin"
)

// sensitiveFieldTerms are the name fragments that mark a configuration field
// as sensitive for the read-exclusion rules below. The audit package carries
// its own masking term list; this one feeds role patterns only.
const sensitiveFieldTerms = `(?i)(password|secret|key|token|credential|private|auth|supabase)`

// secretLikeTerms excludes secret material from Developer production reads.
const secretLikeTerms = `(?i)(secret_key|supabase_.*_key|jwt_secret|password|token|credential|auth|private)`

// securityFieldTerms scopes SecurityAdmin's full-control rule.
const securityFieldTerms = `(?i)(secret|key|token|credential|auth|password|security|csrf|rate_limit|lockout)`

// BuiltInRoles returns the role definitions seeded into every new Registry.
func BuiltInRoles() []*RoleDefinition {
	return []*RoleDefinition{
		{
			Name:        RoleViewer,
			Description: "Read-only access to non-sensitive configuration",
			FieldPermissions: []FieldPermission{
				{
					FieldPattern: `^(app_name|app_version|environment|debug|host|port|log_level)$`,
					Permissions:  []Permission{PermissionRead},
				},
				{
					FieldPattern:   `.*`,
					ExcludePattern: sensitiveFieldTerms,
					Permissions:    []Permission{PermissionRead},
				},
			},
		},
		{
			Name:         RoleOperator,
			Description:  "Operational tuning of runtime settings",
			InheritsFrom: []string{RoleViewer},
			FieldPermissions: []FieldPermission{
				{
					FieldPattern: `^(log_level|rate_limit.*|cors_.*|frontend_url)$`,
					Permissions:  []Permission{PermissionRead, PermissionWrite},
				},
				{
					FieldPattern: `.*`,
					Permissions:  []Permission{PermissionRead},
				},
			},
			GlobalPermissions: []Permission{PermissionValidate, PermissionExport},
		},
		{
			Name:        RoleDeveloper,
			Description: "Full access in non-production, restricted read in production",
			FieldPermissions: []FieldPermission{
				{
					FieldPattern: `.*`,
					Permissions:  []Permission{PermissionRead, PermissionWrite},
					Environments: []string{"development", "test", "staging"},
				},
				{
					FieldPattern:   `.*`,
					ExcludePattern: secretLikeTerms,
					Permissions:    []Permission{PermissionRead},
					Environments:   []string{"production"},
				},
				{
					FieldPattern: `^(log_level|debug|frontend_url|cors_origins)$`,
					Permissions:  []Permission{PermissionRead, PermissionWrite},
				},
			},
			GlobalPermissions: []Permission{PermissionValidate, PermissionExport},
		},
		{
			Name:        RoleAdmin,
			Description: "Full read/write access to all configuration",
			FieldPermissions: []FieldPermission{
				{
					FieldPattern: `.*`,
					Permissions:  []Permission{PermissionRead, PermissionWrite, PermissionExport},
				},
			},
			GlobalPermissions: []Permission{PermissionValidate, PermissionExport, PermissionAuditView},
		},
		{
			Name:         RoleSecurityAdmin,
			Description:  "Admin plus full control of security-related fields and audit access",
			InheritsFrom: []string{RoleAdmin},
			FieldPermissions: []FieldPermission{
				{
					FieldPattern: `.*` + securityFieldTerms,
					Permissions:  []Permission{PermissionAll},
				},
			},
			GlobalPermissions: []Permission{PermissionRotate, PermissionAuditView, PermissionAuditExport},
		},
		{
			Name:        RoleSuperAdmin,
			Description: "Unrestricted access to all fields and operations",
			FieldPermissions: []FieldPermission{
				{
					FieldPattern: `.*`,
					Permissions:  []Permission{PermissionAll},
				},
			},
			GlobalPermissions: []Permission{PermissionAll},
		},
	}
}
