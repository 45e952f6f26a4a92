// Package rbac provides role-based access control over configuration fields.
//
// # Overview
//
// Permissions (read, write, delete, export, rotate, validate, audit_view,
// audit_export, plus the "*" wildcard) are granted through field-permission
// rules: a regular expression over field names, an optional environment
// restriction, and the permission set the rule carries. Rules are grouped
// into named roles; roles may inherit from other roles, forming a DAG; roles
// are assigned to users.
//
// # Pattern Semantics
//
// Field patterns match from the start of the field name: a pattern applies
// if it matches a prefix, not necessarily the whole name. ".*" matches every
// field and "^log_.*" matches any field starting with "log_". Exclusions
// (for rules like "everything except secret-like fields") live in a separate
// ExcludePattern searched anywhere in the name, since RE2 has no negative
// lookahead. Patterns compile at registration time; a malformed regex
// rejects the role instead of failing during a match.
//
// # Built-In Roles
//
// Viewer, Operator, Developer, Admin, SecurityAdmin and SuperAdmin are
// seeded into every Registry. Developer is the environment-scoped one: full
// read/write in development, test and staging, restricted read in
// production, secret-like fields excluded there entirely.
//
// # Evaluation
//
// AccessControl resolves a user's roles, then each role's effective rules
// from the Registry. Resolution is lazy: re-registering a parent role is
// visible to children on the next check, with no cached snapshot of the
// inheritance chain (the decision LRU has a short TTL and is invalidated on
// assignment changes). Global permissions dominate; a role-wide grant skips
// field evaluation. Every denial through EnforceFieldAccess emits exactly
// one AccessDenied audit event before the error is returned.
//
// # Assignment Stores
//
// MemoryAssignmentStore serves single-process deployments;
// RedisAssignmentStore shares assignments across processes using one Redis
// set per user.
package rbac
