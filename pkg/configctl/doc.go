// Package configctl is the guarded facade over application
// configuration. It ties role-based field access, audit recording and
// secret rotation together behind a single Service: callers present an
// Identity and a request context, and every operation checks access
// before touching state and records exactly one audit event per
// attempt.
package configctl
