package rbac

import (
	"context"
	"sort"
	"sync"
)

// AssignmentStore maps user identifiers to their assigned role names.
// Implementations must serialize concurrent mutations for the same user so
// assign/revoke pairs never lose updates.
type AssignmentStore interface {
	// Assign grants a role to a user. Assigning an already-held role is a
	// no-op.
	Assign(ctx context.Context, userID, roleName string) error

	// Revoke removes a role from a user. Revoking a role the user does not
	// hold is a no-op.
	Revoke(ctx context.Context, userID, roleName string) error

	// Roles returns the role names assigned to a user, sorted. A user with
	// no assignments yields an empty slice, not an error.
	Roles(ctx context.Context, userID string) ([]string, error)

	// HasRole reports whether the user holds the named role.
	HasRole(ctx context.Context, userID, roleName string) (bool, error)
}

// MemoryAssignmentStore is the in-process AssignmentStore used when the
// parent application runs as a single process.
type MemoryAssignmentStore struct {
	mu          sync.RWMutex
	assignments map[string]map[string]struct{}
}

// NewMemoryAssignmentStore creates an empty in-memory assignment store.
func NewMemoryAssignmentStore() *MemoryAssignmentStore {
	return &MemoryAssignmentStore{
		assignments: make(map[string]map[string]struct{}),
	}
}

// Assign grants a role to a user.
func (s *MemoryAssignmentStore) Assign(ctx context.Context, userID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roles, ok := s.assignments[userID]
	if !ok {
		roles = make(map[string]struct{})
		s.assignments[userID] = roles
	}
	roles[roleName] = struct{}{}
	return nil
}

// Revoke removes a role from a user.
func (s *MemoryAssignmentStore) Revoke(ctx context.Context, userID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if roles, ok := s.assignments[userID]; ok {
		delete(roles, roleName)
		if len(roles) == 0 {
			delete(s.assignments, userID)
		}
	}
	return nil
}

// Roles returns the sorted role names assigned to a user.
func (s *MemoryAssignmentStore) Roles(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]string, 0, len(s.assignments[userID]))
	for name := range s.assignments[userID] {
		roles = append(roles, name)
	}
	sort.Strings(roles)
	return roles, nil
}

// HasRole reports whether the user holds the named role.
func (s *MemoryAssignmentStore) HasRole(ctx context.Context, userID, roleName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.assignments[userID][roleName]
	return ok, nil
}
