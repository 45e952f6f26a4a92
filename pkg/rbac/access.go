package rbac

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/confgate/pkg/audit"
	"github.com/platinummonkey/confgate/pkg/observability"
)

// ErrPermissionDenied is returned when a caller lacks the required permission.
// The denial has already been audited by the time callers see this error.
var ErrPermissionDenied = errors.New("permission denied")

// Entry is one named configuration value. Filter operations take and return
// slices of entries so the caller's ordering survives; Go maps would not
// preserve it.
type Entry struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// AccessSummary describes what a user can do in an environment. Patterns are
// reported as written in the role definitions, not expanded to field names.
type AccessSummary struct {
	UserID            string       `json:"user_id"`
	Environment       string       `json:"environment"`
	Roles             []string     `json:"roles"`
	ReadablePatterns  []string     `json:"readable_patterns"`
	WritablePatterns  []string     `json:"writable_patterns"`
	GlobalPermissions []Permission `json:"global_permissions"`
}

// AccessControl answers "can user U do permission P on field F in environment
// E" by resolving the user's roles, then their effective permissions from the
// registry. Decisions are cached in a TTL'd LRU; mutate assignments through
// the facade so the cache is invalidated.
type AccessControl struct {
	registry    *Registry
	assignments AssignmentStore
	recorder    *audit.Recorder
	cache       *expirable.LRU[string, bool]
	metrics     *observability.Metrics
}

// AccessControlConfig configures decision caching.
type AccessControlConfig struct {
	CacheSize int           // entries; 0 disables caching
	CacheTTL  time.Duration // default 30s
}

// NewAccessControl wires the access checker. recorder must not be nil;
// metrics may be.
func NewAccessControl(registry *Registry, assignments AssignmentStore, recorder *audit.Recorder, metrics *observability.Metrics, config AccessControlConfig) *AccessControl {
	ac := &AccessControl{
		registry:    registry,
		assignments: assignments,
		recorder:    recorder,
		metrics:     metrics,
	}
	if config.CacheSize > 0 {
		ttl := config.CacheTTL
		if ttl == 0 {
			ttl = 30 * time.Second
		}
		ac.cache = expirable.NewLRU[string, bool](config.CacheSize, nil, ttl)
	}
	return ac
}

func cacheKey(userID, fieldName string, required Permission, environment string) string {
	return strings.Join([]string{userID, fieldName, string(required), environment}, "\x00")
}

// CheckFieldAccess reports whether the user may perform the permission on the
// field in the environment. Users with no roles are denied everything.
func (ac *AccessControl) CheckFieldAccess(ctx context.Context, userID, fieldName string, required Permission, environment string) (bool, error) {
	start := time.Now()

	key := cacheKey(userID, fieldName, required, environment)
	if ac.cache != nil {
		if allowed, ok := ac.cache.Get(key); ok {
			if ac.metrics != nil {
				ac.metrics.DecisionCacheHits.Inc()
			}
			return allowed, nil
		}
		if ac.metrics != nil {
			ac.metrics.DecisionCacheMisses.Inc()
		}
	}

	allowed, err := ac.evaluate(ctx, userID, fieldName, required, environment)
	if err != nil {
		return false, err
	}

	if ac.cache != nil {
		ac.cache.Add(key, allowed)
	}
	if ac.metrics != nil {
		ac.metrics.AccessChecksTotal.WithLabelValues(string(required), environment, strconv.FormatBool(allowed)).Inc()
		ac.metrics.AccessCheckDuration.WithLabelValues(string(required)).Observe(time.Since(start).Seconds())
	}
	return allowed, nil
}

func (ac *AccessControl) evaluate(ctx context.Context, userID, fieldName string, required Permission, environment string) (bool, error) {
	roles, err := ac.assignments.Roles(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve roles for user %s: %w", userID, err)
	}

	// Global permissions dominate: any held role granting the permission
	// role-wide skips field evaluation entirely.
	for _, role := range roles {
		if containsPermission(ac.registry.EffectiveGlobalPermissions(role), required) {
			return true, nil
		}
	}

	for _, role := range roles {
		for _, fp := range ac.registry.EffectivePermissions(role) {
			if fp.Grants(fieldName, required, environment) {
				return true, nil
			}
		}
	}
	return false, nil
}

// EnforceFieldAccess performs the check before any value is touched and, on
// denial, emits exactly one AccessDenied audit event and returns
// ErrPermissionDenied.
func (ac *AccessControl) EnforceFieldAccess(ctx context.Context, rc audit.RequestContext, fieldName string, required Permission) error {
	allowed, err := ac.CheckFieldAccess(ctx, rc.UserID, fieldName, required, rc.Environment)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}

	roles, rolesErr := ac.assignments.Roles(ctx, rc.UserID)
	if rolesErr != nil {
		roles = nil
	}
	ac.recorder.AccessDenied(ctx, rc, fieldName, string(required), roles)
	if ac.metrics != nil {
		ac.metrics.AccessDeniedTotal.WithLabelValues(string(required), rc.Environment).Inc()
	}
	return fmt.Errorf("user %s lacks %s on %q in %s: %w", rc.UserID, required, fieldName, rc.Environment, ErrPermissionDenied)
}

// FilterReadable returns the subset of entries the user may read, preserving
// input order.
func (ac *AccessControl) FilterReadable(ctx context.Context, userID string, entries []Entry, environment string) ([]Entry, error) {
	return ac.filter(ctx, userID, entries, PermissionRead, environment)
}

// FilterWritable returns the subset of entries the user may write, preserving
// input order.
func (ac *AccessControl) FilterWritable(ctx context.Context, userID string, entries []Entry, environment string) ([]Entry, error) {
	return ac.filter(ctx, userID, entries, PermissionWrite, environment)
}

func (ac *AccessControl) filter(ctx context.Context, userID string, entries []Entry, required Permission, environment string) ([]Entry, error) {
	filtered := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		allowed, err := ac.CheckFieldAccess(ctx, userID, entry.Name, required, environment)
		if err != nil {
			return nil, err
		}
		if allowed {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

// UserAccessSummary aggregates the user's held roles, their readable and
// writable field patterns, and global permissions for an environment.
func (ac *AccessControl) UserAccessSummary(ctx context.Context, userID, environment string) (*AccessSummary, error) {
	roles, err := ac.assignments.Roles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve roles for user %s: %w", userID, err)
	}

	summary := &AccessSummary{
		UserID:      userID,
		Environment: environment,
		Roles:       roles,
	}

	seenReadable := make(map[string]bool)
	seenWritable := make(map[string]bool)
	seenGlobal := make(map[Permission]bool)

	for _, role := range roles {
		for _, fp := range ac.registry.EffectivePermissions(role) {
			if !fp.environmentMatches(environment) {
				continue
			}
			if containsPermission(fp.Permissions, PermissionRead) && !seenReadable[fp.FieldPattern] {
				seenReadable[fp.FieldPattern] = true
				summary.ReadablePatterns = append(summary.ReadablePatterns, fp.FieldPattern)
			}
			if containsPermission(fp.Permissions, PermissionWrite) && !seenWritable[fp.FieldPattern] {
				seenWritable[fp.FieldPattern] = true
				summary.WritablePatterns = append(summary.WritablePatterns, fp.FieldPattern)
			}
		}
		for _, p := range ac.registry.EffectiveGlobalPermissions(role) {
			if !seenGlobal[p] {
				seenGlobal[p] = true
				summary.GlobalPermissions = append(summary.GlobalPermissions, p)
			}
		}
	}
	return summary, nil
}

// CheckGlobalPermission reports whether any held role grants the permission
// role-wide.
func (ac *AccessControl) CheckGlobalPermission(ctx context.Context, userID string, required Permission) (bool, error) {
	roles, err := ac.assignments.Roles(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve roles for user %s: %w", userID, err)
	}
	for _, role := range roles {
		if containsPermission(ac.registry.EffectiveGlobalPermissions(role), required) {
			return true, nil
		}
	}
	return false, nil
}

// InvalidateUser drops cached decisions for a user after their assignments
// change.
func (ac *AccessControl) InvalidateUser(userID string) {
	if ac.cache == nil {
		return
	}
	prefix := userID + "\x00"
	for _, key := range ac.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			ac.cache.Remove(key)
		}
	}
}

// InvalidateAll drops every cached decision, e.g. after a role re-registration.
func (ac *AccessControl) InvalidateAll() {
	if ac.cache == nil {
		return
	}
	ac.cache.Purge()
}
