package configctl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/confgate/pkg/audit"
	"github.com/platinummonkey/confgate/pkg/observability"
	"github.com/platinummonkey/confgate/pkg/rbac"
	"github.com/platinummonkey/confgate/pkg/secrets"
)

// recordingSink captures audit events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (s *recordingSink) Log(_ context.Context, event *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) all() []*audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*audit.Event(nil), s.events...)
}

func (s *recordingSink) byAction(action audit.Action) []*audit.Event {
	var out []*audit.Event
	for _, e := range s.all() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type serviceFixture struct {
	service  *Service
	settings *MapSettings
	sink     *recordingSink
	rotation *secrets.RotationManager
}

func newServiceFixture(t *testing.T, environment string) *serviceFixture {
	t.Helper()

	sink := &recordingSink{}
	logger := observability.NewLogger(observability.ErrorLevel, os.Stderr)
	recorder := audit.NewRecorder(sink, logger, nil)

	registry := rbac.NewRegistry()
	assignments := rbac.NewMemoryAssignmentStore()
	access := rbac.NewAccessControl(registry, assignments, recorder, nil, rbac.AccessControlConfig{})

	settings := NewMapSettings().
		Declare("app_name", "confgate").
		Declare("debug", false).
		DeclareValidated("log_level", "info", func(_ string, value interface{}) error {
			if _, ok := value.(string); !ok {
				return fmt.Errorf("must be a string")
			}
			return nil
		}).
		Declare("jwt_secret", "old-jwt-secret-value").
		Declare("frontend_url", "https://app.example.com")

	dir := t.TempDir()
	backend, err := secrets.NewFileBackend(filepath.Join(dir, "secrets"))
	require.NoError(t, err)
	store, err := secrets.NewStore(secrets.StoreConfig{
		MasterKey:    []byte("0123456789abcdef0123456789abcdef"),
		Backend:      backend,
		MetadataPath: filepath.Join(dir, "metadata.json"),
		KeyMetadata:  filepath.Join(dir, "keys.json"),
	})
	require.NoError(t, err)
	rotation, err := secrets.NewRotationManager(store, secrets.RotationConfig{
		StatePath: filepath.Join(dir, "rotation-status.json"),
		Grace:     time.Hour,
		Logger:    logger,
	})
	require.NoError(t, err)

	service, err := NewService(ServiceConfig{
		Registry:    registry,
		Assignments: assignments,
		Access:      access,
		Recorder:    recorder,
		Settings:    settings,
		Rotation:    rotation,
		Environment: environment,
		Logger:      logger,
	})
	require.NoError(t, err)

	return &serviceFixture{service: service, settings: settings, sink: sink, rotation: rotation}
}

var (
	viewerID = Identity{ID: "viewer-1", Email: "viewer@example.com"}
	adminID  = Identity{ID: "admin-1", Email: "admin@example.com", IsAdmin: true}
	superID  = Identity{ID: "root-1", Email: "root@example.com", IsSuperAdmin: true}
)

func TestReadEmitsOneEvent(t *testing.T) {
	fx := newServiceFixture(t, "development")
	ctx := context.Background()

	value, err := fx.service.Read(ctx, viewerID, audit.RequestContext{}, "app_name")
	require.NoError(t, err)
	assert.Equal(t, "confgate", value)

	require.Len(t, fx.sink.events, 1)
	event := fx.sink.events[0]
	assert.Equal(t, audit.ActionRead, event.Action)
	assert.Equal(t, "app_name", event.FieldName)
	assert.Equal(t, "viewer-1", event.UserID)
	assert.Equal(t, "development", event.Environment)
	assert.True(t, event.Success)
}

func TestDeniedWriteEmitsExactlyOneDenialEvent(t *testing.T) {
	fx := newServiceFixture(t, "production")
	ctx := context.Background()

	err := fx.service.Write(ctx, viewerID, audit.RequestContext{}, "jwt_secret", "new-value")
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))

	require.Len(t, fx.sink.events, 1)
	event := fx.sink.events[0]
	assert.Equal(t, audit.ActionAccessDenied, event.Action)
	assert.Equal(t, "jwt_secret", event.FieldName)
	assert.Equal(t, "write", event.Metadata["required_permission"])

	// The value is untouched.
	value, err := fx.settings.Get("jwt_secret")
	require.NoError(t, err)
	assert.Equal(t, "old-jwt-secret-value", value)
}

func TestWriteRecordsOldAndNewValues(t *testing.T) {
	fx := newServiceFixture(t, "development")
	ctx := context.Background()

	require.NoError(t, fx.service.Write(ctx, adminID, audit.RequestContext{}, "log_level", "debug"))

	writes := fx.sink.byAction(audit.ActionWrite)
	require.Len(t, writes, 1)
	assert.Equal(t, "info", writes[0].OldValue)
	assert.Equal(t, "debug", writes[0].NewValue)
	assert.True(t, writes[0].Success)

	value, err := fx.settings.Get("log_level")
	require.NoError(t, err)
	assert.Equal(t, "debug", value)
}

func TestWriteUnknownFieldAudited(t *testing.T) {
	fx := newServiceFixture(t, "development")
	ctx := context.Background()

	err := fx.service.Write(ctx, adminID, audit.RequestContext{}, "no_such_field", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFieldNotFound)

	writes := fx.sink.byAction(audit.ActionWrite)
	require.Len(t, writes, 1)
	assert.False(t, writes[0].Success)
}

func TestEnsureRolesMapsIdentityFlags(t *testing.T) {
	fx := newServiceFixture(t, "development")
	ctx := context.Background()

	// Super admin can write anything, including in production.
	fxProd := newServiceFixture(t, "production")
	require.NoError(t, fxProd.service.Write(ctx, superID, audit.RequestContext{}, "jwt_secret", "rotated"))

	// Unknown application role falls back to viewer.
	unknown := Identity{ID: "u-9", Role: "wizard"}
	_, err := fx.service.Read(ctx, unknown, audit.RequestContext{}, "app_name")
	require.NoError(t, err)
	err = fx.service.Write(ctx, unknown, audit.RequestContext{}, "log_level", "warn")
	assert.True(t, IsPermissionDenied(err))

	// A registered application role is honored.
	operator := Identity{ID: "op-1", Role: rbac.RoleOperator}
	require.NoError(t, fx.service.Write(ctx, operator, audit.RequestContext{}, "log_level", "warn"))
}

func TestReadAllFiltersAndEmitsOneEvent(t *testing.T) {
	fx := newServiceFixture(t, "production")
	ctx := context.Background()

	entries, err := fx.service.ReadAll(ctx, viewerID, audit.RequestContext{})
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	// Declaration order, minus the sensitive field.
	assert.Equal(t, []string{"app_name", "debug", "log_level", "frontend_url"}, names)

	reads := fx.sink.byAction(audit.ActionRead)
	require.Len(t, reads, 1)
	assert.Equal(t, "*", reads[0].FieldName)
}

func TestExportMasksSensitiveValues(t *testing.T) {
	fx := newServiceFixture(t, "development")
	ctx := context.Background()

	entries, err := fx.service.Export(ctx, adminID, audit.RequestContext{}, false)
	require.NoError(t, err)

	byName := make(map[string]interface{})
	for _, e := range entries {
		byName[e.Name] = e.Value
	}
	assert.Equal(t, "ol...ue", byName["jwt_secret"])
	assert.Equal(t, "confgate", byName["app_name"])

	exports := fx.sink.byAction(audit.ActionExport)
	require.Len(t, exports, 1)
}

func TestExportRequiresGlobalPermission(t *testing.T) {
	fx := newServiceFixture(t, "development")
	ctx := context.Background()

	_, err := fx.service.Export(ctx, viewerID, audit.RequestContext{}, false)
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))

	denials := fx.sink.byAction(audit.ActionAccessDenied)
	require.Len(t, denials, 1)
	assert.Equal(t, "export", denials[0].Metadata["required_permission"])
}

func TestValidateReportsDeniedAndInvalidFields(t *testing.T) {
	fx := newServiceFixture(t, "production")
	ctx := context.Background()

	operator := Identity{ID: "op-1", Role: rbac.RoleOperator}
	result, err := fx.service.Validate(ctx, operator, audit.RequestContext{}, map[string]interface{}{
		"log_level":  42,   // writable but invalid
		"jwt_secret": "x",  // not writable for operator
		"debug":      true, // not writable for operator
	})
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors, "log_level")
	assert.ElementsMatch(t, []string{"jwt_secret", "debug"}, result.DeniedFields)

	validations := fx.sink.byAction(audit.ActionValidate)
	require.Len(t, validations, 1)
	assert.Equal(t, 3, validations[0].Metadata["field_count"])
}

func TestRotateRequiresRotatePermission(t *testing.T) {
	fx := newServiceFixture(t, "development")
	ctx := context.Background()

	_, err := fx.service.Rotate(ctx, adminID, audit.RequestContext{}, "jwt_secret", "new-value")
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))
}

func TestRotateLifecycleThroughService(t *testing.T) {
	fx := newServiceFixture(t, "development")
	ctx := context.Background()

	status, err := fx.service.Rotate(ctx, superID, audit.RequestContext{}, "jwt_secret", "first-value")
	require.NoError(t, err)
	assert.Equal(t, secrets.RotationCompleted, status.State)

	status, err = fx.service.Rotate(ctx, superID, audit.RequestContext{}, "jwt_secret", "second-value")
	require.NoError(t, err)
	assert.Equal(t, secrets.RotationGracePeriod, status.State)

	status, err = fx.service.CompleteRotation(ctx, superID, audit.RequestContext{}, "jwt_secret")
	require.NoError(t, err)
	assert.Equal(t, secrets.RotationCompleted, status.State)

	rotates := fx.sink.byAction(audit.ActionRotate)
	assert.Len(t, rotates, 3)
}

func TestRoleManagementRequiresAdminFlag(t *testing.T) {
	fx := newServiceFixture(t, "development")
	ctx := context.Background()

	err := fx.service.AssignRole(ctx, viewerID, audit.RequestContext{}, "other-user", rbac.RoleOperator)
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))

	require.NoError(t, fx.service.AssignRole(ctx, adminID, audit.RequestContext{}, "other-user", rbac.RoleOperator))

	err = fx.service.AssignRole(ctx, adminID, audit.RequestContext{}, "other-user", "no_such_role")
	assert.Error(t, err)

	updates := fx.sink.byAction(audit.ActionUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "role_assigned", updates[0].Metadata["change"])
	assert.Equal(t, "other-user", updates[0].Metadata["target_user"])

	require.NoError(t, fx.service.RevokeRole(ctx, adminID, audit.RequestContext{}, "other-user", rbac.RoleOperator))
}

func TestCreateCustomRole(t *testing.T) {
	fx := newServiceFixture(t, "development")
	ctx := context.Background()

	role := &rbac.RoleDefinition{
		Name: "support",
		FieldPermissions: []rbac.FieldPermission{
			{FieldPattern: "^frontend_url$", Permissions: []rbac.Permission{rbac.PermissionRead, rbac.PermissionWrite}},
		},
	}
	require.NoError(t, fx.service.CreateCustomRole(ctx, adminID, audit.RequestContext{}, role))

	support := Identity{ID: "sup-1", Role: "support"}
	require.NoError(t, fx.service.Write(ctx, support, audit.RequestContext{}, "frontend_url", "https://support.example.com"))
	err := fx.service.Write(ctx, support, audit.RequestContext{}, "debug", true)
	assert.True(t, IsPermissionDenied(err))
}

func TestAccessSummaryThroughService(t *testing.T) {
	fx := newServiceFixture(t, "production")
	ctx := context.Background()

	summary, err := fx.service.AccessSummary(ctx, viewerID, audit.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, []string{rbac.RoleViewer}, summary.Roles)
	assert.Empty(t, summary.WritablePatterns)
}
