package configctl

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/confgate/pkg/audit"
	"github.com/platinummonkey/confgate/pkg/observability"
	"github.com/platinummonkey/confgate/pkg/rbac"
	"github.com/platinummonkey/confgate/pkg/secrets"
)

// Service is the guarded front door to configuration state. Every
// operation resolves the caller's roles, checks access, performs the
// operation only when allowed, and records exactly one audit event for
// the attempt.
type Service struct {
	registry    *rbac.Registry
	assignments rbac.AssignmentStore
	access      *rbac.AccessControl
	recorder    *audit.Recorder
	settings    Settings
	rotation    *secrets.RotationManager
	environment string
	logger      *observability.Logger
	tracer      trace.Tracer
}

// ServiceConfig wires a Service. Registry, Assignments, Access,
// Recorder and Settings are required; Rotation may be nil when secret
// rotation is not configured.
type ServiceConfig struct {
	Registry    *rbac.Registry
	Assignments rbac.AssignmentStore
	Access      *rbac.AccessControl
	Recorder    *audit.Recorder
	Settings    Settings
	Rotation    *secrets.RotationManager
	Environment string
	Logger      *observability.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Registry == nil:
		return nil, fmt.Errorf("service requires a role registry")
	case cfg.Assignments == nil:
		return nil, fmt.Errorf("service requires an assignment store")
	case cfg.Access == nil:
		return nil, fmt.Errorf("service requires access control")
	case cfg.Recorder == nil:
		return nil, fmt.Errorf("service requires an audit recorder")
	case cfg.Settings == nil:
		return nil, fmt.Errorf("service requires settings")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, os.Stderr)
	}
	return &Service{
		registry:    cfg.Registry,
		assignments: cfg.Assignments,
		access:      cfg.Access,
		recorder:    cfg.Recorder,
		settings:    cfg.Settings,
		rotation:    cfg.Rotation,
		environment: cfg.Environment,
		logger:      logger.WithComponent("configctl"),
		tracer:      otel.Tracer(observability.TracerName),
	}, nil
}

// requestContext fills audit fields the caller left empty from the
// identity and service environment.
func (s *Service) requestContext(id Identity, rc audit.RequestContext) audit.RequestContext {
	if rc.UserID == "" {
		rc.UserID = id.ID
	}
	if rc.UserEmail == "" {
		rc.UserEmail = id.Email
	}
	if rc.Environment == "" {
		rc.Environment = s.environment
	}
	return rc
}

// ensureRoles maps the application identity onto an access-control
// role and assigns it if missing. Existing assignments are never
// revoked here; an identity that gains the admin flag keeps any roles
// it already held.
func (s *Service) ensureRoles(ctx context.Context, id Identity) error {
	target := rbac.RoleViewer
	switch {
	case id.IsSuperAdmin:
		target = rbac.RoleSuperAdmin
	case id.IsAdmin:
		target = rbac.RoleAdmin
	default:
		if id.Role != "" {
			if _, ok := s.registry.Get(id.Role); ok {
				target = id.Role
			}
		}
	}

	has, err := s.assignments.HasRole(ctx, id.ID, target)
	if err != nil {
		return fmt.Errorf("failed to resolve roles for %s: %w", id.ID, err)
	}
	if has {
		return nil
	}
	if err := s.assignments.Assign(ctx, id.ID, target); err != nil {
		return fmt.Errorf("failed to assign role %s to %s: %w", target, id.ID, err)
	}
	s.access.InvalidateUser(id.ID)
	s.logger.WithFields(map[string]interface{}{
		"user_id": id.ID,
		"role":    target,
	}).Debug("assigned default role")
	return nil
}

// Read returns a single field value. Denied access produces one
// access_denied audit event; a permitted read produces one read event.
func (s *Service) Read(ctx context.Context, id Identity, rc audit.RequestContext, field string) (interface{}, error) {
	ctx, span := s.tracer.Start(ctx, "configctl.Read",
		trace.WithAttributes(attribute.String("config.field", field)))
	defer span.End()

	rc = s.requestContext(id, rc)
	if err := s.ensureRoles(ctx, id); err != nil {
		return nil, err
	}
	if err := s.access.EnforceFieldAccess(ctx, rc, field, rbac.PermissionRead); err != nil {
		return nil, err
	}

	value, err := s.settings.Get(field)
	s.recorder.Read(ctx, rc, field, err == nil, errMessage(err))
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Write updates a single field. The audit event carries old and new
// values; sensitive fields are masked at serialization time.
func (s *Service) Write(ctx context.Context, id Identity, rc audit.RequestContext, field string, value interface{}) error {
	ctx, span := s.tracer.Start(ctx, "configctl.Write",
		trace.WithAttributes(attribute.String("config.field", field)))
	defer span.End()

	rc = s.requestContext(id, rc)
	if err := s.ensureRoles(ctx, id); err != nil {
		return err
	}
	if err := s.access.EnforceFieldAccess(ctx, rc, field, rbac.PermissionWrite); err != nil {
		return err
	}

	old, getErr := s.settings.Get(field)
	if getErr != nil {
		s.recorder.Write(ctx, rc, field, nil, value, false, errMessage(getErr))
		return getErr
	}

	err := s.settings.Set(field, value)
	s.recorder.Write(ctx, rc, field, old, value, err == nil, errMessage(err))
	return err
}

// ReadAll returns every field the caller may read, in declaration
// order. Emits one read event covering the batch.
func (s *Service) ReadAll(ctx context.Context, id Identity, rc audit.RequestContext) ([]rbac.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "configctl.ReadAll")
	defer span.End()

	rc = s.requestContext(id, rc)
	if err := s.ensureRoles(ctx, id); err != nil {
		return nil, err
	}

	entries, err := s.allEntries()
	if err != nil {
		return nil, err
	}
	readable, err := s.access.FilterReadable(ctx, rc.UserID, entries, rc.Environment)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("config.fields", len(readable)))
	s.recorder.Read(ctx, rc, "*", true, "")
	return readable, nil
}

// Export returns readable fields for external consumption. Without
// includeSensitive, sensitive values are masked. Requires the export
// global permission.
func (s *Service) Export(ctx context.Context, id Identity, rc audit.RequestContext, includeSensitive bool) ([]rbac.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "configctl.Export",
		trace.WithAttributes(attribute.Bool("export.include_sensitive", includeSensitive)))
	defer span.End()

	rc = s.requestContext(id, rc)
	if err := s.ensureRoles(ctx, id); err != nil {
		return nil, err
	}
	if err := s.enforceGlobal(ctx, rc, rbac.PermissionExport); err != nil {
		return nil, err
	}

	entries, err := s.allEntries()
	if err != nil {
		return nil, err
	}
	readable, err := s.access.FilterReadable(ctx, rc.UserID, entries, rc.Environment)
	if err != nil {
		return nil, err
	}

	if !includeSensitive {
		for i := range readable {
			if audit.IsSensitiveField(readable[i].Name) {
				readable[i].Value = audit.MaskValue(readable[i].Value)
			}
		}
	}

	s.recorder.Export(ctx, rc, includeSensitive, len(readable))
	return readable, nil
}

// ValidationResult reports the outcome of a dry-run update batch.
type ValidationResult struct {
	Valid        bool              `json:"valid"`
	Errors       map[string]string `json:"errors,omitempty"`
	DeniedFields []string          `json:"denied_fields,omitempty"`
}

// Validate dry-runs a batch of updates: fields the caller cannot write
// are reported in DeniedFields rather than failing the call, and
// validator rejections land in Errors. Nothing is applied.
func (s *Service) Validate(ctx context.Context, id Identity, rc audit.RequestContext, updates map[string]interface{}) (*ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "configctl.Validate",
		trace.WithAttributes(attribute.Int("config.fields", len(updates))))
	defer span.End()

	rc = s.requestContext(id, rc)
	if err := s.ensureRoles(ctx, id); err != nil {
		return nil, err
	}

	result := &ValidationResult{Valid: true, Errors: make(map[string]string)}
	for field, value := range updates {
		allowed, err := s.access.CheckFieldAccess(ctx, rc.UserID, field, rbac.PermissionWrite, rc.Environment)
		if err != nil {
			return nil, err
		}
		if !allowed {
			result.DeniedFields = append(result.DeniedFields, field)
			result.Valid = false
			continue
		}
		if err := s.settings.Validate(field, value); err != nil {
			result.Errors[field] = err.Error()
			result.Valid = false
		}
	}

	s.recorder.Validate(ctx, rc, result.Valid, map[string]interface{}{
		"field_count":   len(updates),
		"denied_fields": len(result.DeniedFields),
		"error_count":   len(result.Errors),
	})
	return result, nil
}

// Rotate starts a secret rotation. Requires the rotate global
// permission and a configured rotation manager.
func (s *Service) Rotate(ctx context.Context, id Identity, rc audit.RequestContext, secretName, newValue string) (*secrets.RotationStatus, error) {
	ctx, span := s.tracer.Start(ctx, "configctl.Rotate",
		trace.WithAttributes(attribute.String("secret.name", secretName)))
	defer span.End()

	rc = s.requestContext(id, rc)
	if err := s.ensureRoles(ctx, id); err != nil {
		return nil, err
	}
	if err := s.enforceGlobal(ctx, rc, rbac.PermissionRotate); err != nil {
		return nil, err
	}
	if s.rotation == nil {
		err := fmt.Errorf("secret rotation is not configured")
		s.recorder.Rotate(ctx, rc, secretName, false, err.Error())
		return nil, err
	}

	status, err := s.rotation.RotateSecret(ctx, secretName, newValue)
	s.recorder.Rotate(ctx, rc, secretName, err == nil, errMessage(err))
	return status, err
}

// CompleteRotation finalizes a grace-period rotation early.
func (s *Service) CompleteRotation(ctx context.Context, id Identity, rc audit.RequestContext, secretName string) (*secrets.RotationStatus, error) {
	ctx, span := s.tracer.Start(ctx, "configctl.CompleteRotation",
		trace.WithAttributes(attribute.String("secret.name", secretName)))
	defer span.End()

	rc = s.requestContext(id, rc)
	if err := s.ensureRoles(ctx, id); err != nil {
		return nil, err
	}
	if err := s.enforceGlobal(ctx, rc, rbac.PermissionRotate); err != nil {
		return nil, err
	}
	if s.rotation == nil {
		return nil, fmt.Errorf("secret rotation is not configured")
	}

	status, err := s.rotation.CompleteRotation(ctx, secretName)
	s.recorder.Rotate(ctx, rc, secretName, err == nil, errMessage(err))
	return status, err
}

// CancelRotation rolls back an in-flight rotation.
func (s *Service) CancelRotation(ctx context.Context, id Identity, rc audit.RequestContext, secretName string) (*secrets.RotationStatus, error) {
	ctx, span := s.tracer.Start(ctx, "configctl.CancelRotation",
		trace.WithAttributes(attribute.String("secret.name", secretName)))
	defer span.End()

	rc = s.requestContext(id, rc)
	if err := s.ensureRoles(ctx, id); err != nil {
		return nil, err
	}
	if err := s.enforceGlobal(ctx, rc, rbac.PermissionRotate); err != nil {
		return nil, err
	}
	if s.rotation == nil {
		return nil, fmt.Errorf("secret rotation is not configured")
	}

	status, err := s.rotation.CancelRotation(ctx, secretName)
	s.recorder.Rotate(ctx, rc, secretName, err == nil, errMessage(err))
	return status, err
}

// AccessSummary describes what the caller can see and do.
func (s *Service) AccessSummary(ctx context.Context, id Identity, rc audit.RequestContext) (*rbac.AccessSummary, error) {
	ctx, span := s.tracer.Start(ctx, "configctl.AccessSummary")
	defer span.End()

	rc = s.requestContext(id, rc)
	if err := s.ensureRoles(ctx, id); err != nil {
		return nil, err
	}
	return s.access.UserAccessSummary(ctx, rc.UserID, rc.Environment)
}

// AssignRole grants a role to another user. Admin only.
func (s *Service) AssignRole(ctx context.Context, id Identity, rc audit.RequestContext, targetUserID, roleName string) error {
	ctx, span := s.tracer.Start(ctx, "configctl.AssignRole",
		trace.WithAttributes(attribute.String("rbac.role", roleName)))
	defer span.End()

	rc = s.requestContext(id, rc)
	if err := s.ensureRoles(ctx, id); err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, rc, id, "role:"+roleName); err != nil {
		return err
	}
	if _, ok := s.registry.Get(roleName); !ok {
		return fmt.Errorf("unknown role %q", roleName)
	}

	err := s.assignments.Assign(ctx, targetUserID, roleName)
	s.recordRoleChange(ctx, rc, "role_assigned", targetUserID, roleName, err)
	if err != nil {
		return err
	}
	s.access.InvalidateUser(targetUserID)
	return nil
}

// RevokeRole removes a role from a user. Admin only.
func (s *Service) RevokeRole(ctx context.Context, id Identity, rc audit.RequestContext, targetUserID, roleName string) error {
	ctx, span := s.tracer.Start(ctx, "configctl.RevokeRole",
		trace.WithAttributes(attribute.String("rbac.role", roleName)))
	defer span.End()

	rc = s.requestContext(id, rc)
	if err := s.ensureRoles(ctx, id); err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, rc, id, "role:"+roleName); err != nil {
		return err
	}

	err := s.assignments.Revoke(ctx, targetUserID, roleName)
	s.recordRoleChange(ctx, rc, "role_revoked", targetUserID, roleName, err)
	if err != nil {
		return err
	}
	s.access.InvalidateUser(targetUserID)
	return nil
}

// CreateCustomRole registers a new role definition. Admin only. All
// cached decisions are dropped since inherited chains may change.
func (s *Service) CreateCustomRole(ctx context.Context, id Identity, rc audit.RequestContext, role *rbac.RoleDefinition) error {
	ctx, span := s.tracer.Start(ctx, "configctl.CreateCustomRole",
		trace.WithAttributes(attribute.String("rbac.role", role.Name)))
	defer span.End()

	rc = s.requestContext(id, rc)
	if err := s.ensureRoles(ctx, id); err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, rc, id, "role:"+role.Name); err != nil {
		return err
	}

	err := s.registry.Register(role)
	s.recordRoleChange(ctx, rc, "role_created", "", role.Name, err)
	if err != nil {
		return err
	}
	s.access.InvalidateAll()
	return nil
}

func (s *Service) allEntries() ([]rbac.Entry, error) {
	fields := s.settings.Fields()
	entries := make([]rbac.Entry, 0, len(fields))
	for _, name := range fields {
		value, err := s.settings.Get(name)
		if err != nil {
			return nil, err
		}
		entries = append(entries, rbac.Entry{Name: name, Value: value})
	}
	return entries, nil
}

// enforceGlobal checks a global permission, emitting one access_denied
// event on refusal.
func (s *Service) enforceGlobal(ctx context.Context, rc audit.RequestContext, required rbac.Permission) error {
	allowed, err := s.access.CheckGlobalPermission(ctx, rc.UserID, required)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}
	roles, rerr := s.assignments.Roles(ctx, rc.UserID)
	if rerr != nil {
		roles = nil
	}
	s.recorder.AccessDenied(ctx, rc, "", string(required), roles)
	return fmt.Errorf("user %s lacks global %s permission: %w", rc.UserID, required, rbac.ErrPermissionDenied)
}

// requireAdmin gates role management on the admin flags rather than a
// field permission.
func (s *Service) requireAdmin(ctx context.Context, rc audit.RequestContext, id Identity, subject string) error {
	if id.IsAdmin || id.IsSuperAdmin {
		return nil
	}
	roles, err := s.assignments.Roles(ctx, rc.UserID)
	if err != nil {
		roles = nil
	}
	s.recorder.AccessDenied(ctx, rc, subject, "role_management", roles)
	return fmt.Errorf("user %s may not manage roles: %w", rc.UserID, rbac.ErrPermissionDenied)
}

func (s *Service) recordRoleChange(ctx context.Context, rc audit.RequestContext, change, targetUserID, roleName string, opErr error) {
	severity := audit.SeverityWarning
	if opErr != nil {
		severity = audit.SeverityError
	}
	s.recorder.Record(ctx, &audit.Event{
		Action:       audit.ActionUpdate,
		UserID:       rc.UserID,
		UserEmail:    rc.UserEmail,
		FieldName:    "role:" + roleName,
		Environment:  rc.Environment,
		Severity:     severity,
		IPAddress:    rc.IPAddress,
		UserAgent:    rc.UserAgent,
		SessionID:    rc.SessionID,
		RequestID:    rc.RequestID,
		Success:      opErr == nil,
		ErrorMessage: errMessage(opErr),
		Metadata: map[string]interface{}{
			"change":      change,
			"target_user": targetUserID,
		},
	})
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsPermissionDenied reports whether err stems from an access refusal.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, rbac.ErrPermissionDenied)
}
