package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/confgate/pkg/observability"
)

// Sink persists audit events. Implementations must be safe for concurrent
// use and must never interleave partial records.
type Sink interface {
	Log(ctx context.Context, event *Event) error
	Close() error
}

// Recorder is the write-side entry point the access-control and facade layers
// use. It builds events from request context and swallows sink failures,
// reporting them to the observability side channel only: audit persistence
// errors never propagate into the caller's request path.
type Recorder struct {
	sink    Sink
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRecorder creates a recorder over a sink. logger must not be nil;
// metrics may be.
func NewRecorder(sink Sink, logger *observability.Logger, metrics *observability.Metrics) *Recorder {
	return &Recorder{
		sink:    sink,
		logger:  logger.WithComponent("audit"),
		metrics: metrics,
	}
}

// Record persists one event, filling in ID and timestamp if unset.
func (r *Recorder) Record(ctx context.Context, event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := r.sink.Log(ctx, event); err != nil {
		if r.metrics != nil {
			r.metrics.AuditWriteErrorsTotal.Inc()
		}
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"action": string(event.Action),
			"field":  event.FieldName,
			"user":   event.UserID,
		}).Error("Failed to write audit event")
		return
	}
	if r.metrics != nil {
		r.metrics.AuditEventsTotal.WithLabelValues(string(event.Action), string(event.Severity)).Inc()
	}
}

func (r *Recorder) base(rc RequestContext, action Action, severity Severity, field string, success bool) *Event {
	return &Event{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Action:      action,
		UserID:      rc.UserID,
		UserEmail:   rc.UserEmail,
		FieldName:   field,
		Environment: rc.Environment,
		Severity:    severity,
		IPAddress:   rc.IPAddress,
		UserAgent:   rc.UserAgent,
		SessionID:   rc.SessionID,
		RequestID:   rc.RequestID,
		Success:     success,
	}
}

// Read records a configuration read attempt.
func (r *Recorder) Read(ctx context.Context, rc RequestContext, field string, success bool, errMessage string) {
	e := r.base(rc, ActionRead, SeverityInfo, field, success)
	e.ErrorMessage = errMessage
	r.Record(ctx, e)
}

// Write records a configuration write attempt with old and new values.
// Successful writes are Warning severity; failed ones are Error.
func (r *Recorder) Write(ctx context.Context, rc RequestContext, field string, oldValue, newValue interface{}, success bool, errMessage string) {
	severity := SeverityWarning
	if !success {
		severity = SeverityError
	}
	e := r.base(rc, ActionWrite, severity, field, success)
	e.OldValue = oldValue
	e.NewValue = newValue
	e.ErrorMessage = errMessage
	r.Record(ctx, e)
}

// Validate records a configuration validation run.
func (r *Recorder) Validate(ctx context.Context, rc RequestContext, success bool, metadata map[string]interface{}) {
	e := r.base(rc, ActionValidate, SeverityInfo, "", success)
	e.Metadata = metadata
	r.Record(ctx, e)
}

// Export records a configuration export.
func (r *Recorder) Export(ctx context.Context, rc RequestContext, includeSensitive bool, fieldCount int) {
	e := r.base(rc, ActionExport, SeverityInfo, "", true)
	e.Metadata = map[string]interface{}{
		"include_sensitive": includeSensitive,
		"field_count":       fieldCount,
	}
	r.Record(ctx, e)
}

// Rotate records a secret rotation attempt.
func (r *Recorder) Rotate(ctx context.Context, rc RequestContext, field string, success bool, errMessage string) {
	severity := SeverityWarning
	if !success {
		severity = SeverityError
	}
	e := r.base(rc, ActionRotate, severity, field, success)
	e.ErrorMessage = errMessage
	r.Record(ctx, e)
}

// Reload records a configuration reload (e.g. role file change).
func (r *Recorder) Reload(ctx context.Context, rc RequestContext, metadata map[string]interface{}) {
	e := r.base(rc, ActionReload, SeverityInfo, "", true)
	e.Metadata = metadata
	r.Record(ctx, e)
}

// AccessDenied records a refused access attempt. Always Critical.
func (r *Recorder) AccessDenied(ctx context.Context, rc RequestContext, field string, requiredPermission string, heldRoles []string) {
	e := r.base(rc, ActionAccessDenied, SeverityCritical, field, false)
	e.ErrorMessage = "access denied"
	e.Metadata = map[string]interface{}{
		"required_permission": requiredPermission,
		"user_roles":          heldRoles,
	}
	r.Record(ctx, e)
}
