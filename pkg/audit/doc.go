// Package audit provides tamper-evident, append-only audit logging for every
// configuration access attempt, granted or denied.
//
// # Event Model
//
// One Event per attempt: action (read, write, validate, export, rotate,
// reload, access_denied), actor, field name, environment, request context,
// outcome. Events are immutable; sensitive old/new values are masked only at
// serialization time (values of 8 characters or fewer become "***", longer
// ones keep their first and last two characters).
//
// # Sinks
//
// FileLog is the canonical sink: one JSON object per line in
// audit-YYYY-MM-DD.jsonl, size-rotated to timestamp-suffixed archives and
// pruned past the retention window. DBLog mirrors events into SQL for ad-hoc
// queries; MultiLog fans out to both.
//
// # Write Path
//
// Use Recorder, not the sinks directly. Recorder swallows sink failures and
// reports them on the observability side channel so audit persistence
// problems never surface into a caller's request path.
//
//	recorder := audit.NewRecorder(fileLog, logger, metrics)
//	recorder.Read(ctx, rc, "app_name", true, "")
//	recorder.AccessDenied(ctx, rc, "jwt_secret", "read", roles)
//
// # Queries
//
// FileLog.Query scans the day-partitioned files in a time range with optional
// user/action/field/severity filters; Summarize aggregates counts.
// Handlers expose /audit/events, /audit/summary and /audit/export over HTTP,
// guarded by the audit_view and audit_export permissions.
package audit
