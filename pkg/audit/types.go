package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Action represents the kind of configuration access an event records
type Action string

const (
	ActionRead         Action = "read"
	ActionWrite        Action = "write"
	ActionUpdate       Action = "update"
	ActionDelete       Action = "delete"
	ActionValidate     Action = "validate"
	ActionReload       Action = "reload"
	ActionExport       Action = "export"
	ActionRotate       Action = "rotate"
	ActionAccessDenied Action = "access_denied"
)

// Severity classifies how security-relevant an event is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// RequestContext carries the caller-side metadata attached to every audit
// event. The core operations take it explicitly; there is no ambient
// per-request singleton, so nothing can leak between requests.
type RequestContext struct {
	UserID      string
	UserEmail   string
	Environment string
	IPAddress   string
	UserAgent   string
	SessionID   string
	RequestID   string
}

// Event is one immutable audit record. Events are created at the moment of a
// configuration access attempt and persisted append-only. Sensitive values
// are masked at serialization time only; the in-memory event keeps the
// originals.
type Event struct {
	ID           string                 `json:"id,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	Action       Action                 `json:"action"`
	UserID       string                 `json:"user_id,omitempty"`
	UserEmail    string                 `json:"user_email,omitempty"`
	FieldName    string                 `json:"field_name,omitempty"`
	OldValue     interface{}            `json:"old_value,omitempty"`
	NewValue     interface{}            `json:"new_value,omitempty"`
	Environment  string                 `json:"environment,omitempty"`
	Severity     Severity               `json:"severity"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
	SessionID    string                 `json:"session_id,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// sensitiveTerms mark a field name as sensitive when it contains any of them,
// case-insensitively.
var sensitiveTerms = []string{
	"password", "secret", "key", "token", "credential",
	"private", "auth", "jwt", "api",
}

// IsSensitiveField reports whether a field name indicates secret material.
// Collaborators may pass context-dependent extra terms (e.g. "supabase").
func IsSensitiveField(name string, extraTerms ...string) bool {
	lower := strings.ToLower(name)
	for _, term := range sensitiveTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	for _, term := range extraTerms {
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// MaskValue renders a value safe for persistence. Values of eight characters
// or fewer become "***"; longer values keep only their first and last two
// characters. A nil value renders as "null" rather than panicking.
func MaskValue(value interface{}) string {
	if value == nil {
		return "null"
	}
	r := []rune(fmt.Sprintf("%v", value))
	if len(r) <= 8 {
		return "***"
	}
	return string(r[:2]) + "..." + string(r[len(r)-2:])
}

// eventAlias prevents MarshalJSON recursion.
type eventAlias Event

// MarshalJSON masks OldValue/NewValue when the field name is sensitive, and
// masks metadata entries stored under sensitive keys. The source system left
// metadata unmasked; scanning it here is a deliberate tightening.
func (e *Event) MarshalJSON() ([]byte, error) {
	out := eventAlias(*e)
	if IsSensitiveField(e.FieldName) {
		if e.OldValue != nil {
			out.OldValue = MaskValue(e.OldValue)
		}
		if e.NewValue != nil {
			out.NewValue = MaskValue(e.NewValue)
		}
	}
	if len(e.Metadata) > 0 {
		masked := make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			if IsSensitiveField(k) {
				masked[k] = MaskValue(v)
			} else {
				masked[k] = v
			}
		}
		out.Metadata = masked
	}
	return json.Marshal(out)
}

// Filter narrows Query results. Zero values mean "no constraint".
type Filter struct {
	UserID    string
	Action    Action
	FieldName string
	Severity  Severity
}

func (f Filter) matches(e *Event) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.FieldName != "" && e.FieldName != f.FieldName {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	return true
}

// Summary aggregates events over a time range
type Summary struct {
	Total                int               `json:"total"`
	ByAction             map[Action]int    `json:"by_action"`
	BySeverity           map[Severity]int  `json:"by_severity"`
	ByUser               map[string]int    `json:"by_user"`
	FailedCount          int               `json:"failed_count"`
	SensitiveAccessCount int               `json:"sensitive_access_count"`
	UniqueUserCount      int               `json:"unique_user_count"`
}

// Summarize aggregates a slice of events.
func Summarize(events []*Event) *Summary {
	s := &Summary{
		ByAction:   make(map[Action]int),
		BySeverity: make(map[Severity]int),
		ByUser:     make(map[string]int),
	}
	for _, e := range events {
		s.Total++
		s.ByAction[e.Action]++
		s.BySeverity[e.Severity]++
		if e.UserID != "" {
			s.ByUser[e.UserID]++
		}
		if !e.Success {
			s.FailedCount++
		}
		if IsSensitiveField(e.FieldName) {
			s.SensitiveAccessCount++
		}
	}
	s.UniqueUserCount = len(s.ByUser)
	return s
}
