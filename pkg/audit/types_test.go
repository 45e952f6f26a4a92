package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskValue(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"nil value", nil, "null"},
		{"empty string", "", "***"},
		{"short value", "abc", "***"},
		{"exactly eight chars", "12345678", "***"},
		{"nine chars keeps edges", "123456789", "12...89"},
		{"long secret", "super-secret-password-value", "su...ue"},
		{"non-string value", 1234567890, "12...90"},
		{"short int", 42, "***"},
		{"multibyte edges keep whole runes", "ありがとうございました", "あり...した"},
		{"multibyte but short", "ありがとう", "***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskValue(tt.value))
		})
	}
}

func TestIsSensitiveField(t *testing.T) {
	sensitive := []string{
		"database_password",
		"SECRET_KEY",
		"jwt_secret",
		"api_key",
		"oauth_token",
		"aws_credentials",
		"private_key_path",
		"auth_header",
	}
	for _, name := range sensitive {
		assert.True(t, IsSensitiveField(name), "expected %q to be sensitive", name)
	}

	benign := []string{"app_name", "log_level", "frontend_url", "debug", "port"}
	for _, name := range benign {
		assert.False(t, IsSensitiveField(name), "expected %q to be benign", name)
	}

	assert.True(t, IsSensitiveField("supabase_url", "supabase"))
	assert.False(t, IsSensitiveField("supabase_url"))
}

func TestEventMarshalMasksSensitiveValues(t *testing.T) {
	event := &Event{
		Action:    ActionWrite,
		FieldName: "jwt_secret",
		OldValue:  "old-jwt-secret-value",
		NewValue:  "new-jwt-secret-value",
		Severity:  SeverityWarning,
		Success:   true,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "ol...ue", decoded["old_value"])
	assert.Equal(t, "ne...ue", decoded["new_value"])

	// The in-memory event keeps the originals.
	assert.Equal(t, "old-jwt-secret-value", event.OldValue)
	assert.Equal(t, "new-jwt-secret-value", event.NewValue)
}

func TestEventMarshalLeavesBenignValues(t *testing.T) {
	event := &Event{
		Action:    ActionWrite,
		FieldName: "log_level",
		OldValue:  "info",
		NewValue:  "debug",
		Severity:  SeverityWarning,
		Success:   true,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "info", decoded["old_value"])
	assert.Equal(t, "debug", decoded["new_value"])
}

func TestEventMarshalMasksSensitiveMetadataKeys(t *testing.T) {
	event := &Event{
		Action:   ActionRotate,
		Severity: SeverityWarning,
		Metadata: map[string]interface{}{
			"new_token":  "a-very-long-token-value",
			"field_count": 3,
		},
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded struct {
		Metadata map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "a-...ue", decoded.Metadata["new_token"])
	assert.EqualValues(t, 3, decoded.Metadata["field_count"])
}

func TestFilterMatches(t *testing.T) {
	event := &Event{
		UserID:    "u1",
		Action:    ActionRead,
		FieldName: "app_name",
		Severity:  SeverityInfo,
	}

	assert.True(t, Filter{}.matches(event))
	assert.True(t, Filter{UserID: "u1", Action: ActionRead}.matches(event))
	assert.False(t, Filter{UserID: "u2"}.matches(event))
	assert.False(t, Filter{Action: ActionWrite}.matches(event))
	assert.False(t, Filter{FieldName: "other"}.matches(event))
	assert.False(t, Filter{Severity: SeverityCritical}.matches(event))
}

func TestSummarize(t *testing.T) {
	events := []*Event{
		{UserID: "u1", Action: ActionRead, Severity: SeverityInfo, Success: true, FieldName: "app_name"},
		{UserID: "u1", Action: ActionWrite, Severity: SeverityWarning, Success: true, FieldName: "jwt_secret"},
		{UserID: "u2", Action: ActionAccessDenied, Severity: SeverityCritical, Success: false, FieldName: "secret_key"},
	}

	s := Summarize(events)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.ByAction[ActionRead])
	assert.Equal(t, 1, s.ByAction[ActionWrite])
	assert.Equal(t, 1, s.BySeverity[SeverityCritical])
	assert.Equal(t, 1, s.FailedCount)
	assert.Equal(t, 2, s.SensitiveAccessCount)
	assert.Equal(t, 2, s.UniqueUserCount)
}
