package rbac

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePrefixPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		field   string
		want    bool
	}{
		{"wildcard matches everything", `.*`, "anything_at_all", true},
		{"wildcard matches empty", `.*`, "", true},
		{"prefix match without full match", `log`, "log_level", true},
		{"caret prefix is equivalent", `^log`, "log_level", true},
		{"no match mid-string", `level`, "log_level", false},
		{"anchored alternation", `^(app_name|debug)$`, "app_name", true},
		{"anchored alternation rejects superstring", `^(app_name|debug)$`, "app_name_extra", false},
		{"dollar anchors still honored", `^debug$`, "debug", true},
		{"dollar anchors reject prefix-only", `^debug$`, "debug_mode", false},
		{"case-insensitive flag", `(?i)SECRET`, "secret_key", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re, err := compilePrefixPattern(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, re.MatchString(tt.field))
		})
	}
}

func TestCompilePrefixPatternRejectsInvalid(t *testing.T) {
	_, err := compilePrefixPattern(`(`)
	assert.Error(t, err)

	_, err = compilePrefixPattern("")
	assert.Error(t, err)
}

func TestMatchFieldExcludeVetoes(t *testing.T) {
	include, err := compilePrefixPattern(`.*`)
	require.NoError(t, err)
	// Exclusions search anywhere in the name, unlike the anchored include.
	exclude := regexp.MustCompile(`(?i)(password|secret)`)

	assert.True(t, MatchField(include, nil, "database_password"))
	assert.False(t, MatchField(include, exclude, "database_password"))
	assert.True(t, MatchField(include, exclude, "app_name"))
	assert.False(t, MatchField(nil, nil, "app_name"))
}

func TestMatchPattern(t *testing.T) {
	ok, err := MatchPattern(`^log_.*`, "log_level", "production", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = MatchPattern(`.*`, "anything", "production", []string{"development", "test"})
	require.NoError(t, err)
	assert.False(t, ok, "environment-scoped rule must not apply elsewhere")

	ok, err = MatchPattern(`.*`, "anything", "test", []string{"development", "test"})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = MatchPattern(`(`, "x", "", nil)
	assert.Error(t, err)
}
