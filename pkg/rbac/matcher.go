package rbac

import (
	"fmt"
	"regexp"
	"strings"
)

// compilePrefixPattern compiles a field pattern with match-from-start
// semantics: the pattern matches a field name if it matches some prefix of it,
// starting at position zero. Go's regexp searches anywhere in the input, so
// the pattern is wrapped in \A(?:...) to pin it to the start without forcing
// a full-string match. Existing role patterns (including plain ".*" and the
// anchored "^..." forms) behave identically under the wrap.
func compilePrefixPattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty field pattern")
	}
	wrapped := `\A(?:` + strings.TrimPrefix(pattern, "^") + `)`
	re, err := regexp.Compile(wrapped)
	if err != nil {
		return nil, fmt.Errorf("invalid field pattern %q: %w", pattern, err)
	}
	return re, nil
}

// MatchField evaluates the compiled pattern pair against a field name.
// The include pattern uses prefix semantics; the exclude pattern, when
// present, is an unanchored search and a hit vetoes the match.
func MatchField(include, exclude *regexp.Regexp, fieldName string) bool {
	if include == nil || !include.MatchString(fieldName) {
		return false
	}
	if exclude != nil && exclude.MatchString(fieldName) {
		return false
	}
	return true
}

// MatchPattern is the one-shot form of MatchField for callers that hold raw
// pattern strings. Compilation errors report the malformed pattern; callers
// registering roles should prefer Registry.Register, which compiles once.
func MatchPattern(pattern, fieldName, environment string, ruleEnvironments []string) (bool, error) {
	re, err := compilePrefixPattern(pattern)
	if err != nil {
		return false, err
	}
	if !re.MatchString(fieldName) {
		return false, nil
	}
	if len(ruleEnvironments) == 0 {
		return true, nil
	}
	for _, env := range ruleEnvironments {
		if env == environment {
			return true, nil
		}
	}
	return false, nil
}
