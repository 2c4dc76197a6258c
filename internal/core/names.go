package core

import (
	"regexp"
	"strings"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-@\s]+$`)

// ValidName reports whether name is non-empty after trimming and uses only
// letters, digits, whitespace, '_', '-' and '@'.
func ValidName(name string) bool {
	trimmed := strings.TrimSpace(name)
	return trimmed != "" && namePattern.MatchString(trimmed)
}

// ValidateKey reports whether key is acceptable as an experiment tracking key.
func ValidateKey(key string) bool {
	return ValidName(key)
}

// NormalizeKey trims and lowercases key, rejecting keys ValidateKey refuses.
func NormalizeKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if !ValidName(trimmed) {
		return "", invalidf("key %q must match %s", key, namePattern.String())
	}
	return strings.ToLower(trimmed), nil
}

func normalizeVariationName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if !ValidName(trimmed) {
		return "", invalidf("variation name %q must match %s", name, namePattern.String())
	}
	return trimmed, nil
}
