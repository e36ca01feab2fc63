package common

import (
	"regexp"
	"strings"
)

// MatchRegex compiles and matches a regex pattern against a string.
// Returns an error if the pattern is invalid.
func MatchRegex(pattern, text string) (bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(text), nil
}

// MatchDescription reports whether a transaction description matches a
// rule pattern. Plain patterns are case-insensitive substring matches;
// patterns prefixed with "re:" are treated as regular expressions.
func MatchDescription(pattern, description string) (bool, error) {
	if pattern == "" {
		return true, nil
	}
	if expr, ok := strings.CutPrefix(pattern, "re:"); ok {
		return MatchRegex("(?i)"+expr, description)
	}
	return strings.Contains(strings.ToLower(description), strings.ToLower(pattern)), nil
}
