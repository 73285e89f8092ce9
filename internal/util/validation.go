package util

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	return uuidRegex.MatchString(s)
}

// FoldKey trims and case-folds s for case-insensitive comparison.
func FoldKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// UniqueFolded keeps the first spelling of each case-insensitive value, in
// input order. Blank values are dropped.
func UniqueFolded(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := FoldKey(v)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(v))
	}
	return out
}

// NormalizeCode uppercases and trims a user-typed session code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
