// Package strings holds slice helpers for string-like values.
package strings

import (
	"strings"
)

// Fold trims, lowercases and deduplicates values, dropping blanks. The first
// occurrence wins, so order is preserved.
func Fold[S ~string](values []S) []S {
	return dedupe(values, func(v string) string {
		return strings.ToLower(strings.TrimSpace(v))
	})
}

// Compact trims and deduplicates values without changing case.
func Compact[S ~string](values []S) []S {
	return dedupe(values, strings.TrimSpace)
}

func dedupe[S ~string](values []S, norm func(string) string) []S {
	if len(values) == 0 {
		return values
	}
	seen := make(map[S]struct{}, len(values))
	out := make([]S, 0, len(values))
	for _, v := range values {
		n := S(norm(string(v)))
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
