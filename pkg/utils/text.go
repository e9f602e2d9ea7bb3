package utils

import "unicode/utf8"

// Truncate shortens s to at most limit bytes plus an ellipsis, never splitting
// a multi-byte character.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	if limit < 0 {
		limit = 0
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "…"
}
