package domain

import "unicode/utf8"

// Truncate shortens s to at most max bytes without splitting a UTF-8
// sequence and marks the cut with "...". Text stored in Postgres must stay
// valid UTF-8.
func Truncate(s string, max int) string {
	if max < 0 {
		max = 0
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
