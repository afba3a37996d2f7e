package validators

import (
	"strings"
	"unicode/utf8"
)

// SanitizeString trims surrounding whitespace, drops invalid UTF-8 and caps
// the result at maxLen characters, the same unit the `max` tag counts in.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(strings.ToValidUTF8(input, ""))
	if maxLen <= 0 || utf8.RuneCountInString(trimmed) <= maxLen {
		return trimmed
	}
	runes := 0
	for i := range trimmed {
		if runes == maxLen {
			return strings.TrimSpace(trimmed[:i])
		}
		runes++
	}
	return trimmed
}
