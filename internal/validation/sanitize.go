package validation

import (
	"strings"
	"unicode/utf8"
)

// SanitizeText trims s, truncates it to maxLen characters and strips control
// characters other than tab, newline and carriage return.
func SanitizeText(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if maxLen >= 0 && utf8.RuneCountInString(s) > maxLen {
		s = string([]rune(s)[:maxLen])
	}
	return strings.Map(func(r rune) rune {
		if isStrippedControl(r) {
			return -1
		}
		return r
	}, s)
}

// SanitizeUserID keeps only [A-Za-z0-9_-] and truncates to MaxUserIDLength.
func SanitizeUserID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for i := 0; i < len(id) && b.Len() < MaxUserIDLength; i++ {
		if isIDByte(id[i]) {
			b.WriteByte(id[i])
		}
	}
	return b.String()
}

func isStrippedControl(r rune) bool {
	switch {
	case r == '\t' || r == '\n' || r == '\r':
		return false
	case r <= 0x1F, r == 0x7F:
		return true
	}
	return false
}
