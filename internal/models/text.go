package models

import (
	"strings"
	"unicode/utf8"
)

// TruncateText cuts s to at most max bytes without splitting a rune and
// drops any invalid UTF-8 it already carried.
func TruncateText(s string, max int) string {
	s = strings.ToValidUTF8(s, "")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
