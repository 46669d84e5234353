package core

import (
	"strings"
	"unicode/utf8"
)

// TruncateText replaces invalid UTF-8 sequences and cuts value to at most
// limit bytes without splitting a rune. A non-positive limit only sanitizes.
func TruncateText(value string, limit int) string {
	value = strings.ToValidUTF8(value, "�")
	if limit <= 0 || len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
