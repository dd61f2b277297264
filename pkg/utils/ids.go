package utils

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// GenID returns a new random identifier for threads, messages and alerts.
func GenID() string {
	return uuid.NewString()
}

// TruncateRunes shortens s to at most n runes, appending an ellipsis when
// anything was cut. Safe on multi-byte input.
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])) + "…"
}
