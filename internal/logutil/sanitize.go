package logutil

import "strings"

// SanitizeForLog flattens user-provided strings (file paths, language tags,
// client addresses) onto a single line so they cannot forge log entries.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 32 || r == 0x7f:
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SessionPrefix is the bracketed tag that starts every per-session log line.
func SessionPrefix(key string) string {
	return "[" + SanitizeForLog(key) + "]"
}
