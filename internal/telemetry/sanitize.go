package telemetry

import (
	"strings"
	"unicode"
)

// MaxStringLen caps every sanitized string field, counted in runes.
const MaxStringLen = 256

// Sanitize strips Unicode control and format characters (newlines, tabs,
// zero-width characters), trims surrounding whitespace, and silently truncates
// to MaxStringLen runes. Pure; safe for log lines and outbound payloads.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			continue
		}
		b.WriteRune(r)
	}

	cleaned := strings.TrimSpace(b.String())
	runes := []rune(cleaned)
	if len(runes) > MaxStringLen {
		return string(runes[:MaxStringLen])
	}
	return cleaned
}
