package validators

import (
	"strings"
	"unicode"
)

// SanitizeString trims, drops control characters and caps the result at
// maxLen runes. Free text from operators ends up in audit rows and
// notification variables.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, strings.TrimSpace(input))

	if maxLen > 0 {
		if runes := []rune(cleaned); len(runes) > maxLen {
			cleaned = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return cleaned
}
