package reconcile

import (
	"strings"
	"unicode"
)

// NormalizeText reduces a message body to a comparison key: lower-cased,
// punctuation and symbols stripped, runs of whitespace collapsed to a
// single space. "Hi!" and "hi" normalize identically.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}
