package validate

import (
	"strings"
	"unicode/utf8"
)

const MaxStringLength = 1000

// Sanitize drops control characters other than tab, newline and carriage
// return, truncates to max runes (MaxStringLength when max <= 0) and trims.
func Sanitize(s string, max int) string {
	if max <= 0 || max > MaxStringLength {
		max = MaxStringLength
	}
	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		if r == utf8.RuneError {
			continue
		}
		if n == max {
			break
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}

func hasControl(s string) bool {
	for _, r := range s {
		if r < 32 || r == 0x7f {
			return true
		}
	}
	return false
}
